// Package integrity checks that the account's guard configuration still
// designates this engine, and decides when a removal is legitimate.
package integrity

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// GuardReader reads the account's raw guard configuration.
type GuardReader interface {
	Guard(ctx context.Context) (common.Address, error)
	ModuleGuard(ctx context.Context) (common.Address, error)
}

// Status classifies the account's guard configuration relative to the
// engine.
type Status int

const (
	// StatusInstalled: every guard slot the strategy requires is the engine.
	StatusInstalled Status = iota
	// StatusRemoved: no guard slot is the engine.
	StatusRemoved
	// StatusPartial: some but not all required slots are the engine.
	StatusPartial
)

func (s Status) String() string {
	switch s {
	case StatusInstalled:
		return "installed"
	case StatusRemoved:
		return "removed"
	case StatusPartial:
		return "partial"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Strategy decides what "installed" means for an account.
type Strategy interface {
	Name() string
	Inspect(ctx context.Context, acct GuardReader, self common.Address) (Status, error)
}

// FullyInstalled reports whether acct currently designates self as
// required by s.
func FullyInstalled(ctx context.Context, s Strategy, acct GuardReader, self common.Address) (bool, error) {
	st, err := s.Inspect(ctx, acct, self)
	if err != nil {
		return false, err
	}
	return st == StatusInstalled, nil
}

// DualGuard requires the engine as both transaction guard and module guard.
type DualGuard struct{}

func (DualGuard) Name() string { return "dual" }

func (DualGuard) Inspect(ctx context.Context, acct GuardReader, self common.Address) (Status, error) {
	guard, err := acct.Guard(ctx)
	if err != nil {
		return 0, fmt.Errorf("read guard: %w", err)
	}
	moduleGuard, err := acct.ModuleGuard(ctx)
	if err != nil {
		return 0, fmt.Errorf("read module guard: %w", err)
	}
	isGuard := guard == self
	isModuleGuard := moduleGuard == self
	switch {
	case isGuard && isModuleGuard:
		return StatusInstalled, nil
	case !isGuard && !isModuleGuard:
		return StatusRemoved, nil
	default:
		return StatusPartial, nil
	}
}

// SingleGuard only looks at the transaction guard. Accounts without
// module guard support use it.
type SingleGuard struct{}

func (SingleGuard) Name() string { return "single" }

func (SingleGuard) Inspect(ctx context.Context, acct GuardReader, self common.Address) (Status, error) {
	guard, err := acct.Guard(ctx)
	if err != nil {
		return 0, fmt.Errorf("read guard: %w", err)
	}
	if guard == self {
		return StatusInstalled, nil
	}
	return StatusRemoved, nil
}

// ParseStrategy maps a config value to a Strategy. Empty means dual.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "dual":
		return DualGuard{}, nil
	case "single":
		return SingleGuard{}, nil
	default:
		return nil, fmt.Errorf("unknown installation strategy %q (want dual or single)", name)
	}
}
