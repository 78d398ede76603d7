// Package guard is the delayed-allowlist engine. It owns the account
// state store and exposes the self-service setters, the pre and post
// execution hooks, and the read-only preview.
package guard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/activation"
	"github.com/ppiankov/delayguard/internal/calldata"
	"github.com/ppiankov/delayguard/internal/cosigner"
	"github.com/ppiankov/delayguard/internal/event"
	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/integrity"
	"github.com/ppiankov/delayguard/internal/model"
	"github.com/ppiankov/delayguard/internal/policy"
	"github.com/ppiankov/delayguard/internal/safe"
	"github.com/ppiankov/delayguard/internal/sigcheck"
	"github.com/ppiankov/delayguard/internal/store"
)

// DefaultDelay is the activation delay of an installed engine.
const DefaultDelay = 24 * time.Hour

// Config configures an Engine.
type Config struct {
	// Self is this engine's address as installed on accounts.
	Self  common.Address
	Delay time.Duration
	// Strategy decides what "fully installed" means. Defaults to DualGuard.
	Strategy           integrity.Strategy
	StrictGuardRemoval bool
	Limits             calldata.Limits
	Verifier           sigcheck.Verifier
	Clock              func() time.Time
	Bus                *event.Bus
	Logger             *slog.Logger
}

// Engine guards accounts against transactions they have not allowlisted.
type Engine struct {
	cfg       Config
	store     store.Store
	validator *policy.Validator
	fastPath  *cosigner.FastPath
	monitor   *integrity.Monitor
}

// New creates an Engine over s.
func New(s store.Store, cfg Config) *Engine {
	if cfg.Strategy == nil {
		cfg.Strategy = integrity.DualGuard{}
	}
	if cfg.Limits == (calldata.Limits{}) {
		cfg.Limits = calldata.DefaultLimits()
	}
	if cfg.Verifier == nil {
		cfg.Verifier = sigcheck.ECDSA{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Bus == nil {
		cfg.Bus = event.NewBus()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		cfg:   cfg,
		store: s,
		validator: policy.NewValidator(policy.Config{
			Self:               cfg.Self,
			StrictGuardRemoval: cfg.StrictGuardRemoval,
			Limits:             cfg.Limits,
		}),
		fastPath: cosigner.New(cfg.Verifier),
		monitor:  integrity.NewMonitor(cfg.Strategy, cfg.Self),
	}
}

// Self returns the engine address.
func (e *Engine) Self() common.Address { return e.cfg.Self }

// Delay returns the activation delay.
func (e *Engine) Delay() time.Duration { return e.cfg.Delay }

// Strategy returns the installation strategy.
func (e *Engine) Strategy() integrity.Strategy { return e.cfg.Strategy }

// Limits returns the decoding caps.
func (e *Engine) Limits() calldata.Limits { return e.cfg.Limits }

// Bus returns the bus events are published on.
func (e *Engine) Bus() *event.Bus { return e.cfg.Bus }

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Now returns the engine clock as a unix timestamp.
func (e *Engine) Now() uint64 { return e.now() }

func (e *Engine) now() uint64 {
	return activation.Unix(e.cfg.Clock())
}

// FullyInstalled reports whether acct currently designates this engine as
// required by the installation strategy.
func (e *Engine) FullyInstalled(ctx context.Context, acct safe.Account) (bool, error) {
	return integrity.FullyInstalled(ctx, e.cfg.Strategy, acct, e.cfg.Self)
}

func (e *Engine) activeFrom(ctx context.Context, acct safe.Account, reset bool, now uint64) (uint64, error) {
	if reset {
		return 0, nil
	}
	installed, err := e.FullyInstalled(ctx, acct)
	if err != nil {
		return 0, fmt.Errorf("check installation: %w", err)
	}
	return activation.ActiveFrom(installed, false, now, e.cfg.Delay), nil
}

// SetAllowedTx sets the allowlist entry of (target, selector, op) for the
// calling account and returns its new activation timestamp.
func (e *Engine) SetAllowedTx(ctx context.Context, acct safe.Account, target common.Address, selector model.Selector, op model.Operation, reset bool) (uint64, error) {
	if !op.Valid() {
		return 0, fmt.Errorf("%w: operation %d out of range", model.ErrMalformedCalldata, uint8(op))
	}
	now := e.now()
	activeFrom, err := e.activeFrom(ctx, acct, reset, now)
	if err != nil {
		return 0, err
	}
	account := acct.Address()
	id := ident.CallID(target, selector, op)
	if err := e.store.Update(ctx, func(w store.Writer) error {
		return w.SetAllowedTx(ctx, account, id, activeFrom)
	}); err != nil {
		return 0, fmt.Errorf("set allowed tx: %w", err)
	}

	e.cfg.Bus.Publish(ctx, model.Event{
		Kind:       model.EventTxAllowed,
		Account:    account,
		Source:     model.SourceConfig,
		ActiveFrom: activeFrom,
		TxID:       id,
		Target:     target,
		Selector:   selector,
		Operation:  op,
	})
	return activeFrom, nil
}

// SetCosigner registers cosigner for the calling account, replacing any
// previous one.
func (e *Engine) SetCosigner(ctx context.Context, acct safe.Account, cosigner common.Address, reset bool) (uint64, error) {
	now := e.now()
	activeFrom, err := e.activeFrom(ctx, acct, reset, now)
	if err != nil {
		return 0, err
	}
	account := acct.Address()
	rec := model.CosignerRecord{ActiveFrom: activeFrom, Cosigner: cosigner}
	if err := e.store.Update(ctx, func(w store.Writer) error {
		return w.SetCosigner(ctx, account, rec)
	}); err != nil {
		return 0, fmt.Errorf("set cosigner: %w", err)
	}

	e.cfg.Bus.Publish(ctx, model.Event{
		Kind:       model.EventCosignerSet,
		Account:    account,
		Source:     model.SourceConfig,
		ActiveFrom: activeFrom,
		Cosigner:   cosigner,
	})
	return activeFrom, nil
}

// SetAllowedTokenTransfer sets the transfer ceiling of (token, recipient)
// for the calling account. A reset zeroes the timestamp but keeps a
// nonzero amount, so the entry keeps matching transfers and denies them
// instead of letting them fall through to the general allowlist. A reset
// with a zero amount keeps the previously stored amount.
func (e *Engine) SetAllowedTokenTransfer(ctx context.Context, acct safe.Account, token, recipient common.Address, amount *big.Int, reset bool) (uint64, error) {
	if amount != nil && amount.Sign() < 0 {
		return 0, fmt.Errorf("negative amount %s", amount)
	}
	now := e.now()
	activeFrom, err := e.activeFrom(ctx, acct, reset, now)
	if err != nil {
		return 0, err
	}
	allowance := model.TokenAllowance{ActiveFrom: activeFrom, Amount: new(big.Int).Set(model.BigOrZero(amount))}
	account := acct.Address()
	if err := e.store.Update(ctx, func(w store.Writer) error {
		if reset && allowance.Amount.Sign() == 0 {
			prev, err := w.TokenAllowance(ctx, account, token, recipient)
			if err != nil {
				return err
			}
			allowance.Amount = model.BigOrZero(prev.Amount)
		}
		return w.SetTokenAllowance(ctx, account, token, recipient, allowance)
	}); err != nil {
		return 0, fmt.Errorf("set token allowance: %w", err)
	}

	e.cfg.Bus.Publish(ctx, model.Event{
		Kind:       model.EventTokenTransferAllowed,
		Account:    account,
		Source:     model.SourceConfig,
		ActiveFrom: activeFrom,
		Token:      token,
		Recipient:  recipient,
		Amount:     new(big.Int).Set(allowance.Amount),
	})
	return activeFrom, nil
}

// ScheduleGuardRemoval opens the removal window for the calling account
// one delay from now. The engine must be fully installed.
func (e *Engine) ScheduleGuardRemoval(ctx context.Context, acct safe.Account) (uint64, error) {
	installed, err := e.FullyInstalled(ctx, acct)
	if err != nil {
		return 0, fmt.Errorf("check installation: %w", err)
	}
	if !installed {
		return 0, model.ErrNotInstalled
	}
	account := acct.Address()
	ts := e.now() + activation.Seconds(e.cfg.Delay)
	if err := e.store.Update(ctx, func(w store.Writer) error {
		return w.SetRemovalSchedule(ctx, account, ts)
	}); err != nil {
		return 0, fmt.Errorf("schedule guard removal: %w", err)
	}

	e.cfg.Bus.Publish(ctx, model.Event{
		Kind:       model.EventGuardRemovalScheduled,
		Account:    account,
		Source:     model.SourceConfig,
		ActiveFrom: ts,
	})
	return ts, nil
}

// denied publishes a denial event for err and returns err.
func (e *Engine) denied(ctx context.Context, account common.Address, hook string, call model.Call, err error) error {
	ev := model.Event{
		Kind:      model.EventDenied,
		Account:   account,
		Source:    model.SourceHook,
		Target:    call.To,
		Operation: call.Operation,
		Reason:    model.Reason(err),
		Detail:    err.Error(),
	}
	var de *model.DenyError
	if errors.As(err, &de) {
		ev.Target = de.Call.To
		ev.Operation = de.Call.Operation
		call = de.Call
	}
	if sel, serr := ident.SelectorOf(call.Data); serr == nil {
		ev.Selector = sel
	} else if len(call.Data) > 0 {
		copy(ev.Selector[:], call.Data)
	}
	e.cfg.Logger.Warn("transaction denied",
		"hook", hook,
		"account", account.Hex(),
		"target", ev.Target.Hex(),
		"selector", ev.Selector.String(),
		"reason", ev.Reason,
		"error", err,
	)
	e.cfg.Bus.Publish(ctx, ev)
	return err
}
