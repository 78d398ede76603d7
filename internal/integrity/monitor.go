package integrity

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/model"
)

// Schedule is the pending-removal state consumed by the monitor.
type Schedule interface {
	RemovalSchedule(ctx context.Context, account common.Address) (uint64, error)
	SetRemovalSchedule(ctx context.Context, account common.Address, ts uint64) error
}

// Monitor runs after every execution and fails on configurations the
// engine did not agree to.
type Monitor struct {
	strategy Strategy
	self     common.Address
}

// NewMonitor creates a Monitor for the engine at self.
func NewMonitor(strategy Strategy, self common.Address) *Monitor {
	if strategy == nil {
		strategy = DualGuard{}
	}
	return &Monitor{strategy: strategy, self: self}
}

// Strategy returns the installation strategy in use.
func (m *Monitor) Strategy() Strategy { return m.strategy }

// Check inspects the configuration of account after execution.
//
//   - installed: nothing to do.
//   - removed: requires a matured schedule, which is then cleared.
//     removed is true in that case.
//   - partial: ErrImproperGuardSetup.
func (m *Monitor) Check(ctx context.Context, account common.Address, acct GuardReader, s Schedule, now uint64) (removed bool, err error) {
	st, err := m.strategy.Inspect(ctx, acct, m.self)
	if err != nil {
		return false, err
	}

	switch st {
	case StatusInstalled:
		return false, nil
	case StatusRemoved:
		scheduled, err := s.RemovalSchedule(ctx, account)
		if err != nil {
			return false, fmt.Errorf("read removal schedule: %w", err)
		}
		if !model.IsActive(scheduled, now) {
			return false, model.ErrInvalidTimestamp
		}
		if err := s.SetRemovalSchedule(ctx, account, 0); err != nil {
			return false, fmt.Errorf("clear removal schedule: %w", err)
		}
		return true, nil
	default:
		return false, model.ErrImproperGuardSetup
	}
}
