// Package policy decides whether a single call may execute for an account.
// Evaluation never writes state; the same function backs both the
// pre-execution hook and the read-only preview.
package policy

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/calldata"
	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/model"
	"github.com/ppiankov/delayguard/internal/store"
)

// Config fixes the engine-specific inputs to evaluation.
type Config struct {
	// Self is the engine's own address; calls to it with a
	// self-management selector are always allowed.
	Self common.Address
	// StrictGuardRemoval additionally requires the guard-setter argument
	// to be the zero address before a removal call is allowed.
	StrictGuardRemoval bool
	Limits             calldata.Limits
}

// Validator evaluates calls against an account's allowlist.
type Validator struct {
	cfg Config
}

// NewValidator creates a Validator. Zero limits fall back to defaults.
func NewValidator(cfg Config) *Validator {
	if cfg.Limits == (calldata.Limits{}) {
		cfg.Limits = calldata.DefaultLimits()
	}
	return &Validator{cfg: cfg}
}

// Config returns the validator configuration.
func (v *Validator) Config() Config { return v.cfg }

// Evaluate returns nil when call is allowed for account at now. A denial
// is a *model.DenyError wrapping one of the model error kinds and naming
// the first failing (sub-)call. Store failures are returned as-is and
// must be treated as a denial by the caller.
//
// Evaluation order (first match wins):
//  1. Self-management call to the engine
//  2. Guard removal after a matured schedule
//  3. ERC-20 transfer with a configured allowance
//  4. General allowlist entry, recursing into multiSend batches
//  5. Default deny (FirstTimeTx)
func (v *Validator) Evaluate(ctx context.Context, r store.Reader, account common.Address, call model.Call, now uint64) error {
	if max := v.cfg.Limits.MaxPayloadBytes; max > 0 && len(call.Data) > max {
		return model.Deny(model.ErrPayloadTooLarge, call, 0)
	}
	return v.evaluate(ctx, r, account, call, now, 0)
}

func (v *Validator) evaluate(ctx context.Context, r store.Reader, account common.Address, call model.Call, now uint64, depth int) error {
	selector, err := ident.SelectorOf(call.Data)
	if err != nil {
		return model.Deny(err, call, depth)
	}

	// Step 1: Self-management
	if call.To == v.cfg.Self && call.Operation == model.OpCall && ident.IsSelfManagement(selector) {
		return nil
	}

	// Step 2: Guard removal
	allowed, err := v.removalAllowed(ctx, r, account, call, selector, now)
	if err != nil {
		return model.Deny(err, call, depth)
	}
	if allowed {
		return nil
	}

	// Step 3: Token transfer
	transfer, ok, err := calldata.ParseTransfer(call)
	if err != nil {
		return model.Deny(err, call, depth)
	}
	if ok {
		allowance, err := r.TokenAllowance(ctx, account, transfer.Token, transfer.Recipient)
		if err != nil {
			return fmt.Errorf("read token allowance: %w", err)
		}
		if allowance.Configured() {
			if !model.IsActive(allowance.ActiveFrom, now) {
				return model.Deny(model.ErrTokenTransferNotAllowed, call, depth)
			}
			if transfer.Amount.Cmp(allowance.Amount) > 0 {
				return model.Deny(model.ErrTokenTransferExceedsLimit, call, depth)
			}
			return nil
		}
	}

	// Step 4: General allowlist
	activeFrom, err := r.AllowedTx(ctx, account, ident.CallID(call.To, selector, call.Operation))
	if err != nil {
		return fmt.Errorf("read allowed tx: %w", err)
	}
	if !model.IsActive(activeFrom, now) {
		// Step 5: Default deny
		return model.Deny(model.ErrFirstTimeTx, call, depth)
	}
	if selector != ident.MultiSend {
		return nil
	}

	if max := v.cfg.Limits.MaxDepth; max > 0 && depth >= max {
		return model.Deny(model.ErrBatchTooDeep, call, depth)
	}
	calls, err := calldata.DecodeMultiSend(call.Data, v.cfg.Limits.MaxCalls)
	if err != nil {
		return model.Deny(err, call, depth)
	}
	for _, sub := range calls {
		if err := v.evaluate(ctx, r, account, sub, now, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// removalAllowed applies the guard-removal rule. In strict mode a setter
// call whose argument is not the zero address does not match and falls
// through to the remaining rules.
func (v *Validator) removalAllowed(ctx context.Context, r store.Reader, account common.Address, call model.Call, selector model.Selector, now uint64) (bool, error) {
	if call.To != account || !ident.IsGuardSetter(selector) {
		return false, nil
	}
	scheduled, err := r.RemovalSchedule(ctx, account)
	if err != nil {
		return false, fmt.Errorf("read removal schedule: %w", err)
	}
	if !model.IsActive(scheduled, now) {
		return false, nil
	}
	if !v.cfg.StrictGuardRemoval {
		return true, nil
	}
	guard, err := calldata.GuardArgument(call.Data)
	if err != nil {
		return false, err
	}
	return guard == (common.Address{}), nil
}
