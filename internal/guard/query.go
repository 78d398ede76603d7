package guard

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/model"
	"github.com/ppiankov/delayguard/internal/store"
)

// IsTransactionAllowed previews whether call would pass the validator for
// account right now. It never writes state and does not consider the
// cosigner fast path.
func (e *Engine) IsTransactionAllowed(ctx context.Context, account common.Address, call model.Call) error {
	return e.IsTransactionAllowedAt(ctx, account, call, e.now())
}

// IsTransactionAllowedAt previews call at an explicit timestamp.
func (e *Engine) IsTransactionAllowedAt(ctx context.Context, account common.Address, call model.Call, now uint64) error {
	return e.store.View(ctx, func(r store.Reader) error {
		return e.validator.Evaluate(ctx, r, account, call, now)
	})
}

// AllowedTx returns the activation timestamp of (target, selector, op).
func (e *Engine) AllowedTx(ctx context.Context, account, target common.Address, selector model.Selector, op model.Operation) (uint64, error) {
	return e.AllowedTxByID(ctx, account, ident.CallID(target, selector, op))
}

// AllowedTxByID returns the activation timestamp of a call identifier.
func (e *Engine) AllowedTxByID(ctx context.Context, account common.Address, id common.Hash) (uint64, error) {
	var activeFrom uint64
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		activeFrom, err = r.AllowedTx(ctx, account, id)
		return err
	})
	return activeFrom, err
}

// TokenAllowance returns the transfer ceiling of (token, recipient).
func (e *Engine) TokenAllowance(ctx context.Context, account, token, recipient common.Address) (model.TokenAllowance, error) {
	var a model.TokenAllowance
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		a, err = r.TokenAllowance(ctx, account, token, recipient)
		return err
	})
	return a, err
}

// Cosigner returns the account's cosigner record.
func (e *Engine) Cosigner(ctx context.Context, account common.Address) (model.CosignerRecord, error) {
	var rec model.CosignerRecord
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		rec, err = r.Cosigner(ctx, account)
		return err
	})
	return rec, err
}

// RemovalSchedule returns the account's pending removal timestamp.
func (e *Engine) RemovalSchedule(ctx context.Context, account common.Address) (uint64, error) {
	var ts uint64
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		ts, err = r.RemovalSchedule(ctx, account)
		return err
	})
	return ts, err
}
