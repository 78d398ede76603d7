// Package cosigner implements the cosigner fast path: a transaction that
// carries a valid signature from the account's registered cosigner is
// authorized immediately, and the exact call it authorized is upgraded to
// an active allowlist entry.
package cosigner

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/calldata"
	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/model"
	"github.com/ppiankov/delayguard/internal/safe"
	"github.com/ppiankov/delayguard/internal/sigcheck"
	"github.com/ppiankov/delayguard/internal/store"
)

// MinSignatureLen is the shortest signature blob that can carry a context:
// a 32-byte length word plus at least one owner signature's worth of bytes.
const MinSignatureLen = 66

const lengthWord = 32

// ExtractContext returns the cosigner context appended to sigs. The last
// 32 bytes hold its length L; the context is the L bytes before them.
// Anything that does not fit yields an empty context.
func ExtractContext(sigs []byte) []byte {
	if len(sigs) < MinSignatureLen {
		return nil
	}
	end := len(sigs) - lengthWord
	l := new(big.Int).SetBytes(sigs[end:])
	if !l.IsUint64() || l.Uint64() > uint64(end) {
		return nil
	}
	n := int(l.Uint64())
	out := make([]byte, n)
	copy(out, sigs[end-n:end])
	return out
}

// AppendContext appends ctx and its length word to sigs.
func AppendContext(sigs, ctx []byte) []byte {
	out := make([]byte, 0, len(sigs)+len(ctx)+lengthWord)
	out = append(out, sigs...)
	out = append(out, ctx...)
	var word [lengthWord]byte
	new(big.Int).SetInt64(int64(len(ctx))).FillBytes(word[:])
	return append(out, word[:]...)
}

// Why a transaction did not match the fast path.
const (
	MissNoCosigner       = "no_active_cosigner"
	MissFirstTransaction = "no_executed_nonce"
	MissInvalidSignature = "invalid_signature"
	MissVerifyFailed     = "verify_failed"
)

// Result is the outcome of Authorize. Events describe the upgrades
// written to the store; publish them only after the store commits.
type Result struct {
	Matched bool
	Miss    string
	// VerifyErr is set when the verifier could not reach a verdict.
	VerifyErr error
	Events    []model.Event
}

// FastPath authorizes cosigned transactions.
type FastPath struct {
	verifier sigcheck.Verifier
}

// New creates a FastPath using v to check cosigner signatures.
func New(v sigcheck.Verifier) *FastPath {
	if v == nil {
		v = sigcheck.ECDSA{}
	}
	return &FastPath{verifier: v}
}

// Authorize checks tx against the account's cosigner. When it matches,
// the call's allowlist entry (and token allowance, for transfers) is
// upgraded through w. Returned errors are denials.
func (f *FastPath) Authorize(ctx context.Context, w store.Writer, acct safe.Account, tx model.Transaction, now uint64) (Result, error) {
	account := acct.Address()
	rec, err := w.Cosigner(ctx, account)
	if err != nil {
		return Result{}, fmt.Errorf("read cosigner: %w", err)
	}
	if !model.IsActive(rec.ActiveFrom, now) {
		return Result{Miss: MissNoCosigner}, nil
	}

	nonce, err := acct.Nonce(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read nonce: %w", err)
	}
	// The account advances its nonce before the hook runs.
	if nonce == 0 {
		return Result{Miss: MissFirstTransaction}, nil
	}
	digest, err := acct.TransactionHash(ctx, tx, nonce-1)
	if err != nil {
		return Result{}, fmt.Errorf("compute transaction hash: %w", err)
	}

	ok, err := f.verifier.Verify(ctx, rec.Cosigner, digest, ExtractContext(tx.Signatures))
	if err != nil {
		return Result{Miss: MissVerifyFailed, VerifyErr: err}, nil
	}
	if !ok {
		return Result{Miss: MissInvalidSignature}, nil
	}

	events, err := upgrade(ctx, w, account, tx.Call, now)
	if err != nil {
		return Result{}, err
	}
	return Result{Matched: true, Events: events}, nil
}

// upgrade makes call immediately executable for account.
func upgrade(ctx context.Context, w store.Writer, account common.Address, call model.Call, now uint64) ([]model.Event, error) {
	selector, err := ident.SelectorOf(call.Data)
	if err != nil {
		return nil, model.Deny(err, call, 0)
	}

	var events []model.Event
	id := ident.CallID(call.To, selector, call.Operation)
	activeFrom, err := w.AllowedTx(ctx, account, id)
	if err != nil {
		return nil, fmt.Errorf("read allowed tx: %w", err)
	}
	if !model.IsActive(activeFrom, now) {
		if err := w.SetAllowedTx(ctx, account, id, now); err != nil {
			return nil, fmt.Errorf("upgrade allowed tx: %w", err)
		}
		events = append(events, model.Event{
			Kind:       model.EventTxAllowed,
			Account:    account,
			Source:     model.SourceCosigner,
			ActiveFrom: now,
			TxID:       id,
			Target:     call.To,
			Selector:   selector,
			Operation:  call.Operation,
		})
	}

	transfer, ok, err := calldata.ParseTransfer(call)
	if err != nil {
		return nil, model.Deny(err, call, 0)
	}
	if !ok {
		return events, nil
	}
	prev, err := w.TokenAllowance(ctx, account, transfer.Token, transfer.Recipient)
	if err != nil {
		return nil, fmt.Errorf("read token allowance: %w", err)
	}
	next := model.TokenAllowance{ActiveFrom: prev.ActiveFrom, Amount: model.BigOrZero(prev.Amount)}
	if !prev.Configured() || !model.IsActive(prev.ActiveFrom, now) {
		next.ActiveFrom = now
	}
	if transfer.Amount.Cmp(next.Amount) > 0 {
		next.Amount = transfer.Amount
	}
	if next.ActiveFrom == prev.ActiveFrom && next.Amount.Cmp(model.BigOrZero(prev.Amount)) == 0 {
		return events, nil
	}
	if err := w.SetTokenAllowance(ctx, account, transfer.Token, transfer.Recipient, next); err != nil {
		return nil, fmt.Errorf("upgrade token allowance: %w", err)
	}
	events = append(events, model.Event{
		Kind:       model.EventTokenTransferAllowed,
		Account:    account,
		Source:     model.SourceCosigner,
		ActiveFrom: next.ActiveFrom,
		Token:      transfer.Token,
		Recipient:  transfer.Recipient,
		Amount:     new(big.Int).Set(next.Amount),
	})
	return events, nil
}
