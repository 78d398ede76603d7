package store

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/model"
)

type txKey struct {
	account common.Address
	id      common.Hash
}

type tokenKey struct {
	account, token, recipient common.Address
}

type tables struct {
	allowed   map[txKey]uint64
	tokens    map[tokenKey]model.TokenAllowance
	cosigners map[common.Address]model.CosignerRecord
	removals  map[common.Address]uint64
	nonces    map[common.Address]uint64
}

func newTables() *tables {
	return &tables{
		allowed:   make(map[txKey]uint64),
		tokens:    make(map[tokenKey]model.TokenAllowance),
		cosigners: make(map[common.Address]model.CosignerRecord),
		removals:  make(map[common.Address]uint64),
		nonces:    make(map[common.Address]uint64),
	}
}

// Memory is an in-process Store. Update stages writes in an overlay and
// merges them only when fn succeeds. Closures run under the store lock and
// must not call back into the same store.
type Memory struct {
	mu   sync.RWMutex
	data *tables
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: newTables()}
}

func (m *Memory) View(ctx context.Context, fn func(r Reader) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{base: m.data})
}

func (m *Memory) Update(ctx context.Context, fn func(w Writer) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{base: m.data, staged: newTables()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *Memory) Close() error { return nil }

// memTx reads through staged writes to the committed tables.
type memTx struct {
	base   *tables
	staged *tables
}

func (t *memTx) AllowedTx(_ context.Context, account common.Address, id common.Hash) (uint64, error) {
	k := txKey{account, id}
	if t.staged != nil {
		if v, ok := t.staged.allowed[k]; ok {
			return v, nil
		}
	}
	return t.base.allowed[k], nil
}

func (t *memTx) TokenAllowance(_ context.Context, account, token, recipient common.Address) (model.TokenAllowance, error) {
	k := tokenKey{account, token, recipient}
	if t.staged != nil {
		if v, ok := t.staged.tokens[k]; ok {
			return copyAllowance(v), nil
		}
	}
	return copyAllowance(t.base.tokens[k]), nil
}

func (t *memTx) Cosigner(_ context.Context, account common.Address) (model.CosignerRecord, error) {
	if t.staged != nil {
		if v, ok := t.staged.cosigners[account]; ok {
			return v, nil
		}
	}
	return t.base.cosigners[account], nil
}

func (t *memTx) RemovalSchedule(_ context.Context, account common.Address) (uint64, error) {
	if t.staged != nil {
		if v, ok := t.staged.removals[account]; ok {
			return v, nil
		}
	}
	return t.base.removals[account], nil
}

func (t *memTx) ConfigNonce(_ context.Context, account common.Address) (uint64, error) {
	if t.staged != nil {
		if v, ok := t.staged.nonces[account]; ok {
			return v, nil
		}
	}
	return t.base.nonces[account], nil
}

func (t *memTx) SetAllowedTx(_ context.Context, account common.Address, id common.Hash, activeFrom uint64) error {
	t.staged.allowed[txKey{account, id}] = activeFrom
	return nil
}

func (t *memTx) SetTokenAllowance(_ context.Context, account, token, recipient common.Address, a model.TokenAllowance) error {
	t.staged.tokens[tokenKey{account, token, recipient}] = copyAllowance(a)
	return nil
}

func (t *memTx) SetCosigner(_ context.Context, account common.Address, rec model.CosignerRecord) error {
	t.staged.cosigners[account] = rec
	return nil
}

func (t *memTx) SetRemovalSchedule(_ context.Context, account common.Address, ts uint64) error {
	t.staged.removals[account] = ts
	return nil
}

func (t *memTx) SetConfigNonce(_ context.Context, account common.Address, nonce uint64) error {
	t.staged.nonces[account] = nonce
	return nil
}

func (t *memTx) commit() {
	for k, v := range t.staged.allowed {
		t.base.allowed[k] = v
	}
	for k, v := range t.staged.tokens {
		t.base.tokens[k] = v
	}
	for k, v := range t.staged.cosigners {
		t.base.cosigners[k] = v
	}
	for k, v := range t.staged.removals {
		t.base.removals[k] = v
	}
	for k, v := range t.staged.nonces {
		t.base.nonces[k] = v
	}
}

func copyAllowance(a model.TokenAllowance) model.TokenAllowance {
	out := model.TokenAllowance{ActiveFrom: a.ActiveFrom, Amount: new(big.Int)}
	if a.Amount != nil {
		out.Amount.Set(a.Amount)
	}
	return out
}
