// Package index keeps an enumerable set of allowlisted call identifiers per
// account. It is built only from tx_allowed events, so it can be rebuilt
// from any event history such as the audit log.
package index

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/model"
)

// Entry is one allowlisted call shape.
type Entry struct {
	TxID       common.Hash     `json:"tx_id"`
	Target     common.Address  `json:"target"`
	Selector   model.Selector  `json:"selector"`
	Operation  model.Operation `json:"operation"`
	ActiveFrom uint64          `json:"active_from"`
}

// Index maps accounts to their configured entries. Safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	accounts map[common.Address]map[common.Hash]Entry
}

// New creates an empty Index.
func New() *Index {
	return &Index{accounts: make(map[common.Address]map[common.Hash]Entry)}
}

// Publish applies a tx_allowed event. A zero activation removes the entry.
// Other kinds are ignored.
func (x *Index) Publish(_ context.Context, e model.Event) {
	if e.Kind != model.EventTxAllowed {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	entries := x.accounts[e.Account]
	if e.ActiveFrom == 0 {
		delete(entries, e.TxID)
		if len(entries) == 0 {
			delete(x.accounts, e.Account)
		}
		return
	}
	if entries == nil {
		entries = make(map[common.Hash]Entry)
		x.accounts[e.Account] = entries
	}
	entries[e.TxID] = Entry{
		TxID:       e.TxID,
		Target:     e.Target,
		Selector:   e.Selector,
		Operation:  e.Operation,
		ActiveFrom: e.ActiveFrom,
	}
}

// Rebuild replaces the index contents with the result of applying events
// in order.
func (x *Index) Rebuild(events []model.Event) {
	x.mu.Lock()
	x.accounts = make(map[common.Address]map[common.Hash]Entry)
	x.mu.Unlock()
	for _, e := range events {
		x.Publish(context.Background(), e)
	}
}

// List returns the account's entries ordered by identifier.
func (x *Index) List(account common.Address) []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	entries := x.accounts[account]
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].TxID[:], out[j].TxID[:]) < 0
	})
	return out
}

// Accounts returns every account with at least one entry.
func (x *Index) Accounts() []common.Address {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]common.Address, 0, len(x.accounts))
	for a := range x.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
