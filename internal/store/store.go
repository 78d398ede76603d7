// Package store holds per-account allowlist state. Every mutation runs
// inside Update, which commits all writes or none.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/model"
)

// Reader is the read side of an account's state.
type Reader interface {
	AllowedTx(ctx context.Context, account common.Address, id common.Hash) (uint64, error)
	TokenAllowance(ctx context.Context, account, token, recipient common.Address) (model.TokenAllowance, error)
	Cosigner(ctx context.Context, account common.Address) (model.CosignerRecord, error)
	RemovalSchedule(ctx context.Context, account common.Address) (uint64, error)
	// ConfigNonce is the highest nonce consumed by a signed remote
	// configuration request for account.
	ConfigNonce(ctx context.Context, account common.Address) (uint64, error)
}

// Writer overwrites entries. There is no delete: clearing is a write of
// the zero activation timestamp.
type Writer interface {
	Reader
	SetAllowedTx(ctx context.Context, account common.Address, id common.Hash, activeFrom uint64) error
	SetTokenAllowance(ctx context.Context, account, token, recipient common.Address, a model.TokenAllowance) error
	SetCosigner(ctx context.Context, account common.Address, rec model.CosignerRecord) error
	SetRemovalSchedule(ctx context.Context, account common.Address, ts uint64) error
	SetConfigNonce(ctx context.Context, account common.Address, nonce uint64) error
}

// Store runs transactional closures over account state. A non-nil error
// from fn discards every write made inside it.
type Store interface {
	View(ctx context.Context, fn func(r Reader) error) error
	Update(ctx context.Context, fn func(w Writer) error) error
	Close() error
}

// Open creates a store for driver ("memory" or "sqlite").
func Open(driver, path string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q (want memory or sqlite)", driver)
	}
}
