package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/model"

	_ "modernc.org/sqlite"
)

// SQLite persists account state in a single SQLite database. Each Update
// is one database transaction.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("sqlite store: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return s, nil
}

// NewSQLite wraps an already opened database.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	s := &SQLite{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS allowed_txs (
		account TEXT NOT NULL,
		tx_id TEXT NOT NULL,
		active_from INTEGER NOT NULL,
		PRIMARY KEY (account, tx_id)
	)`,
	`CREATE TABLE IF NOT EXISTS token_transfers (
		account TEXT NOT NULL,
		token TEXT NOT NULL,
		recipient TEXT NOT NULL,
		active_from INTEGER NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY (account, token, recipient)
	)`,
	`CREATE TABLE IF NOT EXISTS cosigners (
		account TEXT PRIMARY KEY,
		cosigner TEXT NOT NULL,
		active_from INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS removal_schedules (
		account TEXT PRIMARY KEY,
		scheduled_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS config_nonces (
		account TEXT PRIMARY KEY,
		nonce INTEGER NOT NULL
	)`,
}

func (s *SQLite) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) View(ctx context.Context, fn func(r Reader) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&sqlTx{tx: tx})
}

func (s *SQLite) Update(ctx context.Context, fn func(w Writer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	if err := fn(&sqlTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) AllowedTx(ctx context.Context, account common.Address, id common.Hash) (uint64, error) {
	var activeFrom int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT active_from FROM allowed_txs WHERE account = ? AND tx_id = ?`,
		account.Hex(), id.Hex(),
	).Scan(&activeFrom)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query allowed tx: %w", err)
	}
	return uint64(activeFrom), nil
}

func (t *sqlTx) TokenAllowance(ctx context.Context, account, token, recipient common.Address) (model.TokenAllowance, error) {
	var (
		activeFrom int64
		amount     string
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT active_from, amount FROM token_transfers WHERE account = ? AND token = ? AND recipient = ?`,
		account.Hex(), token.Hex(), recipient.Hex(),
	).Scan(&activeFrom, &amount)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TokenAllowance{Amount: new(big.Int)}, nil
	}
	if err != nil {
		return model.TokenAllowance{}, fmt.Errorf("query token allowance: %w", err)
	}
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return model.TokenAllowance{}, fmt.Errorf("corrupt token allowance amount %q", amount)
	}
	return model.TokenAllowance{ActiveFrom: uint64(activeFrom), Amount: v}, nil
}

func (t *sqlTx) Cosigner(ctx context.Context, account common.Address) (model.CosignerRecord, error) {
	var (
		cosigner   string
		activeFrom int64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT cosigner, active_from FROM cosigners WHERE account = ?`,
		account.Hex(),
	).Scan(&cosigner, &activeFrom)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CosignerRecord{}, nil
	}
	if err != nil {
		return model.CosignerRecord{}, fmt.Errorf("query cosigner: %w", err)
	}
	return model.CosignerRecord{ActiveFrom: uint64(activeFrom), Cosigner: common.HexToAddress(cosigner)}, nil
}

func (t *sqlTx) RemovalSchedule(ctx context.Context, account common.Address) (uint64, error) {
	var ts int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT scheduled_at FROM removal_schedules WHERE account = ?`,
		account.Hex(),
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query removal schedule: %w", err)
	}
	return uint64(ts), nil
}

func (t *sqlTx) ConfigNonce(ctx context.Context, account common.Address) (uint64, error) {
	var nonce int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT nonce FROM config_nonces WHERE account = ?`,
		account.Hex(),
	).Scan(&nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query config nonce: %w", err)
	}
	return uint64(nonce), nil
}

func (t *sqlTx) SetAllowedTx(ctx context.Context, account common.Address, id common.Hash, activeFrom uint64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO allowed_txs (account, tx_id, active_from) VALUES (?, ?, ?)
		ON CONFLICT (account, tx_id) DO UPDATE SET active_from = excluded.active_from`,
		account.Hex(), id.Hex(), int64(activeFrom),
	)
	if err != nil {
		return fmt.Errorf("upsert allowed tx: %w", err)
	}
	return nil
}

func (t *sqlTx) SetTokenAllowance(ctx context.Context, account, token, recipient common.Address, a model.TokenAllowance) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO token_transfers (account, token, recipient, active_from, amount) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account, token, recipient) DO UPDATE SET
			active_from = excluded.active_from,
			amount = excluded.amount`,
		account.Hex(), token.Hex(), recipient.Hex(), int64(a.ActiveFrom), model.BigOrZero(a.Amount).String(),
	)
	if err != nil {
		return fmt.Errorf("upsert token allowance: %w", err)
	}
	return nil
}

func (t *sqlTx) SetCosigner(ctx context.Context, account common.Address, rec model.CosignerRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cosigners (account, cosigner, active_from) VALUES (?, ?, ?)
		ON CONFLICT (account) DO UPDATE SET
			cosigner = excluded.cosigner,
			active_from = excluded.active_from`,
		account.Hex(), rec.Cosigner.Hex(), int64(rec.ActiveFrom),
	)
	if err != nil {
		return fmt.Errorf("upsert cosigner: %w", err)
	}
	return nil
}

func (t *sqlTx) SetRemovalSchedule(ctx context.Context, account common.Address, ts uint64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO removal_schedules (account, scheduled_at) VALUES (?, ?)
		ON CONFLICT (account) DO UPDATE SET scheduled_at = excluded.scheduled_at`,
		account.Hex(), int64(ts),
	)
	if err != nil {
		return fmt.Errorf("upsert removal schedule: %w", err)
	}
	return nil
}

func (t *sqlTx) SetConfigNonce(ctx context.Context, account common.Address, nonce uint64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO config_nonces (account, nonce) VALUES (?, ?)
		ON CONFLICT (account) DO UPDATE SET nonce = excluded.nonce`,
		account.Hex(), int64(nonce),
	)
	if err != nil {
		return fmt.Errorf("upsert config nonce: %w", err)
	}
	return nil
}
