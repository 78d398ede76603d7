package cosigner

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ppiankov/delayguard/internal/calldata"
	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/model"
	"github.com/ppiankov/delayguard/internal/safe"
	"github.com/ppiankov/delayguard/internal/sigcheck"
	"github.com/ppiankov/delayguard/internal/store"
)

var (
	wallet    = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	target    = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	token     = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	chain     = big.NewInt(1)

	doSomething = ident.FromSignature("doSomething()")
)

const now = 1_700_000_000

type fixture struct {
	store    *store.Memory
	acct     *safe.Local
	key      []byte
	cosigner common.Address
}

func newFixture(t *testing.T, cosignerActiveFrom uint64) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	f := &fixture{
		store:    store.NewMemory(),
		acct:     safe.NewLocal(wallet, chain),
		key:      crypto.FromECDSA(key),
		cosigner: crypto.PubkeyToAddress(key.PublicKey),
	}
	ctx := context.Background()
	err = f.store.Update(ctx, func(w store.Writer) error {
		return w.SetCosigner(ctx, wallet, model.CosignerRecord{ActiveFrom: cosignerActiveFrom, Cosigner: f.cosigner})
	})
	if err != nil {
		t.Fatalf("SetCosigner: %v", err)
	}
	// Execution of the transaction under test advances nonce 0 to 1.
	f.acct.Begin()
	return f
}

// cosign attaches a cosigner signature for the executing nonce.
func (f *fixture) cosign(t *testing.T, tx model.Transaction, nonce uint64) model.Transaction {
	t.Helper()
	sig, err := sigcheck.Sign(safe.TransactionHash(chain, wallet, tx, nonce), f.key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	owners := bytes.Repeat([]byte{0x11}, 65)
	tx.Signatures = AppendContext(owners, sig)
	return tx
}

func (f *fixture) authorize(t *testing.T, tx model.Transaction) Result {
	t.Helper()
	ctx := context.Background()
	var res Result
	err := f.store.Update(ctx, func(w store.Writer) error {
		var err error
		res, err = New(nil).Authorize(ctx, w, f.acct, tx, now)
		return err
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	return res
}

func (f *fixture) allowedTx(t *testing.T, to common.Address, sel model.Selector) uint64 {
	t.Helper()
	ctx := context.Background()
	var af uint64
	f.store.View(ctx, func(r store.Reader) error {
		af, _ = r.AllowedTx(ctx, wallet, ident.CallID(to, sel, model.OpCall))
		return nil
	})
	return af
}

func (f *fixture) tokenAllowance(t *testing.T) model.TokenAllowance {
	t.Helper()
	ctx := context.Background()
	var a model.TokenAllowance
	f.store.View(ctx, func(r store.Reader) error {
		a, _ = r.TokenAllowance(ctx, wallet, token, recipient)
		return nil
	})
	return a
}

func TestExtractContext(t *testing.T) {
	ctx := []byte("cosigner-signature")
	sigs := AppendContext(bytes.Repeat([]byte{0x22}, 65), ctx)
	if got := ExtractContext(sigs); !bytes.Equal(got, ctx) {
		t.Fatalf("expected %q, got %q", ctx, got)
	}

	if got := ExtractContext(make([]byte, MinSignatureLen-1)); got != nil {
		t.Fatalf("expected empty context for short blob, got %x", got)
	}

	overrun := make([]byte, 80)
	overrun[len(overrun)-1] = 49 // 48 bytes precede the length word
	if got := ExtractContext(overrun); got != nil {
		t.Fatalf("expected empty context for overrunning length, got %x", got)
	}
	exact := make([]byte, 80)
	exact[len(exact)-1] = 48
	if got := ExtractContext(exact); len(got) != 48 {
		t.Fatalf("expected 48-byte context, got %d", len(got))
	}

	huge := make([]byte, 96)
	huge[64] = 0x01 // length word far beyond 64 bits
	if got := ExtractContext(huge); got != nil {
		t.Fatalf("expected empty context for huge length, got %x", got)
	}
}

func TestAuthorizeUpgradesCall(t *testing.T) {
	f := newFixture(t, now)
	tx := f.cosign(t, model.Transaction{Call: model.Call{To: target, Data: doSomething[:]}}, 0)

	res := f.authorize(t, tx)
	if !res.Matched {
		t.Fatalf("expected match, got miss %q", res.Miss)
	}
	if got := f.allowedTx(t, target, doSomething); got != now {
		t.Fatalf("expected active_from %d, got %d", now, got)
	}
	if len(res.Events) != 1 || res.Events[0].Kind != model.EventTxAllowed || res.Events[0].Source != model.SourceCosigner {
		t.Fatalf("expected one cosigner tx_allowed event, got %+v", res.Events)
	}
}

func TestAuthorizeKeepsActiveEntry(t *testing.T) {
	f := newFixture(t, now)
	ctx := context.Background()
	f.store.Update(ctx, func(w store.Writer) error {
		return w.SetAllowedTx(ctx, wallet, ident.CallID(target, doSomething, model.OpCall), now-50)
	})
	tx := f.cosign(t, model.Transaction{Call: model.Call{To: target, Data: doSomething[:]}}, 0)

	res := f.authorize(t, tx)
	if !res.Matched || len(res.Events) != 0 {
		t.Fatalf("expected match without upgrade, got %+v", res)
	}
	if got := f.allowedTx(t, target, doSomething); got != now-50 {
		t.Fatalf("expected active_from untouched, got %d", got)
	}
}

func TestAuthorizePullsPendingEntryForward(t *testing.T) {
	f := newFixture(t, now)
	ctx := context.Background()
	f.store.Update(ctx, func(w store.Writer) error {
		return w.SetAllowedTx(ctx, wallet, ident.CallID(target, doSomething, model.OpCall), now+86400)
	})
	tx := f.cosign(t, model.Transaction{Call: model.Call{To: target, Data: doSomething[:]}}, 0)

	if res := f.authorize(t, tx); !res.Matched {
		t.Fatalf("expected match, got %q", res.Miss)
	}
	if got := f.allowedTx(t, target, doSomething); got != now {
		t.Fatalf("expected pending entry moved to now, got %d", got)
	}
}

func TestAuthorizeTokenTransfer(t *testing.T) {
	cases := []struct {
		name       string
		prev       model.TokenAllowance
		amount     int64
		wantFrom   uint64
		wantAmount int64
		wantEvent  bool
	}{
		{"unconfigured", model.TokenAllowance{}, 150, now, 150, true},
		{"widens", model.TokenAllowance{ActiveFrom: now - 10, Amount: big.NewInt(100)}, 150, now - 10, 150, true},
		{"never narrows", model.TokenAllowance{ActiveFrom: now - 10, Amount: big.NewInt(200)}, 150, now - 10, 200, false},
		{"pending activates", model.TokenAllowance{ActiveFrom: now + 10, Amount: big.NewInt(200)}, 150, now, 200, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, now)
			ctx := context.Background()
			f.store.Update(ctx, func(w store.Writer) error {
				return w.SetTokenAllowance(ctx, wallet, token, recipient, tc.prev)
			})
			call := model.Call{To: token, Data: calldata.EncodeTransfer(recipient, big.NewInt(tc.amount))}
			res := f.authorize(t, f.cosign(t, model.Transaction{Call: call}, 0))
			if !res.Matched {
				t.Fatalf("expected match, got %q", res.Miss)
			}

			got := f.tokenAllowance(t)
			if got.ActiveFrom != tc.wantFrom || got.Amount.Int64() != tc.wantAmount {
				t.Fatalf("expected {%d %d}, got {%d %s}", tc.wantFrom, tc.wantAmount, got.ActiveFrom, got.Amount)
			}
			var sawToken bool
			for _, e := range res.Events {
				if e.Kind == model.EventTokenTransferAllowed {
					sawToken = true
				}
			}
			if sawToken != tc.wantEvent {
				t.Fatalf("expected token event %v, got events %+v", tc.wantEvent, res.Events)
			}
			if f.allowedTx(t, token, ident.Transfer) != now {
				t.Fatal("expected the generic transfer entry upgraded too")
			}
		})
	}
}

func TestAuthorizeMisses(t *testing.T) {
	call := model.Call{To: target, Data: doSomething[:]}

	t.Run("inactive cosigner", func(t *testing.T) {
		f := newFixture(t, now+1)
		if res := f.authorize(t, f.cosign(t, model.Transaction{Call: call}, 0)); res.Matched || res.Miss != MissNoCosigner {
			t.Fatalf("expected %q, got %+v", MissNoCosigner, res)
		}
	})
	t.Run("no cosigner", func(t *testing.T) {
		f := newFixture(t, 0)
		if res := f.authorize(t, f.cosign(t, model.Transaction{Call: call}, 0)); res.Matched || res.Miss != MissNoCosigner {
			t.Fatalf("expected %q, got %+v", MissNoCosigner, res)
		}
	})
	t.Run("wrong nonce", func(t *testing.T) {
		f := newFixture(t, now)
		if res := f.authorize(t, f.cosign(t, model.Transaction{Call: call}, 1)); res.Matched || res.Miss != MissInvalidSignature {
			t.Fatalf("expected %q, got %+v", MissInvalidSignature, res)
		}
	})
	t.Run("no context", func(t *testing.T) {
		f := newFixture(t, now)
		tx := model.Transaction{Call: call, Signatures: bytes.Repeat([]byte{0x11}, 65)}
		if res := f.authorize(t, tx); res.Matched {
			t.Fatalf("expected miss, got %+v", res)
		}
	})
	t.Run("nothing executed", func(t *testing.T) {
		f := newFixture(t, now)
		f.acct.Restore(safe.LocalState{})
		if res := f.authorize(t, f.cosign(t, model.Transaction{Call: call}, 0)); res.Matched || res.Miss != MissFirstTransaction {
			t.Fatalf("expected %q, got %+v", MissFirstTransaction, res)
		}
	})
	t.Run("miss leaves state alone", func(t *testing.T) {
		f := newFixture(t, now)
		f.authorize(t, f.cosign(t, model.Transaction{Call: call}, 1))
		if got := f.allowedTx(t, target, doSomething); got != 0 {
			t.Fatalf("expected no upgrade, got %d", got)
		}
	})
}
