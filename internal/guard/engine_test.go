package guard

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ppiankov/delayguard/internal/calldata"
	"github.com/ppiankov/delayguard/internal/cosigner"
	"github.com/ppiankov/delayguard/internal/event"
	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/integrity"
	"github.com/ppiankov/delayguard/internal/model"
	"github.com/ppiankov/delayguard/internal/safe"
	"github.com/ppiankov/delayguard/internal/sigcheck"
	"github.com/ppiankov/delayguard/internal/store"
)

var (
	self      = common.HexToAddress("0x000000000000000000000000000000000000e001")
	wallet    = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	target    = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	token     = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	multiSend = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	chain     = big.NewInt(1)

	doSomething = ident.FromSignature("doSomething()")
)

const delay = time.Hour

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
func (c *testClock) Unix() uint64            { return uint64(c.t.Unix()) }

type testEngine struct {
	*Engine
	clock  *testClock
	events *event.Recorder
	acct   *safe.Local
}

func newTestEngine(t *testing.T, mutate ...func(*Config)) *testEngine {
	t.Helper()
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	rec := &event.Recorder{}
	cfg := Config{
		Self:  self,
		Delay: delay,
		Clock: clock.Now,
		Bus:   event.NewBus(rec),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return &testEngine{
		Engine: New(store.NewMemory(), cfg),
		clock:  clock,
		events: rec,
		acct:   safe.NewLocal(wallet, chain),
	}
}

func call(to common.Address, data []byte) model.Transaction {
	return model.Transaction{Call: model.Call{To: to, Data: data}}
}

// execute runs tx the way a Safe would: nonce first, then the pre hook.
func (e *testEngine) execute(tx model.Transaction) error {
	e.acct.Begin()
	return e.CheckTransaction(context.Background(), e.acct, tx)
}

func TestFirstTimeTxDenied(t *testing.T) {
	e := newTestEngine(t)
	err := e.execute(call(target, doSomething[:]))
	if !errors.Is(err, model.ErrFirstTimeTx) {
		t.Fatalf("expected FirstTimeTx, got %v", err)
	}
	events := e.events.Events()
	if len(events) != 1 || events[0].Kind != model.EventDenied || events[0].Reason != "FirstTimeTx" {
		t.Fatalf("expected one denial event, got %+v", events)
	}
	if events[0].Selector != doSomething || events[0].Target != target {
		t.Fatalf("expected denial to name the call, got %+v", events[0])
	}
}

func TestSetAllowedTxBeforeInstallation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	af, err := e.SetAllowedTx(ctx, e.acct, target, doSomething, model.OpCall, false)
	if err != nil {
		t.Fatalf("SetAllowedTx: %v", err)
	}
	if af != e.clock.Unix() {
		t.Fatalf("expected immediate activation %d, got %d", e.clock.Unix(), af)
	}
	if err := e.execute(call(target, doSomething[:])); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}
	if got, _ := e.AllowedTx(ctx, wallet, target, doSomething, model.OpCall); got != af {
		t.Fatalf("expected lookup %d, got %d", af, got)
	}
}

func TestSetAllowedTxWhileInstalled(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.acct.Install(self)

	af, err := e.SetAllowedTx(ctx, e.acct, target, doSomething, model.OpCall, false)
	if err != nil {
		t.Fatalf("SetAllowedTx: %v", err)
	}
	if want := e.clock.Unix() + uint64(delay/time.Second); af != want {
		t.Fatalf("expected delayed activation %d, got %d", want, af)
	}
	if err := e.execute(call(target, doSomething[:])); !errors.Is(err, model.ErrFirstTimeTx) {
		t.Fatalf("expected FirstTimeTx during delay, got %v", err)
	}
	e.clock.Advance(delay)
	if err := e.execute(call(target, doSomething[:])); err != nil {
		t.Fatalf("expected allowed after delay, got %v", err)
	}
}

func TestSetAllowedTxOverwriteAndReset(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, _ := e.SetAllowedTx(ctx, e.acct, target, doSomething, model.OpCall, false)
	e.acct.Install(self)
	second, _ := e.SetAllowedTx(ctx, e.acct, target, doSomething, model.OpCall, false)
	if second == first {
		t.Fatal("expected second write to replace the first")
	}
	if got, _ := e.AllowedTx(ctx, wallet, target, doSomething, model.OpCall); got != second {
		t.Fatalf("expected %d, got %d", second, got)
	}

	for _, installed := range []bool{true, false} {
		if !installed {
			e.acct.SetGuards(common.Address{}, common.Address{})
		}
		af, err := e.SetAllowedTx(ctx, e.acct, target, doSomething, model.OpCall, true)
		if err != nil || af != 0 {
			t.Fatalf("installed=%v: expected reset to 0, got %d err=%v", installed, af, err)
		}
	}

	kinds := e.events.Kinds()
	if len(kinds) != 4 {
		t.Fatalf("expected an event per write, got %v", kinds)
	}
}

func TestTokenTransferFlow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.acct.Install(self)

	if _, err := e.SetAllowedTokenTransfer(ctx, e.acct, token, recipient, big.NewInt(100), false); err != nil {
		t.Fatalf("SetAllowedTokenTransfer: %v", err)
	}
	send := func(amount int64) error {
		return e.execute(call(token, calldata.EncodeTransfer(recipient, big.NewInt(amount))))
	}
	if err := send(100); !errors.Is(err, model.ErrTokenTransferNotAllowed) {
		t.Fatalf("expected TokenTransferNotAllowed before activation, got %v", err)
	}
	e.clock.Advance(delay)
	if err := send(100); err != nil {
		t.Fatalf("expected 100 allowed, got %v", err)
	}
	if err := send(101); !errors.Is(err, model.ErrTokenTransferExceedsLimit) {
		t.Fatalf("expected TokenTransferExceedsLimit, got %v", err)
	}

	if _, err := e.SetAllowedTokenTransfer(ctx, e.acct, token, recipient, big.NewInt(100), true); err != nil {
		t.Fatalf("reset: %v", err)
	}
	a, _ := e.TokenAllowance(ctx, wallet, token, recipient)
	if a.ActiveFrom != 0 || a.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected reset to clear only active_from, got %+v", a)
	}
	if err := send(1); !errors.Is(err, model.ErrTokenTransferNotAllowed) {
		t.Fatalf("expected reset allowance to deny, got %v", err)
	}
}

func TestTokenResetDoesNotFallThroughToGeneralAllowlist(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// Staged before installation: any transfer call on the token is
	// generally allowed, but the recipient is capped at 100.
	if _, err := e.SetAllowedTx(ctx, e.acct, token, ident.Transfer, model.OpCall, false); err != nil {
		t.Fatalf("SetAllowedTx: %v", err)
	}
	if _, err := e.SetAllowedTokenTransfer(ctx, e.acct, token, recipient, big.NewInt(100), false); err != nil {
		t.Fatalf("SetAllowedTokenTransfer: %v", err)
	}
	e.acct.Install(self)

	tests := []struct {
		name  string
		reset *big.Int
	}{
		{"reset with amount", big.NewInt(100)},
		{"reset with zero amount", big.NewInt(0)},
		{"reset with nil amount", nil},
	}
	huge := call(token, calldata.EncodeTransfer(recipient, big.NewInt(1_000_000)))
	for _, tt := range tests {
		if _, err := e.SetAllowedTokenTransfer(ctx, e.acct, token, recipient, tt.reset, true); err != nil {
			t.Fatalf("%s: reset: %v", tt.name, err)
		}
		a, _ := e.TokenAllowance(ctx, wallet, token, recipient)
		if a.ActiveFrom != 0 || !a.Configured() {
			t.Fatalf("%s: expected inactive configured entry, got %+v", tt.name, a)
		}
		if err := e.execute(huge); !errors.Is(err, model.ErrTokenTransferNotAllowed) {
			t.Fatalf("%s: expected TokenTransferNotAllowed, got %v", tt.name, err)
		}
		if err := e.IsTransactionAllowed(ctx, wallet, huge.Call); !errors.Is(err, model.ErrTokenTransferNotAllowed) {
			t.Fatalf("%s: expected preview to agree, got %v", tt.name, err)
		}
	}
}

func TestNegativeTokenAmountRejected(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.SetAllowedTokenTransfer(context.Background(), e.acct, token, recipient, big.NewInt(-1), false); err == nil {
		t.Fatal("expected negative amount rejected")
	}
}

func newCosigner(t *testing.T, e *testEngine) []byte {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := e.SetCosigner(context.Background(), e.acct, crypto.PubkeyToAddress(key.PublicKey), false); err != nil {
		t.Fatalf("SetCosigner: %v", err)
	}
	return crypto.FromECDSA(key)
}

// cosign signs tx for the nonce it is about to execute under.
func cosign(t *testing.T, e *testEngine, key []byte, tx model.Transaction) model.Transaction {
	t.Helper()
	nonce, _ := e.acct.Nonce(context.Background())
	digest, _ := e.acct.TransactionHash(context.Background(), tx, nonce)
	sig, err := sigcheck.Sign(digest, key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	tx.Signatures = cosigner.AppendContext(bytes.Repeat([]byte{0x11}, 65), sig)
	return tx
}

func TestCosignerFastPathTeachesAllowlist(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	key := newCosigner(t, e)
	e.acct.Install(self)
	e.events.Reset()

	tx := call(target, doSomething[:])
	if err := e.execute(cosign(t, e, key, tx)); err != nil {
		t.Fatalf("expected cosigned tx allowed, got %v", err)
	}
	if got, _ := e.AllowedTx(ctx, wallet, target, doSomething, model.OpCall); got != e.clock.Unix() {
		t.Fatalf("expected active_from == now, got %d", got)
	}
	if kinds := e.events.Kinds(); len(kinds) != 1 || kinds[0] != model.EventTxAllowed {
		t.Fatalf("expected one tx_allowed event, got %v", kinds)
	}
	if err := e.execute(tx); err != nil {
		t.Fatalf("expected repeat without cosigner allowed, got %v", err)
	}
}

func TestCosignerDelayedWhileInstalled(t *testing.T) {
	e := newTestEngine(t)
	e.acct.Install(self)
	key := newCosigner(t, e)

	tx := call(target, doSomething[:])
	if err := e.execute(cosign(t, e, key, tx)); !errors.Is(err, model.ErrFirstTimeTx) {
		t.Fatalf("expected pending cosigner to be ignored, got %v", err)
	}
	e.clock.Advance(delay)
	if err := e.execute(cosign(t, e, key, tx)); err != nil {
		t.Fatalf("expected cosigner active after delay, got %v", err)
	}
}

func TestRunRollsBackOnExecutionFailure(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	key := newCosigner(t, e)
	e.acct.Install(self)
	e.events.Reset()

	e.acct.Begin()
	tx := call(target, doSomething[:])
	nonce, _ := e.acct.Nonce(ctx)
	digest, _ := e.acct.TransactionHash(ctx, tx, nonce-1)
	sig, _ := sigcheck.Sign(digest, key)
	tx.Signatures = cosigner.AppendContext(bytes.Repeat([]byte{0x11}, 65), sig)

	boom := errors.New("inner call reverted")
	err := e.Run(ctx, e.acct, tx, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected execution error, got %v", err)
	}
	if got, _ := e.AllowedTx(ctx, wallet, target, doSomething, model.OpCall); got != 0 {
		t.Fatalf("expected upgrade rolled back, got %d", got)
	}
	for _, k := range e.events.Kinds() {
		if k == model.EventTxAllowed {
			t.Fatal("expected no tx_allowed event for a rolled back upgrade")
		}
	}

	if err := e.Run(ctx, e.acct, tx, nil); err != nil {
		t.Fatalf("expected run to commit, got %v", err)
	}
	if got, _ := e.AllowedTx(ctx, wallet, target, doSomething, model.OpCall); got != e.clock.Unix() {
		t.Fatalf("expected committed upgrade, got %d", got)
	}
}

func TestScheduleRequiresInstallation(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.ScheduleGuardRemoval(context.Background(), e.acct); !errors.Is(err, model.ErrNotInstalled) {
		t.Fatalf("expected NotInstalled, got %v", err)
	}
	e.acct.SetGuards(self, common.Address{})
	if _, err := e.ScheduleGuardRemoval(context.Background(), e.acct); !errors.Is(err, model.ErrNotInstalled) {
		t.Fatalf("expected NotInstalled for half install, got %v", err)
	}
}

func TestGuardRemovalFlow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	// Stage the batch entry point before enforcement starts.
	if _, err := e.SetAllowedTx(ctx, e.acct, multiSend, ident.MultiSend, model.OpDelegateCall, false); err != nil {
		t.Fatalf("SetAllowedTx: %v", err)
	}
	e.acct.Install(self)

	ts, err := e.ScheduleGuardRemoval(ctx, e.acct)
	if err != nil {
		t.Fatalf("ScheduleGuardRemoval: %v", err)
	}
	if want := e.clock.Unix() + uint64(delay/time.Second); ts != want {
		t.Fatalf("expected schedule %d, got %d", want, ts)
	}

	clearGuard := model.Call{To: wallet, Data: calldata.EncodeGuardSetter(ident.SetGuard, common.Address{})}
	clearModule := model.Call{To: wallet, Data: calldata.EncodeGuardSetter(ident.SetModuleGuard, common.Address{})}
	removal := model.Transaction{Call: model.Call{
		To:        multiSend,
		Operation: model.OpDelegateCall,
		Data:      calldata.EncodeMultiSend([]model.Call{clearGuard, clearModule}),
	}}
	apply := func(c model.Call) Executor {
		return func(ctx context.Context) error { return e.acct.Apply(ctx, c) }
	}

	e.acct.Begin()
	if err := e.Run(ctx, e.acct, removal, apply(removal.Call)); !errors.Is(err, model.ErrFirstTimeTx) {
		t.Fatalf("expected FirstTimeTx before maturity, got %v", err)
	}

	e.clock.Advance(delay)

	// Dropping one guard leaves a half-removed configuration.
	snapshot := e.acct.Snapshot()
	e.acct.Begin()
	half := model.Transaction{Call: clearGuard}
	if err := e.Run(ctx, e.acct, half, apply(clearGuard)); !errors.Is(err, model.ErrImproperGuardSetup) {
		t.Fatalf("expected ImproperGuardSetup, got %v", err)
	}
	e.acct.Restore(snapshot)
	if got, _ := e.RemovalSchedule(ctx, wallet); got != ts {
		t.Fatalf("expected schedule kept after failed removal, got %d", got)
	}

	e.events.Reset()
	e.acct.Begin()
	if err := e.Run(ctx, e.acct, removal, apply(removal.Call)); err != nil {
		t.Fatalf("expected full removal to succeed, got %v", err)
	}
	if got, _ := e.RemovalSchedule(ctx, wallet); got != 0 {
		t.Fatalf("expected schedule consumed, got %d", got)
	}
	if kinds := e.events.Kinds(); len(kinds) != 1 || kinds[0] != model.EventGuardRemoved {
		t.Fatalf("expected guard_removed event, got %v", kinds)
	}
}

func TestRemovalWithoutScheduleRejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.acct.Install(self)
	if err := e.CheckAfterExecution(ctx, e.acct, true); err != nil {
		t.Fatalf("expected steady state, got %v", err)
	}

	e.acct.SetGuards(common.Address{}, common.Address{})
	if err := e.CheckAfterExecution(ctx, e.acct, true); !errors.Is(err, model.ErrInvalidTimestamp) {
		t.Fatalf("expected InvalidTimestamp, got %v", err)
	}
	if err := e.CheckAfterModuleExecution(ctx, e.acct, false); !errors.Is(err, model.ErrInvalidTimestamp) {
		t.Fatalf("expected module path to run the same check, got %v", err)
	}
}

func TestStrictGuardRemoval(t *testing.T) {
	for _, strict := range []bool{false, true} {
		e := newTestEngine(t, func(c *Config) { c.StrictGuardRemoval = strict })
		ctx := context.Background()
		e.acct.Install(self)
		if _, err := e.ScheduleGuardRemoval(ctx, e.acct); err != nil {
			t.Fatalf("ScheduleGuardRemoval: %v", err)
		}
		e.clock.Advance(delay)

		swap := call(wallet, calldata.EncodeGuardSetter(ident.SetGuard, target))
		err := e.IsTransactionAllowed(ctx, wallet, swap.Call)
		if strict && !errors.Is(err, model.ErrFirstTimeTx) {
			t.Errorf("strict: expected replacement guard denied, got %v", err)
		}
		if !strict && err != nil {
			t.Errorf("relaxed: expected any setter argument allowed, got %v", err)
		}
	}
}

func TestModuleTransaction(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	module := common.HexToAddress("0x00000000000000000000000000000000000000c9")
	c := model.Call{To: target, Data: doSomething[:]}

	if err := e.CheckModuleTransaction(ctx, e.acct, c, module); !errors.Is(err, model.ErrFirstTimeTx) {
		t.Fatalf("expected FirstTimeTx, got %v", err)
	}
	e.SetAllowedTx(ctx, e.acct, target, doSomething, model.OpCall, false)
	e.acct.Install(self)
	if err := e.CheckModuleTransaction(ctx, e.acct, c, module); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}
	if err := e.RunModule(ctx, e.acct, c, module, nil); err != nil {
		t.Fatalf("RunModule: %v", err)
	}
}

func TestSingleGuardStrategy(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.Strategy = integrity.SingleGuard{} })
	ctx := context.Background()
	e.acct.SetGuards(self, common.Address{})

	installed, err := e.FullyInstalled(ctx, e.acct)
	if err != nil || !installed {
		t.Fatalf("expected single guard install to count, got %v err=%v", installed, err)
	}
	if _, err := e.ScheduleGuardRemoval(ctx, e.acct); err != nil {
		t.Fatalf("ScheduleGuardRemoval: %v", err)
	}
	if err := e.CheckAfterExecution(ctx, e.acct, true); err != nil {
		t.Fatalf("expected steady state, got %v", err)
	}
}

func TestSelfManagementThroughHook(t *testing.T) {
	e := newTestEngine(t)
	e.acct.Install(self)
	for _, sel := range []model.Selector{ident.SetAllowedTx, ident.SetCosigner, ident.SetAllowedTokenTransfer, ident.ScheduleGuardRemoval} {
		if err := e.execute(call(self, sel[:])); err != nil {
			t.Errorf("%s: expected configuration call allowed, got %v", sel, err)
		}
	}
}
