package guard

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/calldata"
	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/model"
)

func TestSelfCallDispatchesSetters(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	calls := []model.Call{
		{To: self, Data: EncodeSetAllowedTx(target, doSomething, model.OpDelegateCall, false)},
		{To: self, Data: EncodeSetCosigner(common.HexToAddress("0xc0"), false)},
		{To: self, Data: EncodeSetAllowedTokenTransfer(token, recipient, big.NewInt(7), false)},
	}
	for _, c := range calls {
		handled, err := e.SelfCall(ctx, e.acct, c)
		if !handled || err != nil {
			t.Fatalf("expected handled setter, got handled=%v err=%v", handled, err)
		}
	}

	if got, _ := e.AllowedTx(ctx, wallet, target, doSomething, model.OpDelegateCall); got != e.clock.Unix() {
		t.Errorf("expected delegatecall entry at now, got %d", got)
	}
	if rec, _ := e.Cosigner(ctx, wallet); rec.Cosigner != common.HexToAddress("0xc0") {
		t.Errorf("expected cosigner set, got %+v", rec)
	}
	if ta, _ := e.TokenAllowance(ctx, wallet, token, recipient); ta.Amount.Int64() != 7 {
		t.Errorf("expected token allowance 7, got %+v", ta)
	}
}

func TestSelfCallScheduleRequiresInstallation(t *testing.T) {
	e := newTestEngine(t)
	handled, err := e.SelfCall(context.Background(), e.acct, model.Call{To: self, Data: EncodeScheduleGuardRemoval()})
	if !handled || !errors.Is(err, model.ErrNotInstalled) {
		t.Fatalf("expected NotInstalled, got handled=%v err=%v", handled, err)
	}
}

func TestSelfCallIgnoresOtherCalls(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	others := []model.Call{
		{To: target, Data: EncodeSetCosigner(target, false)},
		{To: self, Data: EncodeSetCosigner(target, false), Operation: model.OpDelegateCall},
		{To: self, Data: doSomething[:]},
	}
	for _, c := range others {
		if handled, err := e.SelfCall(ctx, e.acct, c); handled || err != nil {
			t.Errorf("expected unhandled call, got handled=%v err=%v", handled, err)
		}
	}
}

func TestSelfCallMalformedArguments(t *testing.T) {
	e := newTestEngine(t)
	data := EncodeSetAllowedTx(target, doSomething, model.OpCall, false)
	_, err := e.SelfCall(context.Background(), e.acct, model.Call{To: self, Data: data[:36]})
	if !errors.Is(err, model.ErrMalformedCalldata) {
		t.Fatalf("expected MalformedCalldata, got %v", err)
	}
	if sel, _ := ident.SelectorOf(data); sel != ident.SetAllowedTx {
		t.Errorf("encoded selector mismatch: %s", sel)
	}
}

func TestSelfCallsDescendIntoBatches(t *testing.T) {
	e := newTestEngine(t)
	batch := model.Call{
		To:        multiSend,
		Operation: model.OpDelegateCall,
		Data: calldata.EncodeMultiSend([]model.Call{
			{To: self, Data: EncodeSetAllowedTx(target, doSomething, model.OpCall, false)},
			{To: target, Data: doSomething[:]},
			{To: self, Data: EncodeSetCosigner(target, false)},
		}),
	}
	n, err := e.SelfCalls(context.Background(), e.acct, batch)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 self calls applied, got %d err=%v", n, err)
	}
}

func TestSelfCallRejectsUnknownOperation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	data := EncodeSetAllowedTx(target, doSomething, model.Operation(5), false)
	handled, err := e.SelfCall(ctx, e.acct, model.Call{To: self, Data: data})
	if !handled || !errors.Is(err, model.ErrMalformedCalldata) {
		t.Fatalf("expected MalformedCalldata, got handled=%v err=%v", handled, err)
	}
	if got, _ := e.AllowedTx(ctx, wallet, target, doSomething, model.Operation(5)); got != 0 {
		t.Fatalf("expected nothing stored, got %d", got)
	}
	if _, err := e.SetAllowedTx(ctx, e.acct, target, doSomething, model.Operation(2), false); !errors.Is(err, model.ErrMalformedCalldata) {
		t.Fatalf("expected direct setter to reject operation 2, got %v", err)
	}
}
