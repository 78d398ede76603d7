package client

import (
	"context"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ppiankov/delayguard/internal/calldata"
	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/model"
	"github.com/ppiankov/delayguard/internal/safe"
	"github.com/ppiankov/delayguard/internal/server"
)

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	target     = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	testNow    = time.Unix(1_700_000_000, 0)
)

// startTestServer creates a server and returns its address.
func startTestServer(t *testing.T) (string, *safe.Registry) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("engine_address: \""+engineAddr.Hex()+"\"\ndelay: 1h\n"), 0644); err != nil {
		t.Fatal(err)
	}

	registry := safe.NewRegistry(big.NewInt(1))
	srv, err := server.New(server.Config{
		ConfigPath: path,
		Resolver:   registry,
		Clock:      func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)
	t.Cleanup(func() {
		srv.GracefulStop()
		srv.Close()
	})
	return lis.Addr().String(), registry
}

func newTestClient(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientConfigureAndCheck(t *testing.T) {
	addr, _ := startTestServer(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	key, _ := crypto.GenerateKey()
	auth := KeyAuthorizer(key)
	sel := ident.FromSignature("approve(address,uint256)")

	activeFrom, err := c.SetAllowedTx(ctx, auth, target, sel, model.OpCall, false)
	if err != nil {
		t.Fatalf("SetAllowedTx: %v", err)
	}
	if activeFrom != uint64(testNow.Unix()) {
		t.Errorf("expected immediate activation, got %d", activeFrom)
	}

	resp, err := c.Check(ctx, auth.Account, model.Call{To: target, Data: append(sel[:], make([]byte, 64)...)}, 0)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !resp.Allowed {
		t.Errorf("expected allowed, got %s", resp.Reason)
	}

	txs, err := c.ListTransactions(ctx, auth.Account)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 1 || !txs[0].Active {
		t.Errorf("expected one active transaction, got %+v", txs)
	}
}

func TestClientTokenAndCosigner(t *testing.T) {
	addr, registry := startTestServer(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	key, _ := crypto.GenerateKey()
	auth := KeyAuthorizer(key)
	registry.Local(auth.Account).Install(engineAddr)

	token := common.HexToAddress("0xc0")
	recipient := common.HexToAddress("0xc1")
	activeFrom, err := c.SetAllowedTokenTransfer(ctx, auth, token, recipient, big.NewInt(5), false)
	if err != nil {
		t.Fatalf("SetAllowedTokenTransfer: %v", err)
	}
	if want := uint64(testNow.Add(time.Hour).Unix()); activeFrom != want {
		t.Errorf("expected delayed activation %d, got %d", want, activeFrom)
	}
	ta, err := c.TokenAllowance(ctx, auth.Account, token, recipient)
	if err != nil {
		t.Fatalf("TokenAllowance: %v", err)
	}
	if ta.Active || ta.Amount.Int64() != 5 {
		t.Errorf("expected pending allowance of 5, got %+v", ta)
	}

	resp, _ := c.Check(ctx, auth.Account, model.Call{To: token, Data: calldata.EncodeTransfer(recipient, big.NewInt(1))}, 0)
	if resp.Allowed || resp.Reason != "TokenTransferNotAllowed" {
		t.Errorf("expected TokenTransferNotAllowed, got %+v", resp)
	}

	if _, err := c.SetCosigner(ctx, auth, common.HexToAddress("0xd0"), false); err != nil {
		t.Fatalf("SetCosigner: %v", err)
	}
	rec, err := c.Cosigner(ctx, auth.Account)
	if err != nil {
		t.Fatalf("Cosigner: %v", err)
	}
	if rec.Cosigner != common.HexToAddress("0xd0") || rec.Active {
		t.Errorf("expected pending cosigner, got %+v", rec)
	}

	ts, err := c.ScheduleGuardRemoval(ctx, auth)
	if err != nil {
		t.Fatalf("ScheduleGuardRemoval: %v", err)
	}
	removal, _ := c.Removal(ctx, auth.Account)
	if removal.ScheduledAt != ts {
		t.Errorf("expected schedule %d, got %+v", ts, removal)
	}
}

func TestClientFailClosed(t *testing.T) {
	// Port 1 is almost certainly not running a delayguard server
	c := newTestClient(t, "127.0.0.1:1")

	resp, err := c.Check(context.Background(), common.Address{}, model.Call{}, 0)
	if err != nil {
		t.Fatalf("expected no error (fail-closed), got %v", err)
	}
	if resp.Allowed || resp.Reason != "Unreachable" {
		t.Errorf("expected fail-closed denial, got %+v", resp)
	}
}
