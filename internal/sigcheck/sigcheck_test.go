package sigcheck

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func newTestKey(t *testing.T) ([]byte, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return crypto.FromECDSA(key), crypto.PubkeyToAddress(key.PublicKey)
}

var digest = crypto.Keccak256Hash([]byte("safe tx"))

func TestECDSAVerify(t *testing.T) {
	key, addr := newTestKey(t)
	sig, err := Sign(digest, key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("expected v in {27,28}, got %d", sig[64])
	}
	ok, err := ECDSA{}.Verify(context.Background(), addr, digest, sig)
	if err != nil || !ok {
		t.Fatalf("expected valid signature, got ok=%v err=%v", ok, err)
	}

	// The raw {0,1} form is accepted too.
	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	if ok, _ := (ECDSA{}).Verify(context.Background(), addr, digest, raw); !ok {
		t.Fatal("expected v in {0,1} accepted")
	}
}

func TestECDSARejects(t *testing.T) {
	key, addr := newTestKey(t)
	sig, _ := Sign(digest, key)
	_, other := newTestKey(t)
	ctx := context.Background()

	if ok, _ := (ECDSA{}).Verify(ctx, other, digest, sig); ok {
		t.Error("expected wrong signer rejected")
	}
	if ok, _ := (ECDSA{}).Verify(ctx, addr, crypto.Keccak256Hash([]byte("other")), sig); ok {
		t.Error("expected wrong digest rejected")
	}
	if ok, _ := (ECDSA{}).Verify(ctx, addr, digest, sig[:64]); ok {
		t.Error("expected short signature rejected")
	}
	bad := append([]byte(nil), sig...)
	bad[64] = 5
	if ok, _ := (ECDSA{}).Verify(ctx, addr, digest, bad); ok {
		t.Error("expected bad v rejected")
	}
}

func TestECDSARejectsHighS(t *testing.T) {
	key, addr := newTestKey(t)
	sig, _ := Sign(digest, key)

	// Flip s to n - s and v parity: same signer, malleated encoding.
	n := crypto.S256().Params().N
	s := new(big.Int).SetBytes(sig[32:64])
	high := new(big.Int).Sub(n, s)
	malleated := append([]byte(nil), sig[:32]...)
	malleated = append(malleated, common.LeftPadBytes(high.Bytes(), 32)...)
	malleated = append(malleated, 27+(1-(sig[64]-27)))

	if ok, _ := (ECDSA{}).Verify(context.Background(), addr, digest, malleated); ok {
		t.Fatal("expected high-s signature rejected")
	}
}

type fakeCaller struct {
	out  []byte
	err  error
	seen ethereum.CallMsg
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.seen = msg
	return f.out, f.err
}

func magicWord() []byte {
	out := make([]byte, 32)
	copy(out, ERC1271MagicValue[:])
	return out
}

func TestERC1271(t *testing.T) {
	wallet := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	ctx := context.Background()

	caller := &fakeCaller{out: magicWord()}
	ok, err := ERC1271{Caller: caller}.Verify(ctx, wallet, digest, []byte{0x01})
	if err != nil || !ok {
		t.Fatalf("expected magic value accepted, got ok=%v err=%v", ok, err)
	}
	if caller.seen.To == nil || *caller.seen.To != wallet {
		t.Fatalf("expected call to signer contract, got %+v", caller.seen)
	}
	if got := caller.seen.Data[:4]; string(got) != string(ERC1271MagicValue[:]) {
		t.Fatalf("expected isValidSignature selector, got %x", got)
	}

	for name, c := range map[string]*fakeCaller{
		"revert":      {err: errors.New("execution reverted")},
		"empty":       {},
		"wrong magic": {out: make([]byte, 32)},
		"dirty word":  {out: append(magicWord()[:31], 0x01)},
	} {
		if ok, err := (ERC1271{Caller: c}).Verify(ctx, wallet, digest, nil); ok || err != nil {
			t.Errorf("%s: expected refusal, got ok=%v err=%v", name, ok, err)
		}
	}
}

func TestCheckerFallsBackToContract(t *testing.T) {
	key, addr := newTestKey(t)
	sig, _ := Sign(digest, key)
	ctx := context.Background()

	plain := NewChecker(nil)
	if ok, _ := plain.Verify(ctx, addr, digest, sig); !ok {
		t.Fatal("expected ECDSA path to accept")
	}
	wallet := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	if ok, _ := plain.Verify(ctx, wallet, digest, sig); ok {
		t.Fatal("expected ECDSA-only checker to refuse contract signer")
	}
	withContract := NewChecker(&fakeCaller{out: magicWord()})
	if ok, _ := withContract.Verify(ctx, wallet, digest, sig); !ok {
		t.Fatal("expected ERC-1271 fallback to accept")
	}
}
