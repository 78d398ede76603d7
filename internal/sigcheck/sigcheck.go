// Package sigcheck verifies that a signer approved a digest. Externally
// owned signers are checked by ECDSA recovery, contract signers through
// ERC-1271 isValidSignature.
package sigcheck

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLen is r(32) ‖ s(32) ‖ v(1).
const SignatureLen = 65

// Verifier reports whether sig is a valid signature by signer over digest.
// An invalid signature is (false, nil); err is reserved for failures to
// reach a verdict.
type Verifier interface {
	Verify(ctx context.Context, signer common.Address, digest common.Hash, sig []byte) (bool, error)
}

// ECDSA verifies 65-byte secp256k1 signatures. v may be 0/1 or 27/28;
// high-s signatures are rejected.
type ECDSA struct{}

func (ECDSA) Verify(_ context.Context, signer common.Address, digest common.Hash, sig []byte) (bool, error) {
	recovered, ok := Recover(digest, sig)
	return ok && recovered == signer, nil
}

// Recover returns the address that produced sig over digest.
func Recover(digest common.Hash, sig []byte) (common.Address, bool) {
	if len(sig) != SignatureLen {
		return common.Address{}, false
	}
	normalized := make([]byte, SignatureLen)
	copy(normalized, sig)
	switch v := normalized[64]; v {
	case 27, 28:
		normalized[64] = v - 27
	case 0, 1:
	default:
		return common.Address{}, false
	}
	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(normalized[64], r, s, true) {
		return common.Address{}, false
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, false
	}
	return crypto.PubkeyToAddress(*pub), true
}

// Sign produces a 65-byte signature with v in {27, 28}. Used by tooling
// that prepares cosigner blobs.
func Sign(digest common.Hash, key []byte) ([]byte, error) {
	priv, err := crypto.ToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}
	sig, err := crypto.Sign(digest.Bytes(), priv)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// ERC1271MagicValue is bytes4(keccak256("isValidSignature(bytes32,bytes)")).
var ERC1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

const erc1271ABI = `[{"type":"function","name":"isValidSignature","stateMutability":"view",
"inputs":[{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],
"outputs":[{"name":"magicValue","type":"bytes4"}]}]`

var erc1271 = mustABI(erc1271ABI)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ContractCaller executes read-only contract calls. *ethclient.Client
// satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ERC1271 asks the signer contract whether it accepts sig.
type ERC1271 struct {
	Caller ContractCaller
}

func (e ERC1271) Verify(ctx context.Context, signer common.Address, digest common.Hash, sig []byte) (bool, error) {
	input, err := erc1271.Pack("isValidSignature", [32]byte(digest), sig)
	if err != nil {
		return false, fmt.Errorf("pack isValidSignature: %w", err)
	}
	out, err := e.Caller.CallContract(ctx, ethereum.CallMsg{To: &signer, Data: input}, nil)
	if err != nil {
		// Reverts and calls into accounts without code are a refusal.
		return false, nil
	}
	// Return data must be exactly one ABI word holding the magic value.
	if len(out) != 32 {
		return false, nil
	}
	return bytes.Equal(out[:4], ERC1271MagicValue[:]) && isZero(out[4:]), nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Checker tries ECDSA recovery first and falls back to ERC-1271 when a
// contract caller is configured.
type Checker struct {
	Contract *ERC1271
}

// NewChecker creates a Checker. caller may be nil for ECDSA only.
func NewChecker(caller ContractCaller) *Checker {
	c := &Checker{}
	if caller != nil {
		c.Contract = &ERC1271{Caller: caller}
	}
	return c
}

func (c *Checker) Verify(ctx context.Context, signer common.Address, digest common.Hash, sig []byte) (bool, error) {
	if ok, _ := (ECDSA{}).Verify(ctx, signer, digest, sig); ok {
		return true, nil
	}
	if c.Contract == nil {
		return false, nil
	}
	return c.Contract.Verify(ctx, signer, digest, sig)
}
