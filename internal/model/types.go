package model

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Operation is how the account executes a call.
type Operation uint8

const (
	OpCall         Operation = 0
	OpDelegateCall Operation = 1
)

func (o Operation) String() string {
	switch o {
	case OpCall:
		return "call"
	case OpDelegateCall:
		return "delegatecall"
	default:
		return fmt.Sprintf("operation(%d)", uint8(o))
	}
}

// Valid reports whether o is one of the operations an account executes.
func (o Operation) Valid() bool {
	return o == OpCall || o == OpDelegateCall
}

// ParseOperation accepts "call", "delegatecall" or the numeric form.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "call":
		return OpCall, nil
	case "1", "delegatecall", "delegate_call":
		return OpDelegateCall, nil
	default:
		return 0, fmt.Errorf("unknown operation %q", s)
	}
}

// Selector is the 4-byte function tag at the start of a call payload.
// The zero selector stands for a plain value transfer.
type Selector [4]byte

func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// MarshalText encodes the selector as 0x-prefixed hex.
func (s Selector) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes 0x-prefixed (or bare) hex.
func (s *Selector) UnmarshalText(text []byte) error {
	parsed, err := ParseSelector(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSelector decodes a 4-byte hex selector.
func ParseSelector(v string) (Selector, error) {
	var s Selector
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(v), "0x"))
	if err != nil {
		return s, fmt.Errorf("invalid selector %q: %w", v, err)
	}
	if len(raw) != len(s) {
		return s, fmt.Errorf("invalid selector %q: want 4 bytes, got %d", v, len(raw))
	}
	copy(s[:], raw)
	return s, nil
}

// Call is one unit of execution: an outer transaction or a batch record.
type Call struct {
	To        common.Address `json:"to"`
	Value     *big.Int       `json:"value,omitempty"`
	Data      []byte         `json:"data,omitempty"`
	Operation Operation      `json:"operation"`
}

// Transaction carries the parameters a Safe passes to its guard before
// executing a signed transaction.
type Transaction struct {
	Call
	SafeTxGas      *big.Int       `json:"safe_tx_gas,omitempty"`
	BaseGas        *big.Int       `json:"base_gas,omitempty"`
	GasPrice       *big.Int       `json:"gas_price,omitempty"`
	GasToken       common.Address `json:"gas_token"`
	RefundReceiver common.Address `json:"refund_receiver"`
	Signatures     []byte         `json:"signatures,omitempty"`
	Sender         common.Address `json:"sender"`
}

// TokenAllowance is the per (token, recipient) transfer ceiling.
// A zero or nil Amount means not configured regardless of ActiveFrom.
type TokenAllowance struct {
	ActiveFrom uint64   `json:"active_from"`
	Amount     *big.Int `json:"amount"`
}

// Configured reports whether the allowance carries a usable amount.
func (a TokenAllowance) Configured() bool {
	return a.Amount != nil && a.Amount.Sign() > 0
}

// CosignerRecord is the single cosigner registered for an account.
type CosignerRecord struct {
	ActiveFrom uint64         `json:"active_from"`
	Cosigner   common.Address `json:"cosigner"`
}

// IsActive reports whether an activation timestamp is usable at now.
// Zero means not configured.
func IsActive(activeFrom, now uint64) bool {
	return activeFrom != 0 && activeFrom <= now
}

// BigOrZero returns v, or a fresh zero when v is nil.
func BigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
