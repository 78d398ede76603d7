// Package ident derives the identifiers the allowlist is keyed on: the
// 4-byte selector of a payload and the call identifier of a
// (target, selector, operation) triple.
package ident

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ppiankov/delayguard/internal/model"
)

// Well-known selectors. The set of recognized call shapes is closed.
var (
	SetAllowedTx            = FromSignature("setAllowedTx(address,bytes4,uint8,bool)")
	SetCosigner             = FromSignature("setCosigner(address,bool)")
	SetAllowedTokenTransfer = FromSignature("setAllowedTokenTransfer(address,address,uint256,bool)")
	ScheduleGuardRemoval    = FromSignature("scheduleGuardRemoval()")

	SetGuard       = FromSignature("setGuard(address)")
	SetModuleGuard = FromSignature("setModuleGuard(address)")

	Transfer  = FromSignature("transfer(address,uint256)")
	MultiSend = FromSignature("multiSend(bytes)")
)

// FromSignature returns the first four bytes of keccak256(signature).
func FromSignature(signature string) model.Selector {
	var s model.Selector
	copy(s[:], crypto.Keccak256([]byte(signature))[:4])
	return s
}

// SelectorOf extracts the selector of a payload. An empty payload is a
// plain value transfer and maps to the zero selector; 1-3 bytes is an
// error.
func SelectorOf(data []byte) (model.Selector, error) {
	var s model.Selector
	switch {
	case len(data) == 0:
		return s, nil
	case len(data) < len(s):
		return s, model.ErrInvalidSelector
	}
	copy(s[:], data[:4])
	return s, nil
}

// CallID is keccak256(target ‖ selector ‖ operation), packed. It does not
// depend on value or arguments.
func CallID(target common.Address, selector model.Selector, op model.Operation) common.Hash {
	return crypto.Keccak256Hash(target.Bytes(), selector[:], []byte{byte(op)})
}

// IsSelfManagement reports whether selector is one of the engine's own
// configuration entry points.
func IsSelfManagement(selector model.Selector) bool {
	switch selector {
	case SetAllowedTx, SetCosigner, SetAllowedTokenTransfer, ScheduleGuardRemoval:
		return true
	}
	return false
}

// IsGuardSetter reports whether selector is the account's transaction
// guard or module guard setter.
func IsGuardSetter(selector model.Selector) bool {
	return selector == SetGuard || selector == SetModuleGuard
}
