package model

import (
	"errors"
	"fmt"
)

// Denial kinds. Every one of them aborts the enclosing transaction.
var (
	ErrInvalidSelector           = errors.New("InvalidSelector")
	ErrFirstTimeTx               = errors.New("FirstTimeTx")
	ErrTokenTransferNotAllowed   = errors.New("TokenTransferNotAllowed")
	ErrTokenTransferExceedsLimit = errors.New("TokenTransferExceedsLimit")
	ErrInvalidTimestamp          = errors.New("InvalidTimestamp")
	ErrImproperGuardSetup        = errors.New("ImproperGuardSetup")

	ErrMalformedCalldata = errors.New("MalformedCalldata")
	ErrMalformedBatch    = errors.New("MalformedBatch")
	ErrBatchTooDeep      = errors.New("BatchTooDeep")
	ErrBatchTooLarge     = errors.New("BatchTooLarge")
	ErrPayloadTooLarge   = errors.New("PayloadTooLarge")
	ErrNotInstalled      = errors.New("NotInstalled")
)

var kinds = []error{
	ErrInvalidSelector,
	ErrFirstTimeTx,
	ErrTokenTransferNotAllowed,
	ErrTokenTransferExceedsLimit,
	ErrInvalidTimestamp,
	ErrImproperGuardSetup,
	ErrMalformedCalldata,
	ErrMalformedBatch,
	ErrBatchTooDeep,
	ErrBatchTooLarge,
	ErrPayloadTooLarge,
	ErrNotInstalled,
}

// DenyError reports which call a denial came from. Depth is 0 for the
// outer call and grows by one per nested batch.
type DenyError struct {
	Err   error
	Call  Call
	Depth int
}

func (e *DenyError) Error() string {
	var sel string
	if len(e.Call.Data) >= 4 {
		var s Selector
		copy(s[:], e.Call.Data[:4])
		sel = s.String()
	} else {
		sel = Selector{}.String()
	}
	return fmt.Sprintf("%v: to=%s selector=%s op=%s depth=%d",
		e.Err, e.Call.To.Hex(), sel, e.Call.Operation, e.Depth)
}

func (e *DenyError) Unwrap() error { return e.Err }

// Deny wraps err as a denial of call at depth.
func Deny(err error, call Call, depth int) error {
	return &DenyError{Err: err, Call: call, Depth: depth}
}

// Reason returns the taxonomy name of err, or "Internal" for failures that
// are not one of the known kinds.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return "Internal"
}

// ErrorForReason maps a taxonomy name back to its sentinel.
func ErrorForReason(reason string) error {
	for _, k := range kinds {
		if k.Error() == reason {
			return k
		}
	}
	return nil
}
