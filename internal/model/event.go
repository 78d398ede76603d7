package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names an observable engine event.
type EventKind string

const (
	EventTxAllowed             EventKind = "tx_allowed"
	EventCosignerSet           EventKind = "cosigner_set"
	EventTokenTransferAllowed  EventKind = "token_transfer_allowed"
	EventGuardRemovalScheduled EventKind = "guard_removal_scheduled"
	EventGuardRemoved          EventKind = "guard_removed"
	EventDenied                EventKind = "denied"
)

// Event sources distinguish self-service configuration from cosigner
// upgrades.
const (
	SourceConfig   = "config"
	SourceCosigner = "cosigner"
	SourceHook     = "hook"
)

// Event is published after the state change it describes has been
// committed. Only the fields relevant to Kind are set.
type Event struct {
	Kind       EventKind      `json:"kind"`
	Account    common.Address `json:"account"`
	Source     string         `json:"source,omitempty"`
	ActiveFrom uint64         `json:"active_from"`

	// tx_allowed
	TxID      common.Hash    `json:"tx_id"`
	Target    common.Address `json:"target"`
	Selector  Selector       `json:"selector"`
	Operation Operation      `json:"operation"`

	// token_transfer_allowed
	Token     common.Address `json:"token"`
	Recipient common.Address `json:"recipient"`
	Amount    *big.Int       `json:"amount,omitempty"`

	// cosigner_set
	Cosigner common.Address `json:"cosigner"`

	// denied
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}
