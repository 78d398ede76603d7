package delayguardv1

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ppiankov/delayguard/internal/model"
)

// Call is one call on the wire.
type Call struct {
	To        common.Address  `json:"to"`
	Value     *big.Int        `json:"value,omitempty"`
	Data      hexutil.Bytes   `json:"data,omitempty"`
	Operation model.Operation `json:"operation"`
}

// ToModel converts the wire call.
func (c Call) ToModel() model.Call {
	return model.Call{To: c.To, Value: c.Value, Data: c.Data, Operation: c.Operation}
}

// FromModel converts a model call to the wire form.
func FromModel(c model.Call) Call {
	return Call{To: c.To, Value: c.Value, Data: c.Data, Operation: c.Operation}
}

type CheckRequest struct {
	Account common.Address `json:"account"`
	Call    Call           `json:"call"`
	// At previews at an explicit unix timestamp. Zero means now.
	At uint64 `json:"at,omitempty"`
}

type CheckResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Depth   int    `json:"depth,omitempty"`
	At      uint64 `json:"at"`
}

type AllowanceRequest struct {
	Account   common.Address  `json:"account"`
	Target    common.Address  `json:"target"`
	Selector  model.Selector  `json:"selector"`
	Operation model.Operation `json:"operation"`
}

type AllowanceResponse struct {
	TxID       common.Hash `json:"tx_id"`
	ActiveFrom uint64      `json:"active_from"`
	Active     bool        `json:"active"`
}

type TokenAllowanceRequest struct {
	Account   common.Address `json:"account"`
	Token     common.Address `json:"token"`
	Recipient common.Address `json:"recipient"`
}

type TokenAllowanceResponse struct {
	ActiveFrom uint64   `json:"active_from"`
	Amount     *big.Int `json:"amount"`
	Active     bool     `json:"active"`
}

type AccountRequest struct {
	Account common.Address `json:"account"`
}

type CosignerResponse struct {
	Cosigner   common.Address `json:"cosigner"`
	ActiveFrom uint64         `json:"active_from"`
	Active     bool           `json:"active"`
}

type RemovalResponse struct {
	ScheduledAt uint64 `json:"scheduled_at"`
	Matured     bool   `json:"matured"`
}

type Transaction struct {
	TxID       common.Hash     `json:"tx_id"`
	Target     common.Address  `json:"target"`
	Selector   model.Selector  `json:"selector"`
	Operation  model.Operation `json:"operation"`
	ActiveFrom uint64          `json:"active_from"`
	Active     bool            `json:"active"`
}

type ListTransactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
}

type StatusResponse struct {
	Engine         common.Address `json:"engine"`
	Account        common.Address `json:"account"`
	Guard          common.Address `json:"guard"`
	ModuleGuard    common.Address `json:"module_guard"`
	Nonce          uint64         `json:"nonce"`
	Strategy       string         `json:"strategy"`
	FullyInstalled bool           `json:"fully_installed"`
	DelaySeconds   uint64         `json:"delay_seconds"`
	ConfigHash     string         `json:"config_hash"`
	Now            uint64         `json:"now"`
	ConfigNonce    uint64         `json:"config_nonce"`
}

// Auth proves a configuration request comes from the account it
// configures. Signature is over TextHash(Message(engine)) and is checked
// against the account address, so contract accounts sign through
// ERC-1271.
//
// Nonce must exceed the last nonce the engine consumed for the account
// (StatusResponse.ConfigNonce), so a captured request cannot be resent.
type Auth struct {
	Deadline  uint64        `json:"deadline"`
	Nonce     uint64        `json:"nonce"`
	Signature hexutil.Bytes `json:"signature"`
}

// Signed is implemented by every configuration request.
type Signed interface {
	Signer() common.Address
	Authorization() Auth
	Message(engine common.Address) string
}

// Digest is the hash a configuration request's signature covers.
func Digest(req Signed, engine common.Address) common.Hash {
	return common.BytesToHash(accounts.TextHash([]byte(req.Message(engine))))
}

type SetAllowedTxRequest struct {
	Account   common.Address  `json:"account"`
	Target    common.Address  `json:"target"`
	Selector  model.Selector  `json:"selector"`
	Operation model.Operation `json:"operation"`
	Reset     bool            `json:"reset"`
	Auth      Auth            `json:"auth"`
}

func (r *SetAllowedTxRequest) Signer() common.Address { return r.Account }
func (r *SetAllowedTxRequest) Authorization() Auth    { return r.Auth }

func (r *SetAllowedTxRequest) Message(engine common.Address) string {
	return fmt.Sprintf("delayguard.v1 setAllowedTx engine=%s account=%s target=%s selector=%s operation=%d reset=%t deadline=%d nonce=%d",
		engine.Hex(), r.Account.Hex(), r.Target.Hex(), r.Selector, r.Operation, r.Reset, r.Auth.Deadline, r.Auth.Nonce)
}

type SetCosignerRequest struct {
	Account  common.Address `json:"account"`
	Cosigner common.Address `json:"cosigner"`
	Reset    bool           `json:"reset"`
	Auth     Auth           `json:"auth"`
}

func (r *SetCosignerRequest) Signer() common.Address { return r.Account }
func (r *SetCosignerRequest) Authorization() Auth    { return r.Auth }

func (r *SetCosignerRequest) Message(engine common.Address) string {
	return fmt.Sprintf("delayguard.v1 setCosigner engine=%s account=%s cosigner=%s reset=%t deadline=%d nonce=%d",
		engine.Hex(), r.Account.Hex(), r.Cosigner.Hex(), r.Reset, r.Auth.Deadline, r.Auth.Nonce)
}

type SetAllowedTokenTransferRequest struct {
	Account   common.Address `json:"account"`
	Token     common.Address `json:"token"`
	Recipient common.Address `json:"recipient"`
	Amount    *big.Int       `json:"amount"`
	Reset     bool           `json:"reset"`
	Auth      Auth           `json:"auth"`
}

func (r *SetAllowedTokenTransferRequest) Signer() common.Address { return r.Account }
func (r *SetAllowedTokenTransferRequest) Authorization() Auth    { return r.Auth }

func (r *SetAllowedTokenTransferRequest) Message(engine common.Address) string {
	return fmt.Sprintf("delayguard.v1 setAllowedTokenTransfer engine=%s account=%s token=%s recipient=%s amount=%s reset=%t deadline=%d nonce=%d",
		engine.Hex(), r.Account.Hex(), r.Token.Hex(), r.Recipient.Hex(), model.BigOrZero(r.Amount), r.Reset, r.Auth.Deadline, r.Auth.Nonce)
}

type ScheduleGuardRemovalRequest struct {
	Account common.Address `json:"account"`
	Auth    Auth           `json:"auth"`
}

func (r *ScheduleGuardRemovalRequest) Signer() common.Address { return r.Account }
func (r *ScheduleGuardRemovalRequest) Authorization() Auth    { return r.Auth }

func (r *ScheduleGuardRemovalRequest) Message(engine common.Address) string {
	return fmt.Sprintf("delayguard.v1 scheduleGuardRemoval engine=%s account=%s deadline=%d nonce=%d",
		engine.Hex(), r.Account.Hex(), r.Auth.Deadline, r.Auth.Nonce)
}

type ConfigResponse struct {
	// ActiveFrom is the new activation timestamp, or the removal
	// timestamp for scheduleGuardRemoval.
	ActiveFrom uint64 `json:"active_from"`
}
