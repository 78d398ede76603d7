package mcp

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/delayguard/internal/calldata"
	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/model"
)

// --- Input/Output types ---

// AccountInput names the account being inspected.
type AccountInput struct {
	Account string `json:"account" jsonschema:"account (Safe) address, 0x-prefixed hex"`
}

// CheckInput defines parameters for the delayguard_check tool.
type CheckInput struct {
	Account   string `json:"account" jsonschema:"account (Safe) address"`
	To        string `json:"to" jsonschema:"call target address"`
	Value     string `json:"value,omitempty" jsonschema:"wei value in decimal"`
	Data      string `json:"data,omitempty" jsonschema:"call payload, 0x-prefixed hex"`
	Operation string `json:"operation,omitempty" jsonschema:"call or delegatecall (default call)"`
	At        uint64 `json:"at,omitempty" jsonschema:"unix timestamp to evaluate at, omit for now"`
}

// CheckOutput contains the preview decision.
type CheckOutput struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Depth   int    `json:"depth,omitempty"`
	At      uint64 `json:"at"`
}

// AllowanceInput defines parameters for the delayguard_allowance tool.
type AllowanceInput struct {
	Account   string `json:"account" jsonschema:"account (Safe) address"`
	Target    string `json:"target" jsonschema:"call target address"`
	Selector  string `json:"selector,omitempty" jsonschema:"4-byte selector in hex, or a function signature like transfer(address,uint256); omit for plain value transfers"`
	Operation string `json:"operation,omitempty" jsonschema:"call or delegatecall (default call)"`
}

// AllowanceOutput describes one allowlist entry.
type AllowanceOutput struct {
	TxID       string `json:"tx_id"`
	ActiveFrom uint64 `json:"active_from"`
	Active     bool   `json:"active"`
}

// TokenAllowanceInput defines parameters for the delayguard_token_allowance tool.
type TokenAllowanceInput struct {
	Account   string `json:"account" jsonschema:"account (Safe) address"`
	Token     string `json:"token" jsonschema:"ERC-20 token address"`
	Recipient string `json:"recipient" jsonschema:"transfer recipient address"`
}

// TokenAllowanceOutput describes a transfer ceiling.
type TokenAllowanceOutput struct {
	ActiveFrom uint64 `json:"active_from"`
	Amount     string `json:"amount"`
	Active     bool   `json:"active"`
}

// CosignerOutput describes the registered cosigner.
type CosignerOutput struct {
	Cosigner   string `json:"cosigner,omitempty"`
	ActiveFrom uint64 `json:"active_from"`
	Active     bool   `json:"active"`
}

// RemovalOutput describes the guard removal schedule.
type RemovalOutput struct {
	ScheduledAt uint64 `json:"scheduled_at"`
	Matured     bool   `json:"matured"`
}

// ListTxsOutput lists allowlisted call shapes.
type ListTxsOutput struct {
	Transactions []TxItem `json:"transactions"`
}

// TxItem describes a single allowlisted call shape.
type TxItem struct {
	TxID       string `json:"tx_id"`
	Target     string `json:"target"`
	Selector   string `json:"selector"`
	Operation  string `json:"operation"`
	ActiveFrom uint64 `json:"active_from"`
	Active     bool   `json:"active"`
}

// StatusOutput describes the engine's installation on an account.
type StatusOutput struct {
	Engine         string `json:"engine"`
	Guard          string `json:"guard"`
	ModuleGuard    string `json:"module_guard"`
	FullyInstalled bool   `json:"fully_installed"`
	Strategy       string `json:"strategy"`
	Nonce          uint64 `json:"nonce"`
	ConfigNonce    uint64 `json:"config_nonce"`
	DelaySeconds   uint64 `json:"delay_seconds"`
}

// DecodeInput defines parameters for the delayguard_decode tool.
type DecodeInput struct {
	To        string `json:"to,omitempty" jsonschema:"call target address"`
	Data      string `json:"data" jsonschema:"call payload, 0x-prefixed hex"`
	Operation string `json:"operation,omitempty" jsonschema:"call or delegatecall (default call)"`
}

// DecodeOutput lists the decoded calls depth-first.
type DecodeOutput struct {
	Calls []DecodedCall `json:"calls"`
}

// DecodedCall is one node of a decoded batch.
type DecodedCall struct {
	Depth     int    `json:"depth"`
	To        string `json:"to"`
	Value     string `json:"value"`
	Selector  string `json:"selector"`
	Operation string `json:"operation"`
	DataLen   int    `json:"data_len"`
	Batch     bool   `json:"batch,omitempty"`
}

// --- Handlers ---

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	account, err := parseAddress("account", input.Account)
	if err != nil {
		return nil, CheckOutput{}, err
	}
	call, err := parseCall(input.To, input.Value, input.Data, input.Operation)
	if err != nil {
		return nil, CheckOutput{}, err
	}
	resp, err := s.backend.Check(ctx, account, call, input.At)
	if err != nil {
		return nil, CheckOutput{}, err
	}
	return nil, CheckOutput{
		Allowed: resp.Allowed,
		Reason:  resp.Reason,
		Detail:  resp.Detail,
		Depth:   resp.Depth,
		At:      resp.At,
	}, nil
}

func (s *Server) handleAllowance(ctx context.Context, req *mcpsdk.CallToolRequest, input AllowanceInput) (*mcpsdk.CallToolResult, AllowanceOutput, error) {
	account, err := parseAddress("account", input.Account)
	if err != nil {
		return nil, AllowanceOutput{}, err
	}
	target, err := parseAddress("target", input.Target)
	if err != nil {
		return nil, AllowanceOutput{}, err
	}
	selector, err := parseSelector(input.Selector)
	if err != nil {
		return nil, AllowanceOutput{}, err
	}
	op, err := model.ParseOperation(input.Operation)
	if err != nil {
		return nil, AllowanceOutput{}, err
	}
	resp, err := s.backend.Allowance(ctx, account, target, selector, op)
	if err != nil {
		return nil, AllowanceOutput{}, err
	}
	return nil, AllowanceOutput{TxID: resp.TxID.Hex(), ActiveFrom: resp.ActiveFrom, Active: resp.Active}, nil
}

func (s *Server) handleTokenAllowance(ctx context.Context, req *mcpsdk.CallToolRequest, input TokenAllowanceInput) (*mcpsdk.CallToolResult, TokenAllowanceOutput, error) {
	account, err := parseAddress("account", input.Account)
	if err != nil {
		return nil, TokenAllowanceOutput{}, err
	}
	token, err := parseAddress("token", input.Token)
	if err != nil {
		return nil, TokenAllowanceOutput{}, err
	}
	recipient, err := parseAddress("recipient", input.Recipient)
	if err != nil {
		return nil, TokenAllowanceOutput{}, err
	}
	resp, err := s.backend.TokenAllowance(ctx, account, token, recipient)
	if err != nil {
		return nil, TokenAllowanceOutput{}, err
	}
	return nil, TokenAllowanceOutput{
		ActiveFrom: resp.ActiveFrom,
		Amount:     model.BigOrZero(resp.Amount).String(),
		Active:     resp.Active,
	}, nil
}

func (s *Server) handleCosigner(ctx context.Context, req *mcpsdk.CallToolRequest, input AccountInput) (*mcpsdk.CallToolResult, CosignerOutput, error) {
	account, err := parseAddress("account", input.Account)
	if err != nil {
		return nil, CosignerOutput{}, err
	}
	resp, err := s.backend.Cosigner(ctx, account)
	if err != nil {
		return nil, CosignerOutput{}, err
	}
	out := CosignerOutput{ActiveFrom: resp.ActiveFrom, Active: resp.Active}
	if resp.ActiveFrom != 0 {
		out.Cosigner = resp.Cosigner.Hex()
	}
	return nil, out, nil
}

func (s *Server) handleRemoval(ctx context.Context, req *mcpsdk.CallToolRequest, input AccountInput) (*mcpsdk.CallToolResult, RemovalOutput, error) {
	account, err := parseAddress("account", input.Account)
	if err != nil {
		return nil, RemovalOutput{}, err
	}
	resp, err := s.backend.Removal(ctx, account)
	if err != nil {
		return nil, RemovalOutput{}, err
	}
	return nil, RemovalOutput{ScheduledAt: resp.ScheduledAt, Matured: resp.Matured}, nil
}

func (s *Server) handleListTxs(ctx context.Context, req *mcpsdk.CallToolRequest, input AccountInput) (*mcpsdk.CallToolResult, ListTxsOutput, error) {
	account, err := parseAddress("account", input.Account)
	if err != nil {
		return nil, ListTxsOutput{}, err
	}
	txs, err := s.backend.ListTransactions(ctx, account)
	if err != nil {
		return nil, ListTxsOutput{}, err
	}
	out := ListTxsOutput{Transactions: make([]TxItem, len(txs))}
	for i, tx := range txs {
		out.Transactions[i] = TxItem{
			TxID:       tx.TxID.Hex(),
			Target:     tx.Target.Hex(),
			Selector:   tx.Selector.String(),
			Operation:  tx.Operation.String(),
			ActiveFrom: tx.ActiveFrom,
			Active:     tx.Active,
		}
	}
	return nil, out, nil
}

func (s *Server) handleStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input AccountInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	account, err := parseAddress("account", input.Account)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	st, err := s.backend.Status(ctx, account)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, StatusOutput{
		Engine:         st.Engine.Hex(),
		Guard:          st.Guard.Hex(),
		ModuleGuard:    st.ModuleGuard.Hex(),
		FullyInstalled: st.FullyInstalled,
		Strategy:       st.Strategy,
		Nonce:          st.Nonce,
		ConfigNonce:    st.ConfigNonce,
		DelaySeconds:   st.DelaySeconds,
	}, nil
}

func (s *Server) handleDecode(ctx context.Context, req *mcpsdk.CallToolRequest, input DecodeInput) (*mcpsdk.CallToolResult, DecodeOutput, error) {
	to := input.To
	if to == "" {
		to = common.Address{}.Hex()
	}
	call, err := parseCall(to, "", input.Data, input.Operation)
	if err != nil {
		return nil, DecodeOutput{}, err
	}
	root, err := calldata.Tree(call, s.limits)
	if err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, DecodeOutput{}, fmt.Errorf("decode: %w", err)
	}
	var out DecodeOutput
	root.Walk(func(n *calldata.Node, depth int) {
		sel, _ := ident.SelectorOf(n.Call.Data)
		out.Calls = append(out.Calls, DecodedCall{
			Depth:     depth,
			To:        n.Call.To.Hex(),
			Value:     model.BigOrZero(n.Call.Value).String(),
			Selector:  sel.String(),
			Operation: n.Call.Operation.String(),
			DataLen:   len(n.Call.Data),
			Batch:     n.Batch != nil,
		})
	})
	return nil, out, nil
}

// --- Parsing ---

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: %q is not a hex address", field, s)
	}
	return common.HexToAddress(s), nil
}

// parseSelector accepts hex or a function signature. Empty is the value
// transfer selector.
func parseSelector(s string) (model.Selector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return model.Selector{}, nil
	}
	if strings.Contains(s, "(") {
		return ident.FromSignature(s), nil
	}
	return model.ParseSelector(s)
}

func parseCall(to, value, data, operation string) (model.Call, error) {
	target, err := parseAddress("to", to)
	if err != nil {
		return model.Call{}, err
	}
	call := model.Call{To: target}
	if value != "" {
		v, ok := new(big.Int).SetString(value, 10)
		if !ok || v.Sign() < 0 {
			return model.Call{}, fmt.Errorf("value: %q is not a non-negative decimal", value)
		}
		call.Value = v
	}
	if data != "" {
		raw, err := hexutil.Decode(data)
		if err != nil {
			return model.Call{}, fmt.Errorf("data: %w", err)
		}
		call.Data = raw
	}
	if call.Operation, err = model.ParseOperation(operation); err != nil {
		return model.Call{}, err
	}
	return call, nil
}
