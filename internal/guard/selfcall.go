package guard

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/calldata"
	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/model"
	"github.com/ppiankov/delayguard/internal/safe"
)

const engineABIJSON = `[
  {"type":"function","name":"setAllowedTx","inputs":[
    {"name":"target","type":"address"},{"name":"selector","type":"bytes4"},
    {"name":"operation","type":"uint8"},{"name":"reset","type":"bool"}],"outputs":[]},
  {"type":"function","name":"setCosigner","inputs":[
    {"name":"cosigner","type":"address"},{"name":"reset","type":"bool"}],"outputs":[]},
  {"type":"function","name":"setAllowedTokenTransfer","inputs":[
    {"name":"token","type":"address"},{"name":"recipient","type":"address"},
    {"name":"amount","type":"uint256"},{"name":"reset","type":"bool"}],"outputs":[]},
  {"type":"function","name":"scheduleGuardRemoval","inputs":[],"outputs":[]}
]`

var engineABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(engineABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// EncodeSetAllowedTx returns the calldata of setAllowedTx on the engine.
func EncodeSetAllowedTx(target common.Address, selector model.Selector, op model.Operation, reset bool) []byte {
	return mustPack("setAllowedTx", target, [4]byte(selector), uint8(op), reset)
}

// EncodeSetCosigner returns the calldata of setCosigner on the engine.
func EncodeSetCosigner(cosigner common.Address, reset bool) []byte {
	return mustPack("setCosigner", cosigner, reset)
}

// EncodeSetAllowedTokenTransfer returns the calldata of
// setAllowedTokenTransfer on the engine.
func EncodeSetAllowedTokenTransfer(token, recipient common.Address, amount *big.Int, reset bool) []byte {
	return mustPack("setAllowedTokenTransfer", token, recipient, model.BigOrZero(amount), reset)
}

// EncodeScheduleGuardRemoval returns the calldata of scheduleGuardRemoval.
func EncodeScheduleGuardRemoval() []byte {
	return mustPack("scheduleGuardRemoval")
}

func mustPack(method string, args ...any) []byte {
	data, err := engineABI.Pack(method, args...)
	if err != nil {
		panic(fmt.Sprintf("pack %s: %v", method, err))
	}
	return data
}

// SelfCall executes call when it is a configuration call addressed to the
// engine, on behalf of acct. handled is false for any other call. It must
// not run inside a store transaction of the same engine.
func (e *Engine) SelfCall(ctx context.Context, acct safe.Account, call model.Call) (handled bool, err error) {
	if call.To != e.cfg.Self || call.Operation != model.OpCall {
		return false, nil
	}
	sel, err := ident.SelectorOf(call.Data)
	if err != nil || !ident.IsSelfManagement(sel) {
		return false, nil
	}
	method, err := engineABI.MethodById(sel[:])
	if err != nil {
		return true, fmt.Errorf("%w: %v", model.ErrMalformedCalldata, err)
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return true, fmt.Errorf("%w: %s: %v", model.ErrMalformedCalldata, method.Name, err)
	}

	switch sel {
	case ident.SetAllowedTx:
		selector := model.Selector(args[1].([4]byte))
		op := model.Operation(args[2].(uint8))
		if !op.Valid() {
			return true, fmt.Errorf("%w: %s: operation %d out of range", model.ErrMalformedCalldata, method.Name, uint8(op))
		}
		_, err = e.SetAllowedTx(ctx, acct, args[0].(common.Address), selector, op, args[3].(bool))
	case ident.SetCosigner:
		_, err = e.SetCosigner(ctx, acct, args[0].(common.Address), args[1].(bool))
	case ident.SetAllowedTokenTransfer:
		_, err = e.SetAllowedTokenTransfer(ctx, acct, args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int), args[3].(bool))
	case ident.ScheduleGuardRemoval:
		_, err = e.ScheduleGuardRemoval(ctx, acct)
	}
	return true, err
}

// SelfCalls applies every configuration call in call, descending into
// multiSend batches run by delegatecall. It returns how many were applied.
func (e *Engine) SelfCalls(ctx context.Context, acct safe.Account, call model.Call) (int, error) {
	return e.selfCalls(ctx, acct, call, 0)
}

func (e *Engine) selfCalls(ctx context.Context, acct safe.Account, call model.Call, depth int) (int, error) {
	if call.Operation == model.OpDelegateCall && calldata.IsMultiSend(call.Data) {
		if depth >= e.cfg.Limits.MaxDepth {
			return 0, model.ErrBatchTooDeep
		}
		calls, err := calldata.DecodeMultiSend(call.Data, e.cfg.Limits.MaxCalls)
		if err != nil {
			return 0, err
		}
		n := 0
		for _, sub := range calls {
			applied, err := e.selfCalls(ctx, acct, sub, depth+1)
			n += applied
			if err != nil {
				return n, err
			}
		}
		return n, nil
	}
	handled, err := e.SelfCall(ctx, acct, call)
	if handled {
		return 1, err
	}
	return 0, err
}
