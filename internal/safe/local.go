package safe

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/calldata"
	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/model"
)

// Local is an in-process account. It tracks the guard slots and nonce of
// a Safe and applies the effects of guard-setter calls, which is all the
// engine can observe.
type Local struct {
	mu      sync.Mutex
	address common.Address
	chainID *big.Int
	state   LocalState
}

// LocalState is a snapshot of a Local account.
type LocalState struct {
	Guard       common.Address `json:"guard" yaml:"guard"`
	ModuleGuard common.Address `json:"module_guard" yaml:"module_guard"`
	Nonce       uint64         `json:"nonce" yaml:"nonce"`
}

// NewLocal creates an account with no guards installed.
func NewLocal(address common.Address, chainID *big.Int) *Local {
	return &Local{address: address, chainID: model.BigOrZero(chainID)}
}

func (l *Local) Address() common.Address { return l.address }

func (l *Local) Guard(context.Context) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Guard, nil
}

func (l *Local) ModuleGuard(context.Context) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.ModuleGuard, nil
}

func (l *Local) Nonce(context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Nonce, nil
}

func (l *Local) TransactionHash(_ context.Context, tx model.Transaction, nonce uint64) (common.Hash, error) {
	return TransactionHash(l.chainID, l.address, tx, nonce), nil
}

// Install points both guard slots at guard.
func (l *Local) Install(guard common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Guard = guard
	l.state.ModuleGuard = guard
}

// SetGuards sets the guard slots independently.
func (l *Local) SetGuards(guard, moduleGuard common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Guard = guard
	l.state.ModuleGuard = moduleGuard
}

// Snapshot returns the current state.
func (l *Local) Snapshot() LocalState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Restore replaces the current state with s.
func (l *Local) Restore(s LocalState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
}

// Begin advances the nonce the way a Safe does before calling its guard.
// It returns the nonce the transaction executes under.
func (l *Local) Begin() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.state.Nonce
	l.state.Nonce++
	return n
}

// Apply executes the parts of call the account itself interprets:
// guard setters addressed to the account, including those inside
// multiSend batches run by delegatecall. Everything else is a no-op.
func (l *Local) Apply(_ context.Context, call model.Call) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.apply(call, 0)
}

func (l *Local) apply(call model.Call, depth int) error {
	limits := calldata.DefaultLimits()
	if depth > limits.MaxDepth {
		return model.ErrBatchTooDeep
	}
	if call.Operation == model.OpDelegateCall && calldata.IsMultiSend(call.Data) {
		calls, err := calldata.DecodeMultiSend(call.Data, limits.MaxCalls)
		if err != nil {
			return err
		}
		for _, c := range calls {
			if err := l.apply(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if call.To != l.address {
		return nil
	}
	sel, err := ident.SelectorOf(call.Data)
	if err != nil || !ident.IsGuardSetter(sel) {
		return nil
	}
	guard, err := calldata.GuardArgument(call.Data)
	if err != nil {
		return fmt.Errorf("apply %s: %w", sel, err)
	}
	if sel == ident.SetGuard {
		l.state.Guard = guard
	} else {
		l.state.ModuleGuard = guard
	}
	return nil
}

// Registry resolves addresses to Local accounts, creating them on first
// use.
type Registry struct {
	mu       sync.Mutex
	chainID  *big.Int
	accounts map[common.Address]*Local
}

// NewRegistry creates an empty registry for chainID.
func NewRegistry(chainID *big.Int) *Registry {
	return &Registry{chainID: chainID, accounts: make(map[common.Address]*Local)}
}

func (r *Registry) Account(_ context.Context, address common.Address) (Account, error) {
	return r.Local(address), nil
}

// Local returns the concrete account for address.
func (r *Registry) Local(address common.Address) *Local {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[address]
	if !ok {
		acct = NewLocal(address, r.chainID)
		r.accounts[address] = acct
	}
	return acct
}
