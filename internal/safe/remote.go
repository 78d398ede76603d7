package safe

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/model"
)

// Backend is the JSON-RPC surface a Remote account needs.
// *ethclient.Client satisfies it.
type Backend interface {
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

const safeABI = `[
{"type":"function","name":"nonce","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getTransactionHash","stateMutability":"view","inputs":[
 {"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},
 {"name":"operation","type":"uint8"},{"name":"safeTxGas","type":"uint256"},{"name":"baseGas","type":"uint256"},
 {"name":"gasPrice","type":"uint256"},{"name":"gasToken","type":"address"},{"name":"refundReceiver","type":"address"},
 {"name":"_nonce","type":"uint256"}],"outputs":[{"name":"","type":"bytes32"}]}
]`

var safeMethods = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(safeABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// Remote is a deployed Safe read over JSON-RPC at the latest block.
type Remote struct {
	address common.Address
	backend Backend
}

// NewRemote creates a Remote account.
func NewRemote(address common.Address, backend Backend) *Remote {
	return &Remote{address: address, backend: backend}
}

func (r *Remote) Address() common.Address { return r.address }

func (r *Remote) Guard(ctx context.Context) (common.Address, error) {
	return r.slotAddress(ctx, GuardSlot)
}

func (r *Remote) ModuleGuard(ctx context.Context) (common.Address, error) {
	return r.slotAddress(ctx, ModuleGuardSlot)
}

func (r *Remote) slotAddress(ctx context.Context, slot common.Hash) (common.Address, error) {
	raw, err := r.backend.StorageAt(ctx, r.address, slot, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("read slot %s of %s: %w", slot.Hex(), r.address.Hex(), err)
	}
	return common.BytesToAddress(raw), nil
}

func (r *Remote) Nonce(ctx context.Context) (uint64, error) {
	out, err := r.call(ctx, "nonce")
	if err != nil {
		return 0, err
	}
	n, ok := out[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("nonce: unexpected result %v", out[0])
	}
	return n.Uint64(), nil
}

func (r *Remote) TransactionHash(ctx context.Context, tx model.Transaction, nonce uint64) (common.Hash, error) {
	out, err := r.call(ctx, "getTransactionHash",
		tx.To,
		model.BigOrZero(tx.Value),
		tx.Data,
		uint8(tx.Operation),
		model.BigOrZero(tx.SafeTxGas),
		model.BigOrZero(tx.BaseGas),
		model.BigOrZero(tx.GasPrice),
		tx.GasToken,
		tx.RefundReceiver,
		new(big.Int).SetUint64(nonce),
	)
	if err != nil {
		return common.Hash{}, err
	}
	h, ok := out[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("getTransactionHash: unexpected result %T", out[0])
	}
	return common.Hash(h), nil
}

func (r *Remote) call(ctx context.Context, method string, args ...any) ([]any, error) {
	input, err := safeMethods.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, r.address.Hex(), err)
	}
	out, err := safeMethods.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s: expected one result, got %d", method, len(out))
	}
	return out, nil
}

// RemoteResolver resolves every address to a Remote account on backend.
type RemoteResolver struct {
	Backend Backend
}

func (r RemoteResolver) Account(_ context.Context, address common.Address) (Account, error) {
	return NewRemote(address, r.Backend), nil
}
