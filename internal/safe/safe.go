// Package safe provides the account side of the guard protocol: reading an
// account's guard configuration and nonce, and computing the transaction
// hash its owners sign.
package safe

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ppiankov/delayguard/internal/model"
)

// Account is the collaborator the engine queries during a hook.
type Account interface {
	Address() common.Address
	Guard(ctx context.Context) (common.Address, error)
	ModuleGuard(ctx context.Context) (common.Address, error)
	// Nonce is the stored execution counter. Inside a hook it has already
	// been advanced past the executing transaction.
	Nonce(ctx context.Context) (uint64, error)
	TransactionHash(ctx context.Context, tx model.Transaction, nonce uint64) (common.Hash, error)
}

// Resolver returns the Account for an address.
type Resolver interface {
	Account(ctx context.Context, address common.Address) (Account, error)
}

var (
	domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(uint256 chainId,address verifyingContract)"))
	safeTxTypeHash = crypto.Keccak256Hash([]byte("SafeTx(address to,uint256 value,bytes data,uint8 operation,uint256 safeTxGas,uint256 baseGas,uint256 gasPrice,address gasToken,address refundReceiver,uint256 nonce)"))

	// GuardSlot and ModuleGuardSlot are the storage slots a Safe keeps
	// its guards in.
	GuardSlot       = crypto.Keccak256Hash([]byte("guard_manager.guard.address"))
	ModuleGuardSlot = crypto.Keccak256Hash([]byte("module_manager.module_guard.address"))
)

// DomainSeparator is the EIP-712 domain of the account on chainID.
func DomainSeparator(chainID *big.Int, account common.Address) common.Hash {
	return crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		word(model.BigOrZero(chainID)),
		common.LeftPadBytes(account.Bytes(), 32),
	)
}

// TransactionHash computes the EIP-712 digest of a Safe transaction, the
// same value the account's getTransactionHash returns.
func TransactionHash(chainID *big.Int, account common.Address, tx model.Transaction, nonce uint64) common.Hash {
	structHash := crypto.Keccak256Hash(
		safeTxTypeHash.Bytes(),
		common.LeftPadBytes(tx.To.Bytes(), 32),
		word(model.BigOrZero(tx.Value)),
		crypto.Keccak256(tx.Data),
		word(big.NewInt(int64(tx.Operation))),
		word(model.BigOrZero(tx.SafeTxGas)),
		word(model.BigOrZero(tx.BaseGas)),
		word(model.BigOrZero(tx.GasPrice)),
		common.LeftPadBytes(tx.GasToken.Bytes(), 32),
		common.LeftPadBytes(tx.RefundReceiver.Bytes(), 32),
		word(new(big.Int).SetUint64(nonce)),
	)
	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		DomainSeparator(chainID, account).Bytes(),
		structHash.Bytes(),
	)
}

func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}
