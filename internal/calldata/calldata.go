// Package calldata decodes the fixed payload shapes the engine recognizes:
// ERC-20 transfers, guard setters and packed multiSend batches.
package calldata

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/model"
)

const wordSize = 32

// TransferLen is selector + (address, uint256).
const TransferLen = 4 + 2*wordSize

// Transfer is a decoded ERC-20 transfer(address,uint256) call.
type Transfer struct {
	Token     common.Address
	Recipient common.Address
	Amount    *big.Int
}

// ParseTransfer matches the ERC-20 transfer shape: operation Call,
// transfer selector, and enough bytes for recipient and amount. ok is
// false when the call is not a transfer. A transfer whose address word
// has dirty upper bytes is rejected with ErrMalformedCalldata.
func ParseTransfer(call model.Call) (Transfer, bool, error) {
	if call.Operation != model.OpCall || len(call.Data) < TransferLen {
		return Transfer{}, false, nil
	}
	if sel, _ := ident.SelectorOf(call.Data); sel != ident.Transfer {
		return Transfer{}, false, nil
	}
	recipient, err := addressWord(call.Data[4 : 4+wordSize])
	if err != nil {
		return Transfer{}, false, err
	}
	return Transfer{
		Token:     call.To,
		Recipient: recipient,
		Amount:    new(big.Int).SetBytes(call.Data[4+wordSize : TransferLen]),
	}, true, nil
}

// EncodeTransfer builds transfer(recipient, amount) calldata.
func EncodeTransfer(recipient common.Address, amount *big.Int) []byte {
	out := make([]byte, 0, TransferLen)
	out = append(out, ident.Transfer[:]...)
	out = append(out, common.LeftPadBytes(recipient.Bytes(), wordSize)...)
	out = append(out, common.LeftPadBytes(model.BigOrZero(amount).Bytes(), wordSize)...)
	return out
}

// GuardArgument decodes the address argument of setGuard/setModuleGuard.
func GuardArgument(data []byte) (common.Address, error) {
	if len(data) < 4+wordSize {
		return common.Address{}, model.ErrMalformedCalldata
	}
	return addressWord(data[4 : 4+wordSize])
}

// EncodeGuardSetter builds setGuard/setModuleGuard calldata.
func EncodeGuardSetter(selector model.Selector, guard common.Address) []byte {
	out := make([]byte, 0, 4+wordSize)
	out = append(out, selector[:]...)
	return append(out, common.LeftPadBytes(guard.Bytes(), wordSize)...)
}

func addressWord(word []byte) (common.Address, error) {
	for _, b := range word[:wordSize-common.AddressLength] {
		if b != 0 {
			return common.Address{}, model.ErrMalformedCalldata
		}
	}
	return common.BytesToAddress(word[wordSize-common.AddressLength:]), nil
}
