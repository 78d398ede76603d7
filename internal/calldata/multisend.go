package calldata

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/model"
)

// recordHeader is operation(1) + to(20) + value(32) + dataLength(32).
const recordHeader = 1 + common.AddressLength + wordSize + wordSize

// Limits caps what the engine will decode from an attacker-supplied
// payload.
type Limits struct {
	MaxDepth        int `yaml:"max_batch_depth" json:"max_batch_depth"`
	MaxCalls        int `yaml:"max_batch_calls" json:"max_batch_calls"`
	MaxPayloadBytes int `yaml:"max_payload_bytes" json:"max_payload_bytes"`
}

// DefaultLimits returns the built-in caps.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:        8,
		MaxCalls:        256,
		MaxPayloadBytes: 1 << 20,
	}
}

// IsMultiSend reports whether data invokes multiSend(bytes).
func IsMultiSend(data []byte) bool {
	sel, err := ident.SelectorOf(data)
	return err == nil && sel == ident.MultiSend
}

// DecodeMultiSend decodes multiSend(bytes) calldata into its records.
// Any length that overruns the buffer is ErrMalformedBatch; more than
// maxCalls records is ErrBatchTooLarge. maxCalls <= 0 means no cap.
func DecodeMultiSend(data []byte, maxCalls int) ([]model.Call, error) {
	if !IsMultiSend(data) {
		return nil, model.ErrMalformedBatch
	}
	packed, err := unwrapBytes(data[4:])
	if err != nil {
		return nil, err
	}

	var calls []model.Call
	for pos := 0; pos < len(packed); {
		if len(packed)-pos < recordHeader {
			return nil, model.ErrMalformedBatch
		}
		if maxCalls > 0 && len(calls) == maxCalls {
			return nil, model.ErrBatchTooLarge
		}
		op := model.Operation(packed[pos])
		to := common.BytesToAddress(packed[pos+1 : pos+1+common.AddressLength])
		valueStart := pos + 1 + common.AddressLength
		value := new(big.Int).SetBytes(packed[valueStart : valueStart+wordSize])
		n, ok := wordLen(packed[valueStart+wordSize : pos+recordHeader])
		start := pos + recordHeader
		if !ok || n > uint64(len(packed)-start) {
			return nil, model.ErrMalformedBatch
		}
		end := start + int(n)
		payload := make([]byte, n)
		copy(payload, packed[start:end])
		calls = append(calls, model.Call{To: to, Value: value, Data: payload, Operation: op})
		pos = end
	}
	return calls, nil
}

// EncodeMultiSend builds multiSend(bytes) calldata from calls.
func EncodeMultiSend(calls []model.Call) []byte {
	var packed []byte
	for _, c := range calls {
		packed = append(packed, byte(c.Operation))
		packed = append(packed, c.To.Bytes()...)
		packed = append(packed, common.LeftPadBytes(model.BigOrZero(c.Value).Bytes(), wordSize)...)
		packed = append(packed, uintWord(uint64(len(c.Data)))...)
		packed = append(packed, c.Data...)
	}

	out := make([]byte, 0, 4+2*wordSize+len(packed)+wordSize)
	out = append(out, ident.MultiSend[:]...)
	out = append(out, uintWord(wordSize)...)
	out = append(out, uintWord(uint64(len(packed)))...)
	out = append(out, packed...)
	if rem := len(packed) % wordSize; rem != 0 {
		out = append(out, make([]byte, wordSize-rem)...)
	}
	return out
}

// unwrapBytes decodes a single ABI-encoded dynamic bytes argument.
func unwrapBytes(args []byte) ([]byte, error) {
	if len(args) < wordSize {
		return nil, model.ErrMalformedBatch
	}
	offset, ok := wordLen(args[:wordSize])
	if !ok || offset > uint64(len(args)) || uint64(len(args))-offset < wordSize {
		return nil, model.ErrMalformedBatch
	}
	lenStart := int(offset)
	n, ok := wordLen(args[lenStart : lenStart+wordSize])
	start := lenStart + wordSize
	if !ok || n > uint64(len(args)-start) {
		return nil, model.ErrMalformedBatch
	}
	return args[start : start+int(n)], nil
}

// wordLen reads a 32-byte big-endian length. Values that do not fit in 32
// bits cannot index any real buffer and are rejected.
func wordLen(word []byte) (uint64, bool) {
	for _, b := range word[:wordSize-4] {
		if b != 0 {
			return 0, false
		}
	}
	return uint64(binary.BigEndian.Uint32(word[wordSize-4:])), true
}

func uintWord(v uint64) []byte {
	w := make([]byte, wordSize)
	binary.BigEndian.PutUint64(w[wordSize-8:], v)
	return w
}
