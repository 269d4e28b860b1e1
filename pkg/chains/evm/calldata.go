package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Smart-wallet call shapes recognised by the decoder
const (
	ShapeExecute      = "execute"
	ShapeExecuteBatch = "executeBatch"
)

const smartWalletABIJSON = `[
	{"type":"function","name":"execute","stateMutability":"payable","outputs":[],"inputs":[
		{"name":"dest","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"func","type":"bytes"}
	]},
	{"type":"function","name":"executeBatch","stateMutability":"payable","outputs":[],"inputs":[
		{"name":"calls","type":"tuple[]","components":[
			{"name":"target","type":"address"},
			{"name":"value","type":"uint256"},
			{"name":"data","type":"bytes"}
		]}
	]}
]`

var smartWalletABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(smartWalletABIJSON))
	if err != nil {
		panic(fmt.Sprintf("failed to parse smart wallet ABI: %v", err))
	}
	smartWalletABI = parsed
}

// batchCall mirrors the (address target, uint256 value, bytes data) tuple
type batchCall struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// DecodeResult is what the decoder recovered from a proxied call.
// Selector is set whenever the input carries at least four bytes.
type DecodeResult struct {
	Matched     bool
	Value       *big.Int
	Selector    string
	Shape       string
	Destination string
}

// DecodeTransferToPayee looks inside execute/executeBatch calldata for a call
// moving value to payee. Unknown selectors and malformed encodings yield an
// unmatched result; this function never fails and never panics.
func DecodeTransferToPayee(input []byte, payee common.Address) (result DecodeResult) {
	if len(input) < 4 {
		return DecodeResult{}
	}
	result.Selector = hexutil.Encode(input[:4])

	defer func() {
		if r := recover(); r != nil {
			result = DecodeResult{Selector: hexutil.Encode(input[:4])}
		}
	}()

	method, err := smartWalletABI.MethodById(input[:4])
	if err != nil {
		return result
	}
	result.Shape = method.Name

	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return result
	}

	switch method.Name {
	case ShapeExecute:
		if len(args) != 3 {
			return result
		}
		dest, ok := args[0].(common.Address)
		if !ok {
			return result
		}
		value, ok := args[1].(*big.Int)
		if !ok {
			return result
		}
		result.Destination = dest.Hex()
		if dest == payee {
			result.Matched = true
			result.Value = new(big.Int).Set(value)
		}

	case ShapeExecuteBatch:
		if len(args) != 1 {
			return result
		}
		calls := *abi.ConvertType(args[0], new([]batchCall)).(*[]batchCall)
		// First matching call wins; later calls to the payee are ignored.
		for _, call := range calls {
			if call.Target == payee {
				result.Matched = true
				result.Destination = call.Target.Hex()
				result.Value = new(big.Int).Set(call.Value)
				break
			}
		}
	}

	return result
}
