package chain

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const tip20ABIJSON = `[
  {"type":"function","name":"transferWithMemo","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"},{"name":"memo","type":"bytes32"}],
   "outputs":[]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"TransferWithMemo","anonymous":false,
   "inputs":[{"name":"from","type":"address","indexed":true},
             {"name":"to","type":"address","indexed":true},
             {"name":"amount","type":"uint256","indexed":false},
             {"name":"memo","type":"bytes32","indexed":true}]}
]`

const (
	methodTransferWithMemo = "transferWithMemo"
	methodBalanceOf        = "balanceOf"
	eventTransferWithMemo  = "TransferWithMemo"
)

var (
	ErrUnexpectedFunction = errors.New("call is not transferWithMemo")
	ErrMalformedCall      = errors.New("call data cannot be decoded")
	ErrUnexpectedEvent    = errors.New("log is not TransferWithMemo")
)

// TIP20 is the parsed token ABI.
var TIP20 = mustParseABI(tip20ABIJSON)

// TransferWithMemoTopic is the event signature hash used as topic 0.
var TransferWithMemoTopic = TIP20.Events[eventTransferWithMemo].ID

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse TIP-20 ABI: %v", err))
	}
	return parsed
}

// TransferCall is a decoded transferWithMemo invocation.
type TransferCall struct {
	To     string
	Amount *big.Int
	Memo   [32]byte
}

// MemoHex renders the memo as 0x-prefixed lower-case hex.
func (c TransferCall) MemoHex() string {
	return "0x" + common.Bytes2Hex(c.Memo[:])
}

// EncodeTransferWithMemo packs transferWithMemo(to, amount, memo).
func EncodeTransferWithMemo(to string, amount *big.Int, memo [32]byte) ([]byte, error) {
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("invalid recipient address %q", to)
	}
	return TIP20.Pack(methodTransferWithMemo, common.HexToAddress(to), amount, memo)
}

// DecodeTransferWithMemo unpacks call data; any other selector yields ErrUnexpectedFunction.
func DecodeTransferWithMemo(data []byte) (TransferCall, error) {
	if len(data) < 4 {
		return TransferCall{}, ErrMalformedCall
	}
	method, err := TIP20.MethodById(data[:4])
	if err != nil {
		return TransferCall{}, ErrUnexpectedFunction
	}
	if method.Name != methodTransferWithMemo {
		return TransferCall{}, ErrUnexpectedFunction
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil || len(args) != 3 {
		return TransferCall{}, ErrMalformedCall
	}
	to, ok1 := args[0].(common.Address)
	amount, ok2 := args[1].(*big.Int)
	memo, ok3 := args[2].([32]byte)
	if !ok1 || !ok2 || !ok3 {
		return TransferCall{}, ErrMalformedCall
	}
	// re-encoding must reproduce the input exactly, trailing garbage is rejected
	reencoded, err := TIP20.Pack(methodTransferWithMemo, to, amount, memo)
	if err != nil || !bytes.Equal(reencoded, data) {
		return TransferCall{}, ErrMalformedCall
	}
	return TransferCall{To: strings.ToLower(to.Hex()), Amount: amount, Memo: memo}, nil
}

// EncodeBalanceOf packs balanceOf(account).
func EncodeBalanceOf(owner string) ([]byte, error) {
	if !common.IsHexAddress(owner) {
		return nil, fmt.Errorf("invalid owner address %q", owner)
	}
	return TIP20.Pack(methodBalanceOf, common.HexToAddress(owner))
}

// DecodeBalanceOf unpacks the uint256 result of balanceOf.
func DecodeBalanceOf(out []byte) (*big.Int, error) {
	values, err := TIP20.Unpack(methodBalanceOf, out)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("balanceOf returned %d values", len(values))
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", values[0])
	}
	return balance, nil
}

// ParseTransferLog decodes a raw TransferWithMemo log.
func ParseTransferLog(l types.Log) (TransferLog, error) {
	if len(l.Topics) != 4 || l.Topics[0] != TransferWithMemoTopic {
		return TransferLog{}, ErrUnexpectedEvent
	}
	values, err := TIP20.Unpack(eventTransferWithMemo, l.Data)
	if err != nil {
		return TransferLog{}, fmt.Errorf("unpack TransferWithMemo data: %w", err)
	}
	if len(values) != 1 {
		return TransferLog{}, ErrUnexpectedEvent
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return TransferLog{}, ErrUnexpectedEvent
	}
	var memo [32]byte
	copy(memo[:], l.Topics[3].Bytes())
	return TransferLog{
		TokenAddress: strings.ToLower(l.Address.Hex()),
		TxHash:       strings.ToLower(l.TxHash.Hex()),
		BlockHash:    strings.ToLower(l.BlockHash.Hex()),
		BlockNumber:  l.BlockNumber,
		LogIndex:     l.Index,
		From:         strings.ToLower(common.BytesToAddress(l.Topics[1].Bytes()).Hex()),
		To:           strings.ToLower(common.BytesToAddress(l.Topics[2].Bytes()).Hex()),
		Amount:       amount,
		Memo:         memo,
	}, nil
}

// IsAddress reports whether s is a 20 byte hex address.
func IsAddress(s string) bool {
	return common.IsHexAddress(s)
}
