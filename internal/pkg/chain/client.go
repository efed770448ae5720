// Package chain wraps the EVM JSON-RPC calls the settlement core needs and the
// TIP-20 transferWithMemo encoding shared by prepare, confirm and the indexer.
package chain

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// ErrNotFound is returned when a transaction or receipt is unknown to the node.
var ErrNotFound = errors.New("chain: not found")

// Transaction is the subset of a transaction confirm validates against an intent.
type Transaction struct {
	Hash  string
	From  string
	To    string
	Input []byte
	Value *big.Int
}

// Receipt is a mined transaction outcome.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Success     bool
}

// TransferLog is a decoded TransferWithMemo event. Addresses and hashes are lower-cased.
type TransferLog struct {
	TokenAddress string
	TxHash       string
	BlockHash    string
	BlockNumber  uint64
	LogIndex     uint
	From         string
	To           string
	Amount       *big.Int
	Memo         [32]byte
}

// CallRequest is an unsigned call used for gas estimation.
type CallRequest struct {
	From string
	To   string
	Data []byte
}

// Client is everything the core consumes from the chain.
type Client interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	GetTransaction(ctx context.Context, hash string) (*Transaction, error)
	AwaitReceipt(ctx context.Context, hash string, confirmations uint64) (*Receipt, error)
	EstimateGas(ctx context.Context, call CallRequest) (uint64, error)
	QueryTransferLogs(ctx context.Context, tokenAddress string, fromBlock, toBlock uint64) ([]TransferLog, error)
	BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
	BalanceOf(ctx context.Context, tokenAddress, owner string) (*big.Int, error)
}
