// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ManuelReschke/HandlePay/internal/pkg/chain"
)

// Range is one QueryTransferLogs call.
type Range struct {
	Token    string
	From, To uint64
}

// Client is a scriptable chain.Client; build it with New.
type Client struct {
	mu sync.Mutex

	Height     uint64
	HeightErr  error
	Txs        map[string]*chain.Transaction
	Receipts   map[string]*chain.Receipt
	ReceiptErr error
	Logs       []chain.TransferLog
	LogsErr    error
	Balances   map[string]*big.Int
	BalanceErr error
	Gas        uint64
	GasErr     error

	// LogsErr applies only to queries starting at or after LogsErrFrom.
	LogsErrFrom uint64

	// Gate, when set, blocks CurrentHeight until it is closed.
	Gate chan struct{}

	Queried        []Range
	BalanceCalls   int
	TimestampCalls int
}

var _ chain.Client = (*Client)(nil)

func New() *Client {
	return &Client{
		Txs:      map[string]*chain.Transaction{},
		Receipts: map[string]*chain.Receipt{},
		Balances: map[string]*big.Int{},
		Gas:      21000,
	}
}

func key(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// SetHeight moves the chain tip.
func (c *Client) SetHeight(h uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Height = h
}

// AddTx registers a transaction and, when receipt is non-nil, its receipt.
func (c *Client) AddTx(tx *chain.Transaction, receipt *chain.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Txs[key(tx.Hash)] = tx
	if receipt != nil {
		c.Receipts[key(tx.Hash)] = receipt
	}
}

// AddLog appends a transfer log.
func (c *Client) AddLog(l chain.TransferLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Logs = append(c.Logs, l)
}

// SetBalance sets the raw balance of owner on token.
func (c *Client) SetBalance(token, owner string, raw *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Balances[key(token)+"/"+key(owner)] = raw
}

// Ranges returns a copy of the recorded log queries.
func (c *Client) Ranges() []Range {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Range(nil), c.Queried...)
}

func (c *Client) CurrentHeight(ctx context.Context) (uint64, error) {
	if c.Gate != nil {
		select {
		case <-c.Gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Height, c.HeightErr
}

func (c *Client) GetTransaction(ctx context.Context, hash string) (*chain.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.Txs[key(hash)]
	if !ok {
		return nil, chain.ErrNotFound
	}
	return tx, nil
}

// AwaitReceipt returns a registered receipt at once. A missing one blocks until
// ctx ends, as the RPC client keeps polling for it.
func (c *Client) AwaitReceipt(ctx context.Context, hash string, confirmations uint64) (*chain.Receipt, error) {
	c.mu.Lock()
	r, ok := c.Receipts[key(hash)]
	err := c.ReceiptErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if ok {
		return r, nil
	}
	<-ctx.Done()
	return nil, fmt.Errorf("await receipt %s: %w", hash, ctx.Err())
}

func (c *Client) EstimateGas(ctx context.Context, call chain.CallRequest) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Gas, c.GasErr
}

func (c *Client) QueryTransferLogs(ctx context.Context, tokenAddress string, fromBlock, toBlock uint64) ([]chain.TransferLog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Queried = append(c.Queried, Range{Token: key(tokenAddress), From: fromBlock, To: toBlock})
	if c.LogsErr != nil && fromBlock >= c.LogsErrFrom {
		return nil, c.LogsErr
	}
	var out []chain.TransferLog
	for _, l := range c.Logs {
		if key(l.TokenAddress) == key(tokenAddress) && l.BlockNumber >= fromBlock && l.BlockNumber <= toBlock {
			out = append(out, l)
		}
	}
	return out, nil
}

// BlockTimestamp derives a deterministic time from the block number.
func (c *Client) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TimestampCalls++
	return time.Unix(1_700_000_000+int64(blockNumber), 0).UTC(), nil
}

func (c *Client) BalanceOf(ctx context.Context, tokenAddress, owner string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BalanceCalls++
	if c.BalanceErr != nil {
		return nil, c.BalanceErr
	}
	if b, ok := c.Balances[key(tokenAddress)+"/"+key(owner)]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}
