package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gofiber/fiber/v2/log"
)

const defaultReceiptPollInterval = time.Second

// RPCClient talks to an EVM JSON-RPC node. Every call is bounded by the
// configured per-call timeout in addition to the caller's context.
type RPCClient struct {
	rpc          *rpc.Client
	eth          *ethclient.Client
	timeout      time.Duration
	pollInterval time.Duration
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url string, timeout time.Duration) (*RPCClient, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("chain rpc url is not configured")
	}
	raw, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	log.Infof("[Chain] Connected to RPC endpoint %s", url)
	return &RPCClient{
		rpc:          raw,
		eth:          ethclient.NewClient(raw),
		timeout:      timeout,
		pollInterval: defaultReceiptPollInterval,
	}, nil
}

// Close releases the underlying connection.
func (c *RPCClient) Close() {
	c.rpc.Close()
}

func (c *RPCClient) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *RPCClient) CurrentHeight(ctx context.Context) (uint64, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	height, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	return height, nil
}

type rpcTransaction struct {
	Hash  string        `json:"hash"`
	From  string        `json:"from"`
	To    *string       `json:"to"`
	Input hexutil.Bytes `json:"input"`
	Value *hexutil.Big  `json:"value"`
}

// GetTransaction reads the raw JSON so chain specific transaction envelopes still decode.
func (c *RPCClient) GetTransaction(ctx context.Context, hash string) (*Transaction, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	var raw *rpcTransaction
	if err := c.rpc.CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return nil, fmt.Errorf("eth_getTransactionByHash: %w", err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	tx := &Transaction{
		Hash:  strings.ToLower(raw.Hash),
		From:  strings.ToLower(raw.From),
		Input: raw.Input,
		Value: new(big.Int),
	}
	if raw.To != nil {
		tx.To = strings.ToLower(*raw.To)
	}
	if raw.Value != nil {
		tx.Value = raw.Value.ToInt()
	}
	return tx, nil
}

type rpcReceipt struct {
	TransactionHash string         `json:"transactionHash"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	Status          hexutil.Uint64 `json:"status"`
}

func (c *RPCClient) receipt(ctx context.Context, hash string) (*Receipt, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	var raw *rpcReceipt
	if err := c.rpc.CallContext(ctx, &raw, "eth_getTransactionReceipt", hash); err != nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt: %w", err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	return &Receipt{
		TxHash:      strings.ToLower(raw.TransactionHash),
		BlockNumber: uint64(raw.BlockNumber),
		Success:     raw.Status == 1,
	}, nil
}

// AwaitReceipt polls until the receipt exists and has the requested number of
// confirmations, or ctx ends.
func (c *RPCClient) AwaitReceipt(ctx context.Context, hash string, confirmations uint64) (*Receipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		r, err := c.receipt(ctx, hash)
		switch {
		case err == nil:
			height, herr := c.CurrentHeight(ctx)
			if herr == nil && height+1 >= r.BlockNumber+confirmations {
				return r, nil
			}
			if herr != nil {
				log.Warnf("[Chain] Height check while awaiting %s failed: %v", hash, herr)
			}
		case errors.Is(err, ErrNotFound):
		default:
			log.Warnf("[Chain] Receipt poll for %s failed: %v", hash, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("await receipt %s: %w", hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *RPCClient) EstimateGas(ctx context.Context, call CallRequest) (uint64, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	to := common.HexToAddress(call.To)
	return c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  common.HexToAddress(call.From),
		To:    &to,
		Data:  call.Data,
		Value: new(big.Int),
	})
}

func (c *RPCClient) QueryTransferLogs(ctx context.Context, tokenAddress string, fromBlock, toBlock uint64) ([]TransferLog, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{common.HexToAddress(tokenAddress)},
		Topics:    [][]common.Hash{{TransferWithMemoTopic}},
	})
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs %s [%d,%d]: %w", tokenAddress, fromBlock, toBlock, err)
	}
	out := make([]TransferLog, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		parsed, err := ParseTransferLog(l)
		if err != nil {
			log.Warnf("[Chain] Skipping undecodable log %s#%d: %v", l.TxHash.Hex(), l.Index, err)
			continue
		}
		out = append(out, parsed)
	}
	return out, nil
}

type rpcBlockHeader struct {
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

func (c *RPCClient) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	var raw *rpcBlockHeader
	if err := c.rpc.CallContext(ctx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(blockNumber), false); err != nil {
		return time.Time{}, fmt.Errorf("eth_getBlockByNumber %d: %w", blockNumber, err)
	}
	if raw == nil {
		return time.Time{}, ErrNotFound
	}
	return time.Unix(int64(raw.Timestamp), 0).UTC(), nil
}

func (c *RPCClient) BalanceOf(ctx context.Context, tokenAddress, owner string) (*big.Int, error) {
	data, err := EncodeBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	to := common.HexToAddress(tokenAddress)
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", tokenAddress, err)
	}
	return DecodeBalanceOf(out)
}
