// Package payments runs the intent state machine: prepare quotes an unsigned
// transferWithMemo request, confirm verifies the client-signed transaction and
// follows it to settlement.
package payments

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/HandlePay/app/models"
	"github.com/ManuelReschke/HandlePay/app/repository"
	"github.com/ManuelReschke/HandlePay/internal/pkg/apperr"
	"github.com/ManuelReschke/HandlePay/internal/pkg/audit"
	"github.com/ManuelReschke/HandlePay/internal/pkg/chain"
	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
	"github.com/ManuelReschke/HandlePay/internal/pkg/identity"
	"github.com/ManuelReschke/HandlePay/internal/pkg/indexer"
	"github.com/ManuelReschke/HandlePay/internal/pkg/metrics"
	"github.com/ManuelReschke/HandlePay/internal/pkg/notify"
	"github.com/ManuelReschke/HandlePay/internal/pkg/usercontext"
)

const (
	ModeClientSigned = "client_signed"

	DefaultGasLimit = 300000

	FailureReceiptFailed = "receipt_failed"
	failureReceiptMsg    = "Transaction receipt status indicates failure"

	receiptConfirmations = 1

	errDifferentTx = "Payment intent was confirmed with a different transaction"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

// PrepareInput is a request to quote a payment.
type PrepareInput struct {
	RecipientHandle string          `json:"recipientHandle" validate:"required,max=255"`
	AmountUSD       decimal.Decimal `json:"amountUsd"`
	Stablecoin      string          `json:"stablecoin" validate:"required,max=32"`
	Memo            string          `json:"memo" validate:"max=255"`
	IdempotencyKey  string          `json:"idempotencyKey" validate:"required,max=128"`
}

// ConfirmInput binds a broadcast transaction to an intent.
type ConfirmInput struct {
	PaymentID string `json:"paymentId" validate:"required"`
	TxHash    string `json:"txHash" validate:"required"`
}

// TxRequest is the unsigned transaction the client signs and broadcasts.
type TxRequest struct {
	To           string `json:"to"`
	Data         string `json:"data"`
	Value        string `json:"value"`
	ChainID      int64  `json:"chainId"`
	GasLimit     string `json:"gasLimit"`
	TokenAddress string `json:"tokenAddress"`
	AmountUnits  string `json:"amountUnits"`
	MemoHex      string `json:"memoHex"`
	Stablecoin   string `json:"stablecoin"`
}

type PrepareResult struct {
	PaymentID       string    `json:"paymentId"`
	SenderUserID    string    `json:"senderUserId"`
	RecipientUserID string    `json:"recipientUserId"`
	TxRequest       TxRequest `json:"txRequest"`
	Status          string    `json:"status"`
}

// PaymentView is the public shape of an intent.
type PaymentView struct {
	PaymentID       string          `json:"paymentId"`
	SenderUserID    string          `json:"senderUserId"`
	RecipientUserID string          `json:"recipientUserId"`
	RecipientHandle string          `json:"recipientHandle"`
	AmountUSD       decimal.Decimal `json:"amountUsd"`
	Stablecoin      string          `json:"stablecoin"`
	Memo            *string         `json:"memo,omitempty"`
	MemoHex         string          `json:"memoHex"`
	Status          string          `json:"status"`
	Chain           string          `json:"chain"`
	TxHash          *string         `json:"txHash,omitempty"`
	SponsoredFee    bool            `json:"sponsoredFee"`
	CreatedAt       time.Time       `json:"createdAt"`
	IdempotencyKey  string          `json:"idempotencyKey"`
	FailureCode     *string         `json:"failureCode,omitempty"`
	FailureMessage  *string         `json:"failureMessage,omitempty"`
}

// BalanceInvalidator drops cached wallet balances.
type BalanceInvalidator interface {
	InvalidateBalances(ctx context.Context, wallets ...string)
}

// Service is the Payment Intent Manager.
type Service struct {
	identity *identity.Service
	payments repository.PaymentRepository
	chain    chain.Client
	tokens   *config.Stablecoins
	indexer  *indexer.Indexer
	queue    *notify.Queue
	audit    *audit.Writer
	balances BalanceInvalidator
	chainCfg config.ChainConfig
	now      func() time.Time
}

// Deps groups the collaborators of Service.
type Deps struct {
	Identity *identity.Service
	Payments repository.PaymentRepository
	Chain    chain.Client
	Tokens   *config.Stablecoins
	Indexer  *indexer.Indexer
	Queue    *notify.Queue
	Audit    *audit.Writer
	Balances BalanceInvalidator
	ChainCfg config.ChainConfig
}

func NewService(d Deps) *Service {
	return &Service{
		identity: d.Identity,
		payments: d.Payments,
		chain:    d.Chain,
		tokens:   d.Tokens,
		indexer:  d.Indexer,
		queue:    d.Queue,
		audit:    d.Audit,
		balances: d.Balances,
		chainCfg: d.ChainCfg,
		now:      time.Now,
	}
}

// awaitReceipt bounds the whole receipt wait by ReceiptTimeout.
func (s *Service) awaitReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	timeout := s.chainCfg.ReceiptTimeout
	if timeout <= 0 {
		timeout = config.DefaultReceiptTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.chain.AwaitReceipt(ctx, txHash, receiptConfirmations)
}

func (s *Service) ensureChain() error {
	if s.chain == nil {
		return apperr.ChainUnavailableErr("CHAIN_RPC_URL is required for onchain integration", indexer.ErrNoChain)
	}
	return nil
}

// SendDirect is the retired backend-signing path.
func (s *Service) SendDirect(ctx context.Context, actor usercontext.Identity) error {
	if err := identity.RequireAuth(actor); err != nil {
		return err
	}
	return apperr.InvalidErr("Direct backend signing is disabled. Use /v1/payments/prepare and /v1/payments/confirm-signed.")
}

func (s *Service) stablecoin(symbol string) (config.Stablecoin, error) {
	token, ok := s.tokens.BySymbol(symbol)
	if !ok {
		return config.Stablecoin{}, apperr.InvalidErrf("Unsupported stablecoin %s. Supported: %s", symbol, strings.Join(s.tokens.Symbols(), ", "))
	}
	return token, nil
}

// Prepare returns the unsigned request for a new or previously prepared intent.
// The same idempotency key from the same sender always yields the same intent.
func (s *Service) Prepare(ctx context.Context, actor usercontext.Identity, in PrepareInput) (*PrepareResult, error) {
	if err := identity.RequireAuth(actor); err != nil {
		return nil, err
	}
	if err := s.ensureChain(); err != nil {
		return nil, err
	}
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if in.IdempotencyKey == "" {
		return nil, apperr.InvalidErr("idempotencyKey is required")
	}

	sender, err := s.identity.ResolveActor(ctx, actor)
	if err != nil {
		return nil, err
	}

	existing, err := s.payments.FindByIdempotencyKey(in.IdempotencyKey, sender.ID)
	if err == nil {
		return s.replay(ctx, sender, existing)
	}
	if !repository.IsNotFound(err) {
		return nil, apperr.Wrap(err)
	}

	token, err := s.stablecoin(in.Stablecoin)
	if err != nil {
		return nil, err
	}
	amount := in.AmountUSD.Round(6)
	if !amount.IsPositive() {
		return nil, apperr.InvalidErr("amountUsd must be > 0.")
	}
	memo, err := chain.EncodeMemo(in.Memo)
	if err != nil {
		return nil, apperr.InvalidErr("memo is too long for bytes32. Use 32 bytes or less.")
	}
	if _, err := chain.USDToUnits(amount, token.Decimals); err != nil {
		return nil, apperr.InvalidErr(err.Error())
	}

	recipient, _, err := s.identity.ResolveOrProvision(ctx, in.RecipientHandle)
	if err != nil {
		return nil, err
	}

	intent := &models.PaymentIntent{
		ID:              models.NewPaymentID(s.now()),
		IdempotencyKey:  in.IdempotencyKey,
		SenderUserID:    sender.ID,
		RecipientUserID: recipient.ID,
		RecipientHandle: recipient.Handle,
		AmountUSD:       amount,
		Stablecoin:      token.Symbol,
		MemoHex:         chain.MemoHex(memo),
		Status:          models.PaymentStatusInitiated,
		Chain:           s.chainCfg.Name,
		SponsoredFee:    s.chainCfg.FeeSponsored,
	}
	if strings.TrimSpace(in.Memo) != "" {
		note := in.Memo
		intent.Memo = &note
	}

	if err := s.payments.Create(intent); err != nil {
		if repository.IsDuplicateKey(err) {
			// a concurrent prepare with the same key won the insert
			winner, ferr := s.payments.FindByIdempotencyKey(in.IdempotencyKey, sender.ID)
			if ferr != nil {
				return nil, apperr.Wrap(ferr)
			}
			return s.replay(ctx, sender, winner)
		}
		return nil, apperr.Wrap(err)
	}

	req, err := s.buildTxRequest(ctx, sender.WalletAddress, recipient.WalletAddress, token, intent.AmountUSD, intent.MemoHex)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.Subject, "prepare_signed_payment", intent.ID, map[string]any{
		"senderUserId":    sender.ID,
		"recipientUserId": recipient.ID,
		"stablecoin":      token.Symbol,
	})
	log.Infof("[Payments] Prepared %s: %s %s from %s to %s", intent.ID, intent.AmountUSD.String(), token.Symbol, sender.ID, recipient.ID)

	return &PrepareResult{
		PaymentID:       intent.ID,
		SenderUserID:    sender.ID,
		RecipientUserID: recipient.ID,
		TxRequest:       *req,
		Status:          intent.Status,
	}, nil
}

// replay rebuilds the request of a stored intent without writing anything.
func (s *Service) replay(ctx context.Context, sender *models.User, intent *models.PaymentIntent) (*PrepareResult, error) {
	token, err := s.stablecoin(intent.Stablecoin)
	if err != nil {
		return nil, err
	}
	recipient, err := s.identity.GetUser(intent.RecipientUserID)
	if err != nil {
		return nil, err
	}
	req, err := s.buildTxRequest(ctx, sender.WalletAddress, recipient.WalletAddress, token, intent.AmountUSD, intent.MemoHex)
	if err != nil {
		return nil, err
	}
	return &PrepareResult{
		PaymentID:       intent.ID,
		SenderUserID:    intent.SenderUserID,
		RecipientUserID: intent.RecipientUserID,
		TxRequest:       *req,
		Status:          intent.Status,
	}, nil
}

func (s *Service) buildTxRequest(ctx context.Context, senderWallet, recipientWallet string, token config.Stablecoin, amount decimal.Decimal, memoHex string) (*TxRequest, error) {
	units, err := chain.USDToUnits(amount, token.Decimals)
	if err != nil {
		return nil, apperr.InvalidErr(err.Error())
	}
	memo, err := chain.ParseMemoHex(memoHex)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	data, err := chain.EncodeTransferWithMemo(recipientWallet, units, memo)
	if err != nil {
		return nil, apperr.Wrap(err)
	}

	gasLimit := uint64(DefaultGasLimit)
	estimated, err := s.chain.EstimateGas(ctx, chain.CallRequest{
		From: senderWallet,
		To:   token.Address,
		Data: data,
	})
	if err != nil {
		log.Debugf("[Payments] Gas estimation failed, using fallback %d: %v", DefaultGasLimit, err)
	} else if estimated > 0 {
		gasLimit = estimated
	}

	return &TxRequest{
		To:           token.Address,
		Data:         hexutil.Encode(data),
		Value:        "0x0",
		ChainID:      s.chainCfg.ChainID,
		GasLimit:     fmt.Sprintf("%d", gasLimit),
		TokenAddress: token.Address,
		AmountUnits:  units.String(),
		MemoHex:      memoHex,
		Stablecoin:   token.Symbol,
	}, nil
}

// Confirm verifies a client-signed transaction against its intent, records it as
// submitted and waits for the receipt to settle or fail the intent.
func (s *Service) Confirm(ctx context.Context, actor usercontext.Identity, in ConfirmInput) (*PaymentView, error) {
	if err := identity.RequireAuth(actor); err != nil {
		return nil, err
	}
	if err := s.ensureChain(); err != nil {
		return nil, err
	}

	sender, err := s.identity.ResolveActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	txHash := strings.ToLower(strings.TrimSpace(in.TxHash))
	if !txHashPattern.MatchString(txHash) {
		return nil, apperr.InvalidErr("txHash must be a 0x-prefixed 32 byte hex string")
	}

	intent, err := s.payments.GetForSender(in.PaymentID, sender.ID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apperr.NotFoundErr("Payment intent not found")
		}
		return nil, apperr.Wrap(err)
	}

	if sameTx(intent, txHash) && (intent.Status == models.PaymentStatusSubmitted || intent.Status == models.PaymentStatusSettled) {
		return toView(intent), nil
	}
	if !models.CanTransition(intent.Status, models.PaymentStatusSubmitted) {
		if intent.IsTerminal() {
			return nil, apperr.ConflictErr(fmt.Sprintf("Payment intent is already %s", intent.Status))
		}
		return nil, apperr.ConflictErr(errDifferentTx)
	}

	token, err := s.stablecoin(intent.Stablecoin)
	if err != nil {
		return nil, err
	}
	recipient, err := s.identity.GetUser(intent.RecipientUserID)
	if err != nil {
		return nil, err
	}
	units, err := chain.USDToUnits(intent.AmountUSD, token.Decimals)
	if err != nil {
		return nil, apperr.Wrap(err)
	}

	tx, err := s.chain.GetTransaction(ctx, txHash)
	if err != nil && !errors.Is(err, chain.ErrNotFound) {
		return nil, apperr.ChainUnavailableErr("Unable to fetch transaction", err)
	}
	verdict := Verify(tx, Expectation{
		SenderWallet:    sender.WalletAddress,
		TokenAddress:    token.Address,
		RecipientWallet: recipient.WalletAddress,
		AmountUnits:     units,
		MemoHex:         intent.MemoHex,
	})
	if !verdict.OK() {
		log.Warnf("[Payments] Confirm of %s rejected (%s) for tx %s", intent.ID, verdict.Reason, txHash)
		return nil, apperr.MismatchErr(string(verdict.Reason), verdict.Message())
	}

	won, err := s.payments.MarkSubmitted(intent.ID, txHash)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	if !won {
		return s.afterLostRace(intent.ID, txHash)
	}

	receipt, err := s.awaitReceipt(ctx, txHash)
	if err != nil {
		// the intent stays submitted and later confirms with this hash return it as is
		return nil, apperr.ChainUnavailableErr("Timed out waiting for transaction receipt", err)
	}

	status := models.PaymentStatusSettled
	var failureCode, failureMessage *string
	if !receipt.Success {
		status = models.PaymentStatusFailed
		code, msg := FailureReceiptFailed, failureReceiptMsg
		failureCode, failureMessage = &code, &msg
	}
	if _, err := s.payments.MarkOutcome(intent.ID, status, failureCode, failureMessage); err != nil {
		return nil, apperr.Wrap(err)
	}
	metrics.IncPayment(status, token.Symbol, ModeClientSigned)
	log.Infof("[Payments] %s %s in block %d (tx %s)", intent.ID, status, receipt.BlockNumber, txHash)

	if s.indexer != nil && s.indexer.Enabled() {
		if _, err := s.indexer.Sync(ctx); err != nil {
			log.Errorf("[Payments] Indexer sync after %s failed: %v", intent.ID, err)
		}
	}

	updated, err := s.payments.GetByID(intent.ID)
	if err != nil {
		return nil, apperr.Wrap(err)
	}

	if updated.Status == models.PaymentStatusSettled {
		if s.queue != nil {
			if _, err := s.queue.Enqueue(ctx, updated, recipient, sender); err != nil {
				log.Errorf("[Payments] Enqueue notifications for %s failed: %v", intent.ID, err)
			}
		}
		if s.balances != nil {
			s.balances.InvalidateBalances(ctx, sender.WalletAddress, recipient.WalletAddress)
		}
	}

	s.audit.Record(ctx, actor.Subject, "confirm_signed_payment", intent.ID, map[string]any{
		"txHash": txHash,
		"status": updated.Status,
	})

	return toView(updated), nil
}

// afterLostRace handles a concurrent confirm that moved the intent first.
func (s *Service) afterLostRace(id, txHash string) (*PaymentView, error) {
	current, err := s.payments.GetByID(id)
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	if sameTx(current, txHash) {
		return toView(current), nil
	}
	return nil, apperr.ConflictErr(errDifferentTx)
}

func sameTx(intent *models.PaymentIntent, txHash string) bool {
	return intent.TxHash != nil && strings.EqualFold(*intent.TxHash, txHash)
}

func toView(p *models.PaymentIntent) *PaymentView {
	return &PaymentView{
		PaymentID:       p.ID,
		SenderUserID:    p.SenderUserID,
		RecipientUserID: p.RecipientUserID,
		RecipientHandle: p.RecipientHandle,
		AmountUSD:       p.AmountUSD,
		Stablecoin:      p.Stablecoin,
		Memo:            p.Memo,
		MemoHex:         p.MemoHex,
		Status:          p.Status,
		Chain:           p.Chain,
		TxHash:          p.TxHash,
		SponsoredFee:    p.SponsoredFee,
		CreatedAt:       p.CreatedAt,
		IdempotencyKey:  p.IdempotencyKey,
		FailureCode:     p.FailureCode,
		FailureMessage:  p.FailureMessage,
	}
}
