package payments

import (
	"math/big"
	"strings"

	"github.com/ManuelReschke/HandlePay/internal/pkg/chain"
)

// MismatchReason names the first field of a signed transaction that disagrees
// with its intent.
type MismatchReason string

const (
	MismatchNone      MismatchReason = ""
	MismatchNotFound  MismatchReason = "not_found"
	MismatchSender    MismatchReason = "sender"
	MismatchTarget    MismatchReason = "target"
	MismatchFunction  MismatchReason = "function"
	MismatchRecipient MismatchReason = "recipient"
	MismatchAmount    MismatchReason = "amount"
	MismatchMemo      MismatchReason = "memo"
)

var mismatchMessages = map[MismatchReason]string{
	MismatchNotFound:  "Transaction hash not found on chain",
	MismatchSender:    "Signed transaction sender does not match authenticated sender wallet",
	MismatchTarget:    "Signed transaction token contract does not match payment intent",
	MismatchFunction:  "Unable to decode transferWithMemo from signed transaction",
	MismatchRecipient: "Signed transaction recipient does not match payment intent",
	MismatchAmount:    "Signed transaction amount does not match payment intent",
	MismatchMemo:      "Signed transaction memo does not match payment intent",
}

// Expectation is what the stored intent says the transaction must contain.
type Expectation struct {
	SenderWallet    string
	TokenAddress    string
	RecipientWallet string
	AmountUnits     *big.Int
	MemoHex         string
}

// Verification is the result of checking a transaction against an Expectation.
type Verification struct {
	Reason MismatchReason
	Call   chain.TransferCall
}

func (v Verification) OK() bool {
	return v.Reason == MismatchNone
}

// Message is the caller-facing explanation of the mismatch.
func (v Verification) Message() string {
	return mismatchMessages[v.Reason]
}

// Verify compares sender, target, function, recipient, amount and memo in that
// order. Amounts must match exactly.
func Verify(tx *chain.Transaction, want Expectation) Verification {
	if tx == nil {
		return Verification{Reason: MismatchNotFound}
	}
	if tx.From == "" || !strings.EqualFold(tx.From, want.SenderWallet) {
		return Verification{Reason: MismatchSender}
	}
	if tx.To == "" || !strings.EqualFold(tx.To, want.TokenAddress) {
		return Verification{Reason: MismatchTarget}
	}

	call, err := chain.DecodeTransferWithMemo(tx.Input)
	if err != nil {
		return Verification{Reason: MismatchFunction}
	}
	if !strings.EqualFold(call.To, want.RecipientWallet) {
		return Verification{Reason: MismatchRecipient, Call: call}
	}
	if want.AmountUnits == nil || call.Amount == nil || call.Amount.Cmp(want.AmountUnits) != 0 {
		return Verification{Reason: MismatchAmount, Call: call}
	}
	if !strings.EqualFold(call.MemoHex(), want.MemoHex) {
		return Verification{Reason: MismatchMemo, Call: call}
	}
	return Verification{Call: call}
}
