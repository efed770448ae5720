// Package ledger derives per-wallet history, counterparty balances and spend
// insights from indexed transfer events. Nothing here writes to the store.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/HandlePay/app/models"
	"github.com/ManuelReschke/HandlePay/internal/pkg/chain"
	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
	"github.com/ManuelReschke/HandlePay/internal/pkg/pagination"
)

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"

	StatusOwesYou = "owes_you"
	StatusYouOwe  = "you_owe"
	StatusSettled = "settled"

	PageSize = 20

	defaultDecimals = 6
	noMemo          = "No memo"
)

// Directory is a best-effort wallet to user lookup.
type Directory interface {
	LookupWallet(wallet string) (*models.User, bool)
}

// Transfer is one indexed event seen from a single wallet.
type Transfer struct {
	PaymentID          string          `json:"paymentId"`
	SenderUserID       string          `json:"senderUserId"`
	RecipientUserID    string          `json:"recipientUserId"`
	RecipientHandle    string          `json:"recipientHandle"`
	AmountUSD          decimal.Decimal `json:"amountUsd"`
	Stablecoin         string          `json:"stablecoin"`
	Memo               *string         `json:"memo,omitempty"`
	MemoHex            string          `json:"memoHex"`
	Status             string          `json:"status"`
	Chain              string          `json:"chain"`
	TxHash             string          `json:"txHash"`
	SponsoredFee       bool            `json:"sponsoredFee"`
	CreatedAt          time.Time       `json:"createdAt"`
	Direction          string          `json:"direction"`
	CounterpartyWallet string          `json:"counterpartyWallet"`
	BlockNumber        uint64          `json:"blockNumber"`
	LogIndex           uint            `json:"logIndex"`
}

// Page is one slice of a transfer history.
type Page struct {
	Data       []Transfer `json:"data"`
	NextCursor *string    `json:"nextCursor"`
}

// LedgerEntry is the net position against one counterparty.
type LedgerEntry struct {
	ContactID     string          `json:"contactId"`
	ContactHandle string          `json:"contactHandle"`
	NetUSD        decimal.Decimal `json:"netUsd"`
	Status        string          `json:"status"`
}

type Expense struct {
	AmountUSD  decimal.Decimal `json:"amountUsd"`
	Memo       string          `json:"memo"`
	Stablecoin string          `json:"stablecoin"`
	TxHash     string          `json:"txHash"`
}

// Spend summarises outgoing transfers of the trailing seven days.
type Spend struct {
	WeekStart        time.Time       `json:"weekStart"`
	TotalSpentUSD    decimal.Decimal `json:"totalSpentUsd"`
	TransactionCount int             `json:"transactionCount"`
	BiggestExpense   *Expense        `json:"biggestExpense"`
	Summary          string          `json:"summary"`
}

// Projector turns events into transfers using token metadata and the directory.
type Projector struct {
	Tokens       *config.Stablecoins
	Directory    Directory
	ChainName    string
	SponsoredFee bool
}

// Transfers annotates every event touching wallet, newest first.
func (p Projector) Transfers(wallet string, events []models.IndexedEvent) []Transfer {
	wallet = models.NormalizeAddress(wallet)
	out := make([]Transfer, 0, len(events))
	for _, e := range events {
		if e.FromAddr != wallet && e.ToAddr != wallet {
			continue
		}
		out = append(out, p.transfer(wallet, e))
	}
	SortTransfers(out)
	return out
}

func (p Projector) transfer(wallet string, e models.IndexedEvent) Transfer {
	decimals := int32(defaultDecimals)
	symbol := e.TokenAddress
	if p.Tokens != nil {
		if token, ok := p.Tokens.ByAddress(e.TokenAddress); ok {
			decimals = token.Decimals
			symbol = token.Symbol
		}
	}

	amount := decimal.Zero
	if raw, err := chain.ParseUnits(e.AmountRaw); err == nil {
		amount = chain.UnitsToUSD(raw, decimals).Round(6)
	}

	direction := DirectionIncoming
	counterparty := e.FromAddr
	if e.FromAddr == wallet {
		direction = DirectionOutgoing
		counterparty = e.ToAddr
	}

	senderID := e.FromAddr
	recipientID, recipientHandle := e.ToAddr, e.ToAddr
	if u, ok := p.lookup(e.FromAddr); ok {
		senderID = u.ID
	}
	if u, ok := p.lookup(e.ToAddr); ok {
		recipientID, recipientHandle = u.ID, u.Handle
	}

	return Transfer{
		PaymentID:          e.TxHash,
		SenderUserID:       senderID,
		RecipientUserID:    recipientID,
		RecipientHandle:    recipientHandle,
		AmountUSD:          amount,
		Stablecoin:         symbol,
		Memo:               chain.DecodeMemo(e.MemoHex),
		MemoHex:            e.MemoHex,
		Status:             models.PaymentStatusSettled,
		Chain:              p.ChainName,
		TxHash:             e.TxHash,
		SponsoredFee:       p.SponsoredFee,
		CreatedAt:          e.BlockTime,
		Direction:          direction,
		CounterpartyWallet: counterparty,
		BlockNumber:        e.BlockNumber,
		LogIndex:           e.LogIndex,
	}
}

func (p Projector) lookup(wallet string) (*models.User, bool) {
	if p.Directory == nil {
		return nil, false
	}
	return p.Directory.LookupWallet(wallet)
}

// SortTransfers orders by (block desc, log index desc).
func SortTransfers(transfers []Transfer) {
	sort.SliceStable(transfers, func(i, j int) bool {
		if transfers[i].BlockNumber == transfers[j].BlockNumber {
			return transfers[i].LogIndex > transfers[j].LogIndex
		}
		return transfers[i].BlockNumber > transfers[j].BlockNumber
	})
}

// Paginate slices sorted transfers at an offset cursor.
func Paginate(transfers []Transfer, cursor string, size int) (Page, error) {
	start, err := pagination.ParseCursor(cursor)
	if err != nil {
		return Page{}, err
	}
	if size <= 0 {
		size = PageSize
	}
	end := min(start+size, len(transfers))
	data := []Transfer{}
	if start < len(transfers) {
		data = transfers[start:end]
	}
	return Page{Data: data, NextCursor: pagination.NextCursor(start, size, len(transfers))}, nil
}

// NetLedger nets incoming minus outgoing per counterparty, in first-seen order.
func NetLedger(transfers []Transfer, dir Directory) []LedgerEntry {
	order := make([]string, 0)
	net := make(map[string]decimal.Decimal)
	for _, t := range transfers {
		current, seen := net[t.CounterpartyWallet]
		if !seen {
			order = append(order, t.CounterpartyWallet)
		}
		if t.Direction == DirectionIncoming {
			net[t.CounterpartyWallet] = current.Add(t.AmountUSD)
		} else {
			net[t.CounterpartyWallet] = current.Sub(t.AmountUSD)
		}
	}

	entries := make([]LedgerEntry, 0, len(order))
	for _, wallet := range order {
		amount := net[wallet].Round(2)
		entry := LedgerEntry{
			ContactID:     wallet,
			ContactHandle: wallet,
			NetUSD:        amount,
			Status:        StatusSettled,
		}
		if dir != nil {
			if u, ok := dir.LookupWallet(wallet); ok {
				entry.ContactID, entry.ContactHandle = u.ID, u.Handle
			}
		}
		switch amount.Sign() {
		case 1:
			entry.Status = StatusOwesYou
		case -1:
			entry.Status = StatusYouOwe
		}
		entries = append(entries, entry)
	}
	return entries
}

// WeeklySpend totals outgoing transfers created at or after now minus seven days.
func WeeklySpend(transfers []Transfer, now time.Time) Spend {
	since := now.Add(-7 * 24 * time.Hour)
	total := decimal.Zero
	count := 0
	var top *Transfer
	for i := range transfers {
		t := &transfers[i]
		if t.Direction != DirectionOutgoing || t.CreatedAt.Before(since) {
			continue
		}
		total = total.Add(t.AmountUSD)
		count++
		if top == nil || t.AmountUSD.GreaterThan(top.AmountUSD) {
			top = t
		}
	}

	total = total.Round(2)
	spend := Spend{
		WeekStart:        since.UTC(),
		TotalSpentUSD:    total,
		TransactionCount: count,
		Summary:          fmt.Sprintf("You spent $%s in the last 7 days.", total.String()),
	}
	if top != nil {
		memo := noMemo
		if top.Memo != nil {
			memo = *top.Memo
		}
		spend.BiggestExpense = &Expense{
			AmountUSD:  top.AmountUSD.Round(2),
			Memo:       memo,
			Stablecoin: top.Stablecoin,
			TxHash:     top.TxHash,
		}
	}
	return spend
}
