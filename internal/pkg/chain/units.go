package chain

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// MemoSize is the fixed width of an encoded memo.
const MemoSize = 32

var (
	ErrMemoTooLong       = errors.New("memo is too long for bytes32, use 32 bytes or less")
	ErrAmountNotPositive = errors.New("amountUsd must be > 0")
	ErrAmountTooSmall    = errors.New("amountUsd rounds to zero token units")
)

var zeroMemo [MemoSize]byte

// EncodeMemo right-pads the UTF-8 note with zero bytes. A blank note is all zeroes.
func EncodeMemo(memo string) ([MemoSize]byte, error) {
	var out [MemoSize]byte
	if strings.TrimSpace(memo) == "" {
		return out, nil
	}
	raw := []byte(memo)
	if len(raw) > MemoSize {
		return out, ErrMemoTooLong
	}
	copy(out[:], raw)
	return out, nil
}

// MemoHex renders a memo as 0x-prefixed lower-case hex.
func MemoHex(memo [MemoSize]byte) string {
	return "0x" + hex.EncodeToString(memo[:])
}

// ParseMemoHex parses a 0x-prefixed 32 byte hex string.
func ParseMemoHex(s string) ([MemoSize]byte, error) {
	var out [MemoSize]byte
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return out, fmt.Errorf("memo %q is not 0x-prefixed", s)
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return out, fmt.Errorf("memo %q: %w", s, err)
	}
	if len(raw) != MemoSize {
		return out, fmt.Errorf("memo %q is %d bytes, want %d", s, len(raw), MemoSize)
	}
	copy(out[:], raw)
	return out, nil
}

// DecodeMemo turns a stored memo back into text. The zero memo, a memo that is not
// null-terminated UTF-8, or malformed hex decode to nil.
func DecodeMemo(memoHex string) *string {
	memo, err := ParseMemoHex(memoHex)
	if err != nil || memo == zeroMemo {
		return nil
	}
	end := bytes.IndexByte(memo[:], 0)
	if end < 0 {
		// a full 32 byte string has no terminator
		end = MemoSize
	}
	if bytes.IndexFunc(memo[end:], func(r rune) bool { return r != 0 }) >= 0 {
		return nil
	}
	text := memo[:end]
	if !utf8.Valid(text) {
		return nil
	}
	out := string(text)
	return &out
}

// USDToUnits converts a dollar amount to integer token units, rounding half away
// from zero at the token's precision. No floating point is involved.
func USDToUnits(amountUSD decimal.Decimal, decimals int32) (*big.Int, error) {
	if !amountUSD.IsPositive() {
		return nil, ErrAmountNotPositive
	}
	units := amountUSD.Round(decimals).Shift(decimals)
	if !units.IsPositive() {
		return nil, ErrAmountTooSmall
	}
	return units.BigInt(), nil
}

// UnitsToUSD formats raw integer units with the token's precision.
func UnitsToUSD(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// ParseUnits reads a base-10 integer amount as stored on indexed events.
func ParseUnits(raw string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", raw)
	}
	return n, nil
}
