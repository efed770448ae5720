// Package pagination implements the opaque offset cursors used by list endpoints.
package pagination

import (
	"strconv"

	"github.com/ManuelReschke/HandlePay/internal/pkg/apperr"
)

// ParseCursor reads an offset cursor; empty means the first page.
func ParseCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0, apperr.InvalidErr("Invalid cursor")
	}
	return n, nil
}

// NextCursor returns the cursor after start+size, nil when total is exhausted.
func NextCursor(start, size, total int) *string {
	if start+size >= total {
		return nil
	}
	next := strconv.Itoa(start + size)
	return &next
}
