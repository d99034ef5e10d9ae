package model

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// ParseAmount decodes a decimal string into a token amount. Amounts travel
// over the wire and through storage as decimal strings, never as JSON
// numbers, so precision is preserved for 256-bit values.
func ParseAmount(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "+") {
		return nil, fmt.Errorf("amount must be an unsigned decimal: %q", value)
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return amount, nil
}

// FormatAmount encodes a token amount as a decimal string. A nil amount is
// treated as zero.
func FormatAmount(amount *uint256.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.Dec()
}
