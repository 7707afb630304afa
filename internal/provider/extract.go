// Package provider holds value normalization shared by upstream clients.
package provider

import (
	"strconv"
	"strings"
)

// ExtractCount normalizes a seat count as the railway API reports it.
//
// Counts arrive as strings ("12", " 3 ", "") or bare numbers. Anything that
// is not a non-negative integer yields 0.
func ExtractCount(val interface{}) int {
	switch v := val.(type) {
	case nil:
		return 0
	case int:
		return max(v, 0)
	case int64:
		return int(max(v, 0))
	case float64:
		if v < 0 {
			return 0
		}
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return 0
		}
		return n
	default:
		return 0
	}
}

// ExtractAmount parses a tariff string as a whole amount in som.
//
// Returns ok=false when the value does not parse, so callers can skip it
// when looking for a minimum.
func ExtractAmount(val string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// MinAmount returns the lowest parseable amount, or 0 when none parse.
func MinAmount(vals []string) int64 {
	var (
		lowest int64
		found  bool
	)
	for _, v := range vals {
		n, ok := ExtractAmount(v)
		if !ok {
			continue
		}
		if !found || n < lowest {
			lowest, found = n, true
		}
	}
	return lowest
}
