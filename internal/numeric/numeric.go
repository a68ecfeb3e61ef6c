// Package numeric converts ledger integers into persisted and aggregate forms.
//
// Every ledger numeric crossing into storage or broadcast payloads goes through
// ToDecimalString (lossless, for persistence) or ToSafeNumber (finite float64,
// for counters and charts). Malformed input never produces an error or NaN:
// it falls back to "0" or 0.
package numeric

import (
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ToDecimalString renders v as a base-10 integer string, or "0" when v is unsupported.
func ToDecimalString(v any) string {
	s, _ := DecimalString(v)
	return s
}

// ToSafeNumber renders v as a finite float64, or 0 when v is unsupported or non-finite.
func ToSafeNumber(v any) float64 {
	f, _ := SafeNumber(v)
	return f
}

// DecimalString is ToDecimalString that also reports whether v converted cleanly.
func DecimalString(v any) (string, bool) {
	switch typed := v.(type) {
	case nil:
		return "0", false
	case *big.Int:
		if typed == nil {
			return "0", false
		}
		return typed.String(), true
	case big.Int:
		return typed.String(), true
	case decimal.Decimal:
		if !typed.IsInteger() {
			return "0", false
		}
		return typed.BigInt().String(), true
	case string:
		parsed, ok := parseInteger(typed)
		if !ok {
			return "0", false
		}
		return parsed.String(), true
	case int:
		return strconv.FormatInt(int64(typed), 10), true
	case int8:
		return strconv.FormatInt(int64(typed), 10), true
	case int16:
		return strconv.FormatInt(int64(typed), 10), true
	case int32:
		return strconv.FormatInt(int64(typed), 10), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	case uint:
		return strconv.FormatUint(uint64(typed), 10), true
	case uint8:
		return strconv.FormatUint(uint64(typed), 10), true
	case uint16:
		return strconv.FormatUint(uint64(typed), 10), true
	case uint32:
		return strconv.FormatUint(uint64(typed), 10), true
	case uint64:
		return strconv.FormatUint(typed, 10), true
	case float32:
		return floatInteger(float64(typed))
	case float64:
		return floatInteger(typed)
	default:
		return "0", false
	}
}

// SafeNumber is ToSafeNumber that also reports whether v converted cleanly.
func SafeNumber(v any) (float64, bool) {
	var f float64
	switch typed := v.(type) {
	case nil:
		return 0, false
	case *big.Int:
		if typed == nil {
			return 0, false
		}
		f, _ = new(big.Float).SetInt(typed).Float64()
	case big.Int:
		f, _ = new(big.Float).SetInt(&typed).Float64()
	case decimal.Decimal:
		f = typed.InexactFloat64()
	case string:
		trimmed := strings.TrimSpace(typed)
		if isHex(trimmed) {
			parsed, ok := parseInteger(trimmed)
			if !ok {
				return 0, false
			}
			f, _ = new(big.Float).SetInt(parsed).Float64()
			break
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case int:
		f = float64(typed)
	case int8:
		f = float64(typed)
	case int16:
		f = float64(typed)
	case int32:
		f = float64(typed)
	case int64:
		f = float64(typed)
	case uint:
		f = float64(typed)
	case uint8:
		f = float64(typed)
	case uint16:
		f = float64(typed)
	case uint32:
		f = float64(typed)
	case uint64:
		f = float64(typed)
	case float32:
		f = float64(typed)
	case float64:
		f = typed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// TimestampMs converts a ledger time to epoch milliseconds. Values below 1e12
// are taken as seconds. Malformed or out-of-range input yields 0.
func TimestampMs(v any) int64 {
	f, ok := SafeNumber(v)
	if !ok || f <= 0 {
		return 0
	}
	if f < 1e12 {
		f *= 1000
	}
	if f >= math.MaxInt64 {
		return 0
	}
	return int64(f)
}

// Multiplier returns payout/stake rounded to two places, or nil when either side is zero or malformed.
func Multiplier(payout, stake string) *float64 {
	p, err := decimal.NewFromString(strings.TrimSpace(payout))
	if err != nil || p.IsZero() {
		return nil
	}
	s, err := decimal.NewFromString(strings.TrimSpace(stake))
	if err != nil || s.IsZero() {
		return nil
	}
	m := p.Div(s).Round(2).InexactFloat64()
	return &m
}

// NormalizeAddress returns the canonical lowercase form of a wallet address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func parseInteger(input string) (*big.Int, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return nil, false
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	base := 10
	if isHex(s) {
		base = 16
		s = s[2:]
	}
	if s == "" || s[0] == '-' || s[0] == '+' {
		return nil, false
	}
	parsed, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, false
	}
	if neg {
		parsed.Neg(parsed)
	}
	return parsed, true
}

func isHex(s string) bool {
	return len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

func floatInteger(f float64) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return "0", false
	}
	parsed, _ := new(big.Float).SetFloat64(f).Int(nil)
	return parsed.String(), true
}
