package wallet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

// DustThreshold is the smallest change output the builder will create.
// Change equal to or below it is left to the miner.
const DustThreshold btcutil.Amount = 546

// ErrInvalidAmount is returned for amounts that cannot be parsed.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount parses a decimal BTC string such as "0.05" into satoshis.
// Digits beyond the 8th decimal place are truncated, never rounded, so the
// result can not exceed what the caller wrote.
func ParseAmount(s string) (btcutil.Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	neg := false
	if s[0] == '-' || s[0] == '+' {
		neg = s[0] == '-'
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 8 {
		frac = frac[:8]
	}
	frac += strings.Repeat("0", 8-len(frac))

	if !isDigits(whole) || !isDigits(frac) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w > int64(btcutil.MaxSatoshi/btcutil.SatoshiPerBitcoin) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	amt := btcutil.Amount(w*btcutil.SatoshiPerBitcoin + f)
	if neg {
		amt = -amt
	}
	return amt, nil
}

// MustParseAmount is ParseAmount for constants; it panics on bad input.
func MustParseAmount(s string) btcutil.Amount {
	amt, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return amt
}

// FormatAmount renders amt with exactly eight decimals and no unit.
func FormatAmount(amt btcutil.Amount) string {
	sign := ""
	if amt < 0 {
		sign = "-"
		amt = -amt
	}
	return fmt.Sprintf("%s%d.%08d", sign, int64(amt)/btcutil.SatoshiPerBitcoin, int64(amt)%btcutil.SatoshiPerBitcoin)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
