package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Monetary amounts cross the engine boundary as decimal major-unit strings
// and travel internally as base-unit integers (wei). Conversion happens here
// and nowhere else.

var ErrInvalidAmount = errors.New("ledger: invalid amount")

const baseUnitDecimals = 18

var baseUnitScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(baseUnitDecimals), nil)

// ToBaseUnits parses a non-negative decimal major-unit amount ("1.5") into
// base units. More than 18 fractional digits is a validation error, not a
// silent truncation.
func ToBaseUnits(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.HasPrefix(amount, "-") {
		return nil, fmt.Errorf("%w: negative: %s", ErrInvalidAmount, amount)
	}

	whole, frac := amount, ""
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		whole, frac = amount[:i], amount[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > baseUnitDecimals {
		return nil, fmt.Errorf("%w: more than %d fractional digits: %s", ErrInvalidAmount, baseUnitDecimals, amount)
	}

	w, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	out := new(big.Int).Mul(w, baseUnitScale)

	if frac != "" {
		f, ok := new(big.Int).SetString(frac, 10)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
		}
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(baseUnitDecimals-len(frac))), nil)
		out.Add(out, f.Mul(f, scale))
	}
	return out, nil
}

// FromBaseUnits formats base units as a decimal major-unit string with
// trailing zeros trimmed ("1.5", "0.000000000000000001", "3").
func FromBaseUnits(amount *big.Int) string {
	if amount == nil || amount.Sign() == 0 {
		return "0"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)

	q, r := new(big.Int).QuoRem(abs, baseUnitScale, new(big.Int))
	out := q.String()
	if r.Sign() != 0 {
		frac := fmt.Sprintf("%0*s", baseUnitDecimals, r.String())
		frac = strings.TrimRight(frac, "0")
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
