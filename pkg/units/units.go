package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxDecimals is the largest scale a uint64 base-unit amount can carry.
const MaxDecimals = 19

const (
	// maxDigits is the number of decimal digits in the largest uint64.
	maxDigits   = 20
	maxInputLen = 64
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrTooPrecise     = errors.New("amount has more decimals than the unit allows")
	ErrOutOfRange     = errors.New("amount out of range")
)

// Converter converts between integer base units and decimal display amounts,
// e.g. wei and ether with 18 decimals.
type Converter struct {
	decimals int32
}

// NewConverter creates a converter for the given number of decimals
func NewConverter(decimals int32) (Converter, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return Converter{}, fmt.Errorf("decimals must be between 0 and %d, got %d", MaxDecimals, decimals)
	}
	return Converter{decimals: decimals}, nil
}

// Decimals returns the scale
func (c Converter) Decimals() int32 {
	return c.decimals
}

// Format renders base units as a display amount without trailing zeros.
func (c Converter) Format(amount uint64) string {
	return c.value(amount).String()
}

// FormatFixed renders base units with exactly Decimals() fractional digits.
func (c Converter) FormatFixed(amount uint64) string {
	return c.value(amount).StringFixed(c.decimals)
}

// Parse converts a display amount such as "1.25" into base units. Amounts
// that are negative, finer than one base unit, or larger than uint64 are
// rejected rather than rounded. Magnitude is checked on the coefficient and
// exponent before any scaling, so inputs like "1e50000000" fail fast.
func (c Converter) Parse(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if len(s) > maxInputLen {
		return 0, fmt.Errorf("%w: longer than %d characters", ErrInvalidAmount, maxInputLen)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return 0, ErrNegativeAmount
	}
	if d.IsZero() {
		return 0, nil
	}

	coef := d.Coefficient()
	exp := int64(d.Exponent()) + int64(c.decimals)

	// normalize so a remaining negative exponent means a real fraction
	ten := big.NewInt(10)
	rem := new(big.Int)
	for {
		q, r := new(big.Int).QuoRem(coef, ten, rem)
		if r.Sign() != 0 {
			break
		}
		coef = q
		exp++
	}

	if exp < 0 {
		return 0, ErrTooPrecise
	}
	if int64(len(coef.String()))+exp > maxDigits {
		return 0, ErrOutOfRange
	}

	n := new(big.Int).Mul(coef, new(big.Int).Exp(ten, big.NewInt(exp), nil))
	if !n.IsUint64() {
		return 0, ErrOutOfRange
	}
	return n.Uint64(), nil
}

func (c Converter) value(amount uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -c.decimals)
}
