package ledger

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of wei decimal places in one ether.
const EtherDecimals = 18

// fiatMinorDecimals converts rupees to paise.
const fiatMinorDecimals = 2

// ParseEther converts a decimal ether amount ("0.1") to wei. Amounts with more
// precision than one wei are rejected rather than rounded.
func ParseEther(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, amount)
	}
	wei := d.Shift(EtherDecimals)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, amount, EtherDecimals)
	}
	return wei.BigInt(), nil
}

// FormatEther renders wei as a decimal ether string without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -EtherDecimals).String()
}

// FiatConverter maps ledger amounts to the application's smallest fiat unit
// (paise). Rate is the fiat value of one ether.
type FiatConverter struct {
	rate decimal.Decimal
}

// NewFiatConverter parses the configured ether to fiat rate.
func NewFiatConverter(rate string) (FiatConverter, error) {
	d, err := decimal.NewFromString(rate)
	if err != nil || !d.IsPositive() {
		return FiatConverter{}, fmt.Errorf("%w: fiat rate %q", ErrInvalidAmount, rate)
	}
	return FiatConverter{rate: d}, nil
}

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// WeiToMinor converts wei to paise, rounding half up. Amounts that do not fit
// an int64 of paise fail with ErrInvalidAmount.
func (f FiatConverter) WeiToMinor(wei *big.Int) (int64, error) {
	if wei == nil {
		return 0, nil
	}
	minor := decimal.NewFromBigInt(wei, -EtherDecimals).
		Mul(f.rate).
		Shift(fiatMinorDecimals).
		Round(0)
	if minor.IsNegative() || minor.GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: %s wei is out of range", ErrInvalidAmount, wei)
	}
	return minor.IntPart(), nil
}

// EtherToMinor converts a decimal ether string to paise.
func (f FiatConverter) EtherToMinor(amount string) (int64, error) {
	wei, err := ParseEther(amount)
	if err != nil {
		return 0, err
	}
	return f.WeiToMinor(wei)
}

// MinorToDecimal renders paise as rupees with two decimals.
func MinorToDecimal(minor int64) string {
	return decimal.New(minor, -fiatMinorDecimals).StringFixed(fiatMinorDecimals)
}
