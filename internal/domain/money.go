package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in the currency's minor unit (cents for USD).
type Money int64

// minorExponent lists currencies whose minor unit is not 1/100.
var minorExponent = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"XOF": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
}

// Exponent returns the number of decimal places of a currency's minor unit.
func Exponent(currency string) int32 {
	if e, ok := minorExponent[strings.ToUpper(currency)]; ok {
		return e
	}
	return 2
}

// Decimal converts minor units to a major-unit decimal. The conversion is exact.
func (m Money) Decimal(currency string) decimal.Decimal {
	return decimal.New(int64(m), -Exponent(currency))
}

// MoneyFromDecimal converts a major-unit decimal to minor units, rounding once.
func MoneyFromDecimal(d decimal.Decimal, currency string) Money {
	return Money(d.Shift(Exponent(currency)).Round(0).IntPart())
}

// ApplyRate returns amount*rate rounded half away from zero.
func (m Money) ApplyRate(rate decimal.Decimal) Money {
	return Money(decimal.NewFromInt(int64(m)).Mul(rate).Round(0).IntPart())
}

func MinMoney(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}
