// Package money holds the integer minor-unit arithmetic shared by pricing and the ledger.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// PercentOf returns floor(base * percent / 100) in minor units.
func PercentOf(base int64, percent decimal.Decimal) int64 {
	if base <= 0 || !percent.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(base).Mul(percent).Div(hundred).Floor().IntPart()
}

// NetOfCommission returns amount * (1 - rate) rounded half-to-even to whole minor units.
func NetOfCommission(amount int64, rate decimal.Decimal) int64 {
	net := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(1).Sub(rate))
	return net.RoundBank(0).IntPart()
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FormatINR renders minor units as a rupee string, e.g. 185000 -> "₹1850.00".
func FormatINR(cents int64) string {
	return "₹" + decimal.New(cents, -2).StringFixed(2)
}
