package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPercentOfFloors(t *testing.T) {
	assert.Equal(t, int64(20000), PercentOf(200000, decimal.NewFromInt(10)))
	assert.Equal(t, int64(1), PercentOf(19, decimal.NewFromInt(10)))
	assert.Equal(t, int64(4), PercentOf(33, decimal.RequireFromString("12.5")))
	assert.Equal(t, int64(3), PercentOf(31, decimal.RequireFromString("12.5")))
	assert.Equal(t, int64(0), PercentOf(0, decimal.NewFromInt(10)))
	assert.Equal(t, int64(0), PercentOf(1000, decimal.Zero))
}

func TestNetOfCommissionRoundsHalfEven(t *testing.T) {
	assert.Equal(t, int64(90000), NetOfCommission(100000, decimal.RequireFromString("0.10")))
	// 25 * 0.9 = 22.5 -> 22, 35 * 0.9 = 31.5 -> 32
	assert.Equal(t, int64(22), NetOfCommission(25, decimal.RequireFromString("0.1")))
	assert.Equal(t, int64(32), NetOfCommission(35, decimal.RequireFromString("0.1")))
	assert.Equal(t, int64(-90000), NetOfCommission(-100000, decimal.RequireFromString("0.10")))
	assert.Equal(t, int64(777), NetOfCommission(777, decimal.Zero))
}

func TestClampAndFormat(t *testing.T) {
	assert.Equal(t, int64(0), Clamp(-5, 0, 10))
	assert.Equal(t, int64(10), Clamp(50, 0, 10))
	assert.Equal(t, "₹1850.00", FormatINR(185000))
}
