package invoice

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRoundMoneyHalfUp(t *testing.T) {
	cases := []struct{ in, want string }{
		{"0.005", "0.01"},
		{"0.004", "0"},
		{"2.675", "2.68"},
		{"10.125", "10.13"},
		{"99.999", "100"},
	}

	for _, tt := range cases {
		assert.True(t, dec(tt.want).Equal(roundMoney(dec(tt.in))), "roundMoney(%s)=%s want %s", tt.in, roundMoney(dec(tt.in)), tt.want)
	}
}

func TestRecomputeRoundsOnlyAtBoundaries(t *testing.T) {
	inv := &Invoice{Items: []LineItem{
		{Quantity: 3, UnitPrice: dec("0.335"), LineTotal: dec("1.005")},
		{Quantity: 1, UnitPrice: dec("0.005"), LineTotal: dec("0.005")},
	}}

	recompute(inv, dec("0.21"))

	// 1.005 + 0.005 = 1.010; rounding each line first would give 1.02
	assert.Equal(t, "1.01", inv.Subtotal.StringFixed(2))
	assert.Equal(t, "0.21", inv.Tax.StringFixed(2))
	assert.Equal(t, "1.22", inv.Total.StringFixed(2))
	assert.True(t, inv.Total.Equal(roundMoney(inv.Subtotal.Add(inv.Tax))))
}

func TestHasCurrencyPrecision(t *testing.T) {
	assert.True(t, hasCurrencyPrecision(dec("110")))
	assert.True(t, hasCurrencyPrecision(dec("110.5")))
	assert.True(t, hasCurrencyPrecision(dec("110.55")))
	assert.False(t, hasCurrencyPrecision(dec("110.555")))
}

func TestStatusIsDerivedFromPayments(t *testing.T) {
	inv := &Invoice{Total: dec("110")}
	assert.Equal(t, StatusPending, inv.Status())
	assert.Equal(t, "110.00", inv.Balance().StringFixed(2))

	inv.Payments = append(inv.Payments, Payment{Amount: dec("10")})
	assert.Equal(t, StatusPartial, inv.Status())
	assert.Equal(t, "100.00", inv.Balance().StringFixed(2))

	inv.Payments = append(inv.Payments, Payment{Amount: dec("100")})
	assert.Equal(t, StatusPaid, inv.Status())
	assert.True(t, inv.Balance().IsZero())
}
