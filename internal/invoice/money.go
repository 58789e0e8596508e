package invoice

import "github.com/shopspring/decimal"

// CurrencyPlaces is the precision totals are kept at.
const CurrencyPlaces = 2

// roundMoney rounds half away from zero, which is half-up for the
// non-negative amounts an invoice carries.
func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

// hasCurrencyPrecision reports whether d needs no more than two decimals.
func hasCurrencyPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(CurrencyPlaces))
}

// recompute refreshes subtotal, tax and total from the line items. Line
// totals stay unrounded; rounding happens once per figure.
func recompute(inv *Invoice, taxRate decimal.Decimal) {
	subtotal := decimal.Zero
	for _, item := range inv.Items {
		subtotal = subtotal.Add(item.LineTotal)
	}

	inv.Subtotal = roundMoney(subtotal)
	inv.Tax = roundMoney(inv.Subtotal.Mul(taxRate))
	inv.Total = roundMoney(inv.Subtotal.Add(inv.Tax))
}
