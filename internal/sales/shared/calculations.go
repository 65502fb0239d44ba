package shared

import "github.com/shopspring/decimal"

// LineTotal is quantity times unit price rounded to cents.
func LineTotal(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return quantity.Mul(unitPrice).Round(2)
}

// DocumentTotal applies tax and discount to a subtotal.
func DocumentTotal(subtotal, tax, discount decimal.Decimal) decimal.Decimal {
	return subtotal.Add(tax).Sub(discount)
}

// IsCents reports whether d has nothing below the second decimal place.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// AllCents reports whether every amount is a whole number of cents.
func AllCents(amounts ...decimal.Decimal) bool {
	for _, d := range amounts {
		if !IsCents(d) {
			return false
		}
	}
	return true
}

// TotalsBalance reports whether subtotal + tax - discount == total.
func TotalsBalance(subtotal, tax, discount, total decimal.Decimal) bool {
	return DocumentTotal(subtotal, tax, discount).Equal(total)
}
