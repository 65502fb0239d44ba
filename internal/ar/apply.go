package ar

import (
	"github.com/shopspring/decimal"

	salesshared "github.com/odyssey-erp/odyssey-billing/internal/sales/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

var (
	// ErrInvalidAmount indicates a non-positive payment amount.
	ErrInvalidAmount = shared.Validation("payment amount must be greater than zero")
	// ErrAmountPrecision indicates an amount finer than one cent.
	ErrAmountPrecision = shared.Validation("payment amount must not have more than 2 decimal places")
	// ErrInvalidMethod indicates an unknown payment method.
	ErrInvalidMethod = shared.Validation("unknown payment method")
	// ErrAlreadyPaid indicates the invoice accepts no more payments.
	ErrAlreadyPaid = shared.InvalidState("invoice is already paid")
	// ErrInvoiceCancelled indicates payment against a cancelled invoice.
	ErrInvoiceCancelled = shared.InvalidState("cannot record payment for a cancelled invoice")
	// ErrOverpaymentNotAllowed indicates a non-cash payment above the balance.
	ErrOverpaymentNotAllowed = shared.InvalidState("payment amount exceeds balance due; overpayment is only allowed for cash")
)

// Application is the arithmetic outcome of applying one payment.
type Application struct {
	Applied       decimal.Decimal
	Change        decimal.Decimal
	NewPaidAmount decimal.Decimal
	NewBalanceDue decimal.Decimal
	NewStatus     InvoiceStatus
}

// Apply computes how a payment of amount by method settles inv. It performs
// no I/O and leaves inv untouched.
func Apply(inv Invoice, amount decimal.Decimal, method PaymentMethod) (Application, error) {
	if err := validatePayment(amount, method); err != nil {
		return Application{}, err
	}
	switch inv.Status {
	case InvoiceStatusPaid:
		return Application{}, ErrAlreadyPaid
	case InvoiceStatusCancelled:
		return Application{}, ErrInvoiceCancelled
	}

	balance := inv.BalanceDue()
	if amount.GreaterThan(balance) && !method.AllowsOverpayment() {
		return Application{}, ErrOverpaymentNotAllowed
	}

	// A balance already at or below zero takes nothing more; the whole
	// amount is change.
	applied := decimal.Min(amount, decimal.Max(balance, decimal.Zero))
	change := amount.Sub(applied)

	app := Application{
		Applied:       applied,
		Change:        change,
		NewPaidAmount: inv.PaidAmount.Add(applied),
	}
	app.NewBalanceDue = inv.Total.Sub(app.NewPaidAmount)
	switch {
	case !app.NewBalanceDue.IsPositive():
		app.NewStatus = InvoiceStatusPaid
	case app.NewPaidAmount.IsPositive():
		app.NewStatus = InvoiceStatusPartial
	default:
		app.NewStatus = inv.Status
	}
	return app, nil
}

// validatePayment rejects amounts the NUMERIC(14,2) columns would round.
func validatePayment(amount decimal.Decimal, method PaymentMethod) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !salesshared.IsCents(amount) {
		return ErrAmountPrecision
	}
	if !method.Valid() {
		return ErrInvalidMethod
	}
	return nil
}
