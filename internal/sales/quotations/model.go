package quotations

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

type QuoteStatus string

const (
	QuoteStatusDraft     QuoteStatus = "draft"
	QuoteStatusSent      QuoteStatus = "sent"
	QuoteStatusAccepted  QuoteStatus = "accepted"
	QuoteStatusDeclined  QuoteStatus = "declined"
	QuoteStatusExpired   QuoteStatus = "expired"
	QuoteStatusConverted QuoteStatus = "converted"
)

var quoteTransitions = map[QuoteStatus][]QuoteStatus{
	QuoteStatusDraft:    {QuoteStatusSent},
	QuoteStatusSent:     {QuoteStatusAccepted, QuoteStatusDeclined, QuoteStatusExpired},
	QuoteStatusAccepted: {QuoteStatusConverted},
}

// CanTransitionTo reports whether next is an enumerated successor of s.
// Converted, declined and expired quotes have no successors.
func (s QuoteStatus) CanTransitionTo(next QuoteStatus) bool {
	for _, allowed := range quoteTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Quote struct {
	ID                   int64           `json:"id"`
	StoreID              int64           `json:"storeId"`
	Number               string          `json:"quoteNumber"`
	ClientID             int64           `json:"clientId"`
	ClientName           string          `json:"clientName"`
	QuoteDate            time.Time       `json:"quoteDate"`
	ValidUntil           *time.Time      `json:"validUntil,omitempty"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	Tax                  decimal.Decimal `json:"tax"`
	Discount             decimal.Decimal `json:"discount"`
	Total                decimal.Decimal `json:"total"`
	Status               QuoteStatus     `json:"status"`
	Notes                string          `json:"notes,omitempty"`
	Terms                string          `json:"terms,omitempty"`
	ConvertedToInvoiceID *int64          `json:"convertedToInvoiceId,omitempty"`
	ConvertedAt          *time.Time      `json:"convertedAt,omitempty"`
	Lines                []QuoteLine     `json:"lines,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

type QuoteLine struct {
	ID          int64           `json:"id"`
	QuoteID     int64           `json:"quoteId"`
	ProductID   *int64          `json:"productId,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

// ConvertInput carries the optional invoice dates of a conversion.
type ConvertInput struct {
	InvoiceDate time.Time
	DueDate     *time.Time
}

// Conversion identifies the invoice produced from a quote.
type Conversion struct {
	QuoteID       int64  `json:"quoteId"`
	InvoiceID     int64  `json:"invoiceId"`
	InvoiceNumber string `json:"invoiceNumber"`
}

var (
	ErrQuoteNotFound = shared.NotFound("quote not found")
	ErrInvalidStatus = shared.InvalidState("quote status transition not allowed")
	// ErrAlreadyConverted is terminal; the quote keeps pointing at its invoice.
	ErrAlreadyConverted = shared.InvalidState("quote has already been converted")
	ErrQuoteClosed      = shared.InvalidState("cannot convert declined or expired quotes")
	ErrQuoteNotAccepted = shared.InvalidState("only accepted quotes can be converted")
	ErrTotalsMismatch   = shared.Validation("subtotal + tax - discount must equal total")
	ErrSubCentAmount    = shared.Validation("amounts must not have more than 2 decimal places")
)

// checkConvertible gates conversion on the quote status.
func checkConvertible(status QuoteStatus) error {
	switch status {
	case QuoteStatusConverted:
		return ErrAlreadyConverted
	case QuoteStatusDeclined, QuoteStatusExpired:
		return ErrQuoteClosed
	case QuoteStatusAccepted:
		return nil
	default:
		return ErrQuoteNotAccepted
	}
}
