package quotations

import (
	"time"

	"github.com/shopspring/decimal"
)

type CreateQuoteLineRequest struct {
	ProductID   *int64          `json:"productId"`
	Description string          `json:"description" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

type CreateQuoteRequest struct {
	StoreID    int64                    `json:"storeId" validate:"required,gt=0"`
	ClientID   int64                    `json:"clientId" validate:"required,gt=0"`
	ClientName string                   `json:"clientName"`
	QuoteDate  string                   `json:"quoteDate"`
	ValidUntil string                   `json:"validUntil"`
	Subtotal   decimal.Decimal          `json:"subtotal"`
	Tax        decimal.Decimal          `json:"tax"`
	Discount   decimal.Decimal          `json:"discount"`
	Total      decimal.Decimal          `json:"total"`
	Notes      string                   `json:"notes"`
	Terms      string                   `json:"terms"`
	Lines      []CreateQuoteLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// CreateQuoteInput is the parsed form of CreateQuoteRequest.
type CreateQuoteInput struct {
	StoreID    int64
	ClientID   int64
	ClientName string
	QuoteDate  time.Time
	ValidUntil *time.Time
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Discount   decimal.Decimal
	Total      decimal.Decimal
	Notes      string
	Terms      string
	Lines      []CreateQuoteLineRequest
}

type ConvertQuoteRequest struct {
	InvoiceDate string `json:"invoiceDate"`
	DueDate     string `json:"dueDate"`
}

type ConvertQuoteResponse struct {
	InvoiceID     int64  `json:"invoiceId"`
	InvoiceNumber string `json:"invoiceNumber"`
	Message       string `json:"message"`
}
