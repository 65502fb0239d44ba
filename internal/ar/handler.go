package ar

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/tenant"
)

// IdempotencyHeader carries the client supplied deduplication key.
const IdempotencyHeader = "Idempotency-Key"

// Handler manages AR endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers AR routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/payments", h.createPayment)
	r.Post("/invoices", h.createInvoice)
	r.Get("/invoices/{id}", h.getInvoice)
	r.Post("/invoices/{id}/send", h.sendInvoice)
	r.Post("/invoices/{id}/cancel", h.cancelInvoice)
}

type paymentRequest struct {
	InvoiceID        int64           `json:"invoiceId" validate:"required,gt=0"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentMethod    string          `json:"paymentMethod" validate:"required,oneof=cash check bank_transfer card electronic other"`
	PaymentDate      string          `json:"paymentDate"`
	PaymentReference string          `json:"paymentReference"`
	BankName         string          `json:"bankName"`
	AccountNumber    string          `json:"accountNumber"`
	Notes            string          `json:"notes"`
	DepositAccountID *int64          `json:"depositAccountId" validate:"omitempty,gt=0"`
}

type paymentResponse struct {
	Success          bool            `json:"success"`
	Payment          Payment         `json:"payment"`
	Invoice          Invoice         `json:"invoice"`
	ChangeAmount     decimal.Decimal `json:"changeAmount"`
	AppliedToInvoice decimal.Decimal `json:"appliedToInvoice"`
	Message          string          `json:"message"`
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	t, err := tenant.FromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req paymentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := httpx.ParseDate("paymentDate", req.PaymentDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.RecordPayment(r.Context(), t, PaymentInput{
		InvoiceID:        req.InvoiceID,
		Amount:           req.Amount,
		Method:           PaymentMethod(req.PaymentMethod),
		PaymentDate:      date,
		Reference:        req.PaymentReference,
		BankName:         req.BankName,
		AccountNumber:    req.AccountNumber,
		Notes:            req.Notes,
		DepositAccountID: req.DepositAccountID,
		IdempotencyKey:   strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
	})
	if err != nil {
		h.logFailure("record payment", err, slog.Int64("invoice_id", req.InvoiceID), slog.String("tenant", t.ID))
		httpx.RespondError(w, err)
		return
	}
	if result.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	httpx.JSON(w, http.StatusOK, paymentResponse{
		Success:          true,
		Payment:          result.Payment,
		Invoice:          result.Invoice,
		ChangeAmount:     result.ChangeAmount,
		AppliedToInvoice: result.AppliedToInvoice,
		Message:          paymentMessage(result),
	})
}

func paymentMessage(result PaymentResult) string {
	if result.ChangeAmount.IsPositive() {
		return httpx.Sprintf("Payment %s recorded. Change due: %s", result.Payment.Number, httpx.Money(result.ChangeAmount))
	}
	return httpx.Sprintf("Payment %s recorded. Balance due: %s", result.Payment.Number, httpx.Money(decimal.Max(result.Invoice.BalanceDue(), decimal.Zero)))
}

type invoiceLineRequest struct {
	ProductID   *int64          `json:"productId"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

type invoiceRequest struct {
	StoreID     int64                `json:"storeId" validate:"required,gt=0"`
	ClientID    int64                `json:"clientId" validate:"required,gt=0"`
	ClientName  string               `json:"clientName"`
	InvoiceDate string               `json:"invoiceDate"`
	DueDate     string               `json:"dueDate"`
	Subtotal    decimal.Decimal      `json:"subtotal"`
	Tax         decimal.Decimal      `json:"tax"`
	Discount    decimal.Decimal      `json:"discount"`
	Total       decimal.Decimal      `json:"total"`
	Notes       string               `json:"notes"`
	Terms       string               `json:"terms"`
	Lines       []invoiceLineRequest `json:"lines" validate:"dive"`
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	t, err := tenant.FromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req invoiceRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoiceDate, err := httpx.ParseDate("invoiceDate", req.InvoiceDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	dueDate, err := httpx.ParseDate("dueDate", req.DueDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := InvoiceInput{
		StoreID:     req.StoreID,
		ClientID:    req.ClientID,
		ClientName:  req.ClientName,
		InvoiceDate: invoiceDate,
		Subtotal:    req.Subtotal,
		Tax:         req.Tax,
		Discount:    req.Discount,
		Total:       req.Total,
		Notes:       req.Notes,
		Terms:       req.Terms,
	}
	if !dueDate.IsZero() {
		in.DueDate = &dueDate
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, InvoiceLineInput(l))
	}
	inv, err := h.service.CreateInvoice(r.Context(), t, in)
	if err != nil {
		h.logFailure("create invoice", err, slog.Int64("store_id", req.StoreID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	t, err := tenant.FromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.GetInvoice(r.Context(), t, id)
	if err != nil {
		h.logFailure("get invoice", err, slog.Int64("invoice_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) sendInvoice(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, "send invoice", h.service.SendInvoice)
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, "cancel invoice", h.service.CancelInvoice)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, h tenant.Handle, id int64) (Invoice, error)) {
	t, err := tenant.FromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := fn(r.Context(), t, id)
	if err != nil {
		h.logFailure(op, err, slog.Int64("invoice_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) logFailure(op string, err error, attrs ...any) {
	if httpx.IsClientError(err) {
		h.logger.Debug(op+" rejected", append(attrs, slog.Any("error", err))...)
		return
	}
	h.logger.Error(op, append(attrs, slog.Any("error", err))...)
}
