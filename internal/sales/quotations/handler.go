package quotations

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/tenant"
)

// Handler exposes the quote endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	t, err := tenant.FromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req CreateQuoteRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	quoteDate, err := httpx.ParseDate("quoteDate", req.QuoteDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	validUntil, err := httpx.ParseDate("validUntil", req.ValidUntil)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateQuoteInput{
		StoreID:    req.StoreID,
		ClientID:   req.ClientID,
		ClientName: req.ClientName,
		QuoteDate:  quoteDate,
		Subtotal:   req.Subtotal,
		Tax:        req.Tax,
		Discount:   req.Discount,
		Total:      req.Total,
		Notes:      req.Notes,
		Terms:      req.Terms,
		Lines:      req.Lines,
	}
	if !validUntil.IsZero() {
		in.ValidUntil = &validUntil
	}
	quote, err := h.service.Create(r.Context(), t, in)
	if err != nil {
		h.logFailure("create quote", err, slog.Int64("store_id", req.StoreID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, quote)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	h.withQuote(w, r, "get quote", h.service.Get)
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	h.withQuote(w, r, "send quote", h.service.Send)
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	h.withQuote(w, r, "accept quote", h.service.Accept)
}

func (h *Handler) Decline(w http.ResponseWriter, r *http.Request) {
	h.withQuote(w, r, "decline quote", h.service.Decline)
}

func (h *Handler) withQuote(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, tenant.Handle, int64) (Quote, error)) {
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
	quote, err := fn(r.Context(), t, id)
	if err != nil {
		h.logFailure(op, err, slog.Int64("quote_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quote)
}

// Convert creates the invoice for an accepted quote. The body is optional.
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
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
	var req ConvertQuoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
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
	in := ConvertInput{InvoiceDate: invoiceDate}
	if !dueDate.IsZero() {
		in.DueDate = &dueDate
	}
	conv, err := h.service.Convert(r.Context(), t, id, in)
	if err != nil {
		h.logFailure("convert quote", err, slog.Int64("quote_id", id), slog.String("tenant", t.ID))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("quote converted", slog.Int64("quote_id", id), slog.Int64("invoice_id", conv.InvoiceID), slog.String("invoice_number", conv.InvoiceNumber))
	httpx.JSON(w, http.StatusOK, ConvertQuoteResponse{
		InvoiceID:     conv.InvoiceID,
		InvoiceNumber: conv.InvoiceNumber,
		Message:       httpx.Sprintf("Quote converted to invoice %s", conv.InvoiceNumber),
	})
}

func (h *Handler) logFailure(op string, err error, attrs ...any) {
	if httpx.IsClientError(err) {
		h.logger.Debug(op+" rejected", append(attrs, slog.Any("error", err))...)
		return
	}
	h.logger.Error(op, append(attrs, slog.Any("error", err))...)
}
