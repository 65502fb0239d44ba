package ap

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/tenant"
)

// Handler manages AP endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers AP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/bills", h.createBill)
	r.Get("/bills/{id}", h.getBill)
	r.Post("/bills/{id}/payments", h.payBill)
	r.Post("/bills/{id}/void", h.voidBill)
}

type billRequest struct {
	StoreID      int64           `json:"storeId" validate:"required,gt=0"`
	Number       string          `json:"billNumber" validate:"required"`
	SupplierID   int64           `json:"supplierId" validate:"required,gt=0"`
	SupplierName string          `json:"supplierName"`
	BillDate     string          `json:"billDate"`
	DueDate      string          `json:"dueDate"`
	Total        decimal.Decimal `json:"total"`
}

func (h *Handler) createBill(w http.ResponseWriter, r *http.Request) {
	t, err := tenant.FromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req billRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	billDate, err := httpx.ParseDate("billDate", req.BillDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	dueDate, err := httpx.ParseDate("dueDate", req.DueDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateBillInput{
		StoreID:      req.StoreID,
		Number:       req.Number,
		SupplierID:   req.SupplierID,
		SupplierName: req.SupplierName,
		BillDate:     billDate,
		Total:        req.Total,
	}
	if !dueDate.IsZero() {
		in.DueDate = &dueDate
	}
	bill, err := h.service.CreateBill(r.Context(), t, in)
	if err != nil {
		h.logFailure("create bill", err, slog.String("number", req.Number))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, bill)
}

func (h *Handler) getBill(w http.ResponseWriter, r *http.Request) {
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
	detail, err := h.service.GetBill(r.Context(), t, id)
	if err != nil {
		h.logFailure("get bill", err, slog.Int64("bill_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

type payBillRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	BankAccountID int64           `json:"bankAccountId" validate:"required,gt=0"`
	PaidAt        string          `json:"paidAt"`
	Method        string          `json:"method"`
	Reference     string          `json:"reference"`
	Notes         string          `json:"notes"`
}

type payBillResponse struct {
	Success bool        `json:"success"`
	Payment BillPayment `json:"payment"`
	Bill    Bill        `json:"bill"`
	Message string      `json:"message"`
}

func (h *Handler) payBill(w http.ResponseWriter, r *http.Request) {
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
	var req payBillRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	paidAt, err := httpx.ParseDate("paidAt", req.PaidAt)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.PayBill(r.Context(), t, PayBillInput{
		BillID:        id,
		Amount:        req.Amount,
		BankAccountID: req.BankAccountID,
		PaidAt:        paidAt,
		Method:        req.Method,
		Reference:     req.Reference,
		Notes:         req.Notes,
	})
	if err != nil {
		h.logFailure("pay bill", err, slog.Int64("bill_id", id), slog.Bool("ledger", IsLedgerError(err)), slog.String("tenant", t.ID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payBillResponse{
		Success: true,
		Payment: result.Payment,
		Bill:    result.Bill,
		Message: httpx.Sprintf("Payment %s recorded. Balance due: %s", result.Payment.Number, httpx.Money(result.Bill.BalanceDue())),
	})
}

func (h *Handler) voidBill(w http.ResponseWriter, r *http.Request) {
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
	bill, err := h.service.VoidBill(r.Context(), t, id)
	if err != nil {
		h.logFailure("void bill", err, slog.Int64("bill_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) logFailure(op string, err error, attrs ...any) {
	if httpx.IsClientError(err) {
		h.logger.Debug(op+" rejected", append(attrs, slog.Any("error", err))...)
		return
	}
	h.logger.Error(op, append(attrs, slog.Any("error", err))...)
}
