package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		detail string
	}{
		{shared.NotFound("invoice not found"), http.StatusNotFound, "invoice not found"},
		{fmt.Errorf("wrap: %w", shared.Validation("amount must be positive")), http.StatusBadRequest, "amount must be positive"},
		{shared.InvalidState("invoice is cancelled"), http.StatusBadRequest, "invoice is cancelled"},
		{shared.ErrIdempotencyMismatch, http.StatusConflict, "idempotency key already used with a different request"},
		{errors.New("pq: connection reset"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code)
		require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Equal(t, tc.status, body.Status)
		require.Equal(t, tc.detail, body.Detail)
		require.Equal(t, tc.status < 500, IsClientError(tc.err))
	}
}

type sampleRequest struct {
	InvoiceID int64           `json:"invoiceId" validate:"required,gt=0"`
	Method    string          `json:"paymentMethod" validate:"required,oneof=cash card"`
	Amount    decimal.Decimal `json:"amount"`
}

func TestDecodeAndValidate(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"paymentMethod":"cash"}`, "invoiceId is required"},
		{`{"invoiceId":1,"paymentMethod":"barter"}`, "paymentMethod must be one of: cash card"},
		{`{"invoiceId":-1,"paymentMethod":"cash"}`, "invoiceId is invalid"},
		{`{"invoiceId":`, "malformed JSON body"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(tc.body))
		var in sampleRequest
		err := DecodeAndValidate(req, &in)
		require.ErrorIs(t, err, shared.ErrValidation, tc.body)
		require.EqualError(t, err, tc.want)
	}

	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{"invoiceId":7,"paymentMethod":"card","amount":"12.50"}`))
	var in sampleRequest
	require.NoError(t, DecodeAndValidate(req, &in))
	require.True(t, in.Amount.Equal(decimal.RequireFromString("12.5")))
}

func TestDecodeJSONEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/quotes/1/convert", http.NoBody)
	in := struct {
		InvoiceDate string `json:"invoiceDate"`
	}{InvoiceDate: "kept"}
	require.NoError(t, DecodeJSON(req, &in))
	require.Equal(t, "kept", in.InvoiceDate)
}

func TestURLParamInt64(t *testing.T) {
	r := chi.NewRouter()
	var got int64
	var gotErr error
	r.Get("/invoices/{id}", func(w http.ResponseWriter, req *http.Request) {
		got, gotErr = URLParamInt64(req, "id")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/invoices/42", nil))
	require.NoError(t, gotErr)
	require.Equal(t, int64(42), got)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/invoices/0", nil))
	require.ErrorIs(t, gotErr, shared.ErrValidation)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/invoices/abc", nil))
	require.EqualError(t, gotErr, "invalid id")
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("dueDate", "2024-03-31")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseDate("dueDate", "2024-03-31T10:00:00+07:00")
	require.NoError(t, err)
	require.Equal(t, 3, d.UTC().Hour())

	d, err = ParseDate("dueDate", "  ")
	require.NoError(t, err)
	require.True(t, d.IsZero())

	_, err = ParseDate("dueDate", "31/03/2024")
	require.EqualError(t, err, "dueDate must be a date (YYYY-MM-DD)")
}

func TestMoneyAndSprintf(t *testing.T) {
	require.Equal(t, "1,250.00", Money(decimal.RequireFromString("1250")))
	require.Equal(t, "0.10", Money(decimal.RequireFromString("0.099")))
	require.Equal(t, "Balance due: 12,345.67", Sprintf("Balance due: %s", Money(decimal.RequireFromString("12345.671"))))

	out, err := json.Marshal(map[string]decimal.Decimal{"amount": decimal.RequireFromString("10.5")})
	require.NoError(t, err)
	require.JSONEq(t, `{"amount":10.5}`, string(out))
}
