package ap

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-billing/internal/tenant"
)

func newTestRouter(repo *memoryAPRepo) http.Handler {
	svc, _ := newTestService(repo)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(tenant.ContextWithHandle(req.Context(), testTenant)))
		})
	})
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return rr, out
}

func TestPayBillHandler(t *testing.T) {
	repo := newMemoryAPRepo()
	repo.seedBill("1500")
	router := newTestRouter(repo)

	rr, body := doJSON(t, router, http.MethodPost, "/bills/1/payments", `{"amount":250,"bankAccountId":1,"paidAt":"2024-03-15"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "Payment BPY-2403-000001 recorded. Balance due: 1,250.00", body["message"])
	require.Equal(t, "partial", body["bill"].(map[string]any)["status"])

	rr, body = doJSON(t, router, http.MethodPost, "/bills/1/payments", `{"amount":5000,"bankAccountId":1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, body["detail"], "exceeds")

	rr, _ = doJSON(t, router, http.MethodPost, "/bills/1/payments", `{"amount":5}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = doJSON(t, router, http.MethodPost, "/bills/9/payments", `{"amount":5,"bankAccountId":1}`)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr, body = doJSON(t, router, http.MethodGet, "/bills/1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1250.0, body["balanceDue"])
}

func TestCreateBillHandler(t *testing.T) {
	repo := newMemoryAPRepo()
	router := newTestRouter(repo)

	rr, body := doJSON(t, router, http.MethodPost, "/bills", `{"storeId":1,"billNumber":"S-1","supplierId":2,"total":80,"dueDate":"2024-04-30"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "open", body["status"])

	rr, _ = doJSON(t, router, http.MethodPost, "/bills/1/void", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr, body = doJSON(t, router, http.MethodPost, "/bills", `{"storeId":1,"supplierId":2,"total":80}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "billNumber is required", body["detail"])
}
