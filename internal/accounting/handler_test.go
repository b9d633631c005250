package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(f *ledgerFixture) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1/tenants/{tenantID}", func(r chi.Router) {
		NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc).MountRoutes(r)
	})
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf).WithContext(context.Background())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerPostAndVoid(t *testing.T) {
	f := newLedgerFixture(t)
	router := newTestRouter(f)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tenants/1/journals", map[string]any{
		"date": "2024-03-15",
		"legs": []map[string]any{
			{"account_id": f.cash.ID, "debit": "120.50"},
			{"account_id": f.revenue.ID, "credit": "120.50"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result PostingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "JV/202403/00001", result.Entry.Number)

	path := "/api/v1/tenants/1/journals/" + itoa(int(result.Entry.ID)) + "/void"
	rec = doJSON(t, router, http.MethodPost, path, map[string]any{"reason": "duplicate"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, path, map[string]any{"reason": "again"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "Already Void")
}

func TestHandlerMapsDomainErrors(t *testing.T) {
	f := newLedgerFixture(t)
	router := newTestRouter(f)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tenants/1/journals", map[string]any{
		"date": "2024-03-15",
		"legs": []map[string]any{
			{"account_id": f.cash.ID, "debit": "10"},
			{"account_id": f.revenue.ID, "credit": "9"},
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = doJSON(t, router, http.MethodPost, "/api/v1/tenants/1/journals", map[string]any{"date": "15/03/2024"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/tenants/1/journals/999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/tenants/1/periods", map[string]any{"year": 2024, "month": 3})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerTrialBalance(t *testing.T) {
	f := newLedgerFixture(t)
	_, err := f.svc.Post(context.Background(), f.sale(5))
	require.NoError(t, err)

	rec := doJSON(t, newTestRouter(f), http.MethodGet, "/api/v1/tenants/1/reports/trial-balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []TrialBalanceRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 4)
}

func TestHandlerRejectsDocumentKindsAndDocumentVoids(t *testing.T) {
	f := newLedgerFixture(t)
	router := newTestRouter(f)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tenants/1/journals", map[string]any{
		"date": "2024-03-15",
		"kind": "RC",
		"legs": []map[string]any{
			{"account_id": f.cash.ID, "debit": "10"},
			{"account_id": f.revenue.ID, "credit": "10"},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	in := f.sale(10)
	in.Kind = "SI"
	invoice, err := f.svc.Post(context.Background(), in)
	require.NoError(t, err)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/tenants/1/journals/"+itoa(int(invoice.Entry.ID))+"/void", map[string]any{"reason": "raw"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "Document Journal")
	require.True(t, f.repo.balance(f.cash.ID).Equal(dec(10)))

	rec = doJSON(t, router, http.MethodPost, "/api/v1/tenants/1/journals/"+itoa(int(invoice.Entry.ID))+"/reverse", map[string]any{})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerReverse(t *testing.T) {
	f := newLedgerFixture(t)
	posted, err := f.svc.Post(context.Background(), f.sale(75))
	require.NoError(t, err)
	router := newTestRouter(f)

	path := "/api/v1/tenants/1/journals/" + itoa(int(posted.Entry.ID)) + "/reverse"
	rec := doJSON(t, router, http.MethodPost, path, map[string]any{"memo": "wrong customer"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result PostingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "RV/202403/00001", result.Entry.Number)
	require.True(t, f.repo.balance(f.cash.ID).IsZero())

	rec = doJSON(t, router, http.MethodPost, path, map[string]any{})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "Already Reversed")
}
