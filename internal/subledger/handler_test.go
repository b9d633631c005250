package subledger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1/tenants/{tenantID}", func(r chi.Router) {
		NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)
	})
	return r
}

func send(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestHandlerReadsDocumentAndAging(t *testing.T) {
	svc, _ := newService()
	router := newTestRouter(svc)
	doc := receivable(t, svc, 3, "SI-1", 100, today)
	_, err := svc.ApplyPayment(context.Background(), 1, doc.ID, money(40), 0)
	require.NoError(t, err)

	rec := send(t, router, http.MethodGet, "/api/v1/tenants/1/subledger/"+strconv.FormatInt(doc.ID, 10), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, StatusPartiallyPaid, got.Status)

	rec = send(t, router, http.MethodGet, "/api/v1/tenants/1/aging/receivable?as_of=2024-07-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []CounterpartyAging
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.True(t, rows[0].Days1To30.Equal(money(60)))
}

func TestHandlerHasNoUnjournaledWriteRoutes(t *testing.T) {
	svc, _ := newService()
	router := newTestRouter(svc)
	doc := receivable(t, svc, 3, "SI-1", 100, today)

	docPath := "/api/v1/tenants/1/subledger/" + strconv.FormatInt(doc.ID, 10)
	writes := []struct {
		path string
		body map[string]any
	}{
		{"/api/v1/tenants/1/receivables", map[string]any{"counterparty_id": 3, "invoice_ref": "SI-9", "amount": "10", "due_date": "2024-06-10"}},
		{"/api/v1/tenants/1/payables", map[string]any{"counterparty_id": 3, "invoice_ref": "PB-9", "amount": "10", "due_date": "2024-06-10"}},
		{docPath + "/payments", map[string]any{"amount": "40"}},
		{"/api/v1/tenants/1/payments", map[string]any{"kind": "RECEIVABLE", "counterparty_id": 3, "amount": "40",
			"allocations": []map[string]any{{"document_id": doc.ID, "amount": "40"}}}},
	}
	for _, w := range writes {
		rec := send(t, router, http.MethodPost, w.path, w.body)
		require.Contains(t, []int{http.StatusNotFound, http.StatusMethodNotAllowed}, rec.Code, w.path)
	}

	got, err := svc.GetDocument(context.Background(), 1, doc.ID)
	require.NoError(t, err)
	require.True(t, got.AmountPaid.IsZero())
}

func TestHandlerMapsErrors(t *testing.T) {
	svc, _ := newService()
	router := newTestRouter(svc)

	rec := send(t, router, http.MethodGet, "/api/v1/tenants/1/subledger/999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = send(t, router, http.MethodGet, "/api/v1/tenants/1/aging/other", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(t, router, http.MethodGet, "/api/v1/tenants/1/aging/payable?as_of=June", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
