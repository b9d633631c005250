package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

var errPeriodClosed = errors.New("accounting: period closed")

func TestRespondErrorRulesFirst(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("post: %w", errPeriodClosed), Rule{Err: errPeriodClosed, Status: http.StatusConflict, Title: "Period Closed"})
	require.Equal(t, http.StatusConflict, rec.Code)
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Period Closed", body.Title)
	require.Contains(t, body.Detail, "period closed")
}

func TestRespondErrorFallsBackToInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("db down"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "db down")
}

type payload struct {
	Name string `json:"name" validate:"required"`
}

func TestDecodeAndValidate(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":""}`))
	var p payload
	err := DecodeAndValidate(req, &p)
	require.ErrorIs(t, err, ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"cash"}`))
	require.NoError(t, DecodeAndValidate(req, &p))
	require.Equal(t, "cash", p.Name)
}

func TestInt64Param(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "12")
	rctx.URLParams.Add("bad", "x")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	id, err := Int64Param(req, "id")
	require.NoError(t, err)
	require.Equal(t, int64(12), id)

	_, err = Int64Param(req, "bad")
	require.ErrorIs(t, err, ErrValidation)
}
