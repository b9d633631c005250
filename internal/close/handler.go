package close

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler wires HTTP endpoints for the period close.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the close routes on a tenant-scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/periods", h.handleListPeriods)
	r.Post("/periods/{year}/{month}/close", h.handleClose)
}

// ErrorRules maps close errors onto problem responses.
var ErrorRules = []httpx.Rule{
	{Err: ErrDraftsOutstanding, Status: http.StatusConflict, Title: "Drafts Outstanding"},
	{Err: ErrCloseInProgress, Status: http.StatusConflict, Title: "Close In Progress"},
	{Err: ErrRetainedEarningsRequired, Status: http.StatusUnprocessableEntity, Title: "Retained Earnings Required"},
	{Err: accounting.ErrPeriodClosed, Status: http.StatusConflict, Title: "Period Closed"},
	{Err: accounting.ErrPeriodNotFound, Status: http.StatusNotFound, Title: "Period Not Found"},
	{Err: accounting.ErrAccountNotFound, Status: http.StatusUnprocessableEntity, Title: "Account Not Found"},
	{Err: accounting.ErrHeaderPosting, Status: http.StatusUnprocessableEntity, Title: "Header Account"},
	{Err: shared.ErrInvalidYearMonth, Status: http.StatusBadRequest, Title: "Invalid Period"},
}

type closeRequest struct {
	RetainedEarningsAccountID int64 `json:"retained_earnings_account_id" validate:"omitempty,gt=0"`
}

type draftsProblem struct {
	httpx.ProblemDetail
	Drafts int `json:"drafts"`
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.Int64Param(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	year, err1 := strconv.Atoi(chi.URLParam(r, "year"))
	month, err2 := strconv.Atoi(chi.URLParam(r, "month"))
	if err1 != nil || err2 != nil {
		httpx.RespondError(w, shared.ErrInvalidYearMonth, ErrorRules...)
		return
	}
	var req closeRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	result, err := h.service.ClosePeriod(r.Context(), ClosePeriodInput{
		TenantID:                  tenantID,
		Year:                      year,
		Month:                     month,
		ActorID:                   shared.ActorFromContext(r.Context()),
		RetainedEarningsAccountID: req.RetainedEarningsAccountID,
	})
	if err != nil {
		var drafts *DraftsOutstandingError
		if errors.As(err, &drafts) {
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(draftsProblem{
				ProblemDetail: httpx.ProblemDetail{Title: "Drafts Outstanding", Status: http.StatusConflict, Detail: err.Error()},
				Drafts:        drafts.Count,
			})
			return
		}
		if !httpx.Matches(err, ErrorRules...) {
			h.logger.Error("close period failed", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
		}
		httpx.RespondError(w, err, ErrorRules...)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleListPeriods(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.Int64Param(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	periods, err := h.service.ListPeriods(r.Context(), tenantID, shared.PageRequest{Page: page, PerPage: perPage})
	if err != nil {
		h.logger.Error("list periods failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, periods)
}
