package subledger

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler exposes receivable and payable reads. Documents and payments are
// opened through the sales, purchase and settlement postings.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers subledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/subledger/{id}", h.handleGet)
	r.Get("/aging/{kind}", h.handleAging)
}

// ErrorRules maps subledger errors onto problem responses.
var ErrorRules = []httpx.Rule{
	{Err: ErrOverpayment, Status: http.StatusUnprocessableEntity, Title: "Overpayment"},
	{Err: ErrAllocationMismatch, Status: http.StatusUnprocessableEntity, Title: "Allocation Mismatch"},
	{Err: ErrInvalidAmount, Status: http.StatusBadRequest, Title: "Invalid Amount"},
	{Err: ErrInvalidPrecision, Status: http.StatusBadRequest, Title: "Invalid Precision"},
	{Err: ErrInvalidKind, Status: http.StatusBadRequest, Title: "Invalid Kind"},
	{Err: ErrDocumentNotFound, Status: http.StatusNotFound, Title: "Document Not Found"},
	{Err: ErrDocumentCancelled, Status: http.StatusConflict, Title: "Document Cancelled"},
	{Err: ErrDocumentHasPayments, Status: http.StatusConflict, Title: "Document Has Payments"},
	{Err: ErrDuplicateInvoice, Status: http.StatusConflict, Title: "Duplicate Invoice"},
	{Err: ErrCounterpartyMismatch, Status: http.StatusUnprocessableEntity, Title: "Counterparty Mismatch"},
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := tenantAndID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.GetDocument(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleAging(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.Int64Param(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	kind := Kind(strings.ToUpper(chi.URLParam(r, "kind")))
	var asOf time.Time
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		if asOf, err = time.Parse(time.DateOnly, raw); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "as_of must be YYYY-MM-DD")
			return
		}
	}
	rows, err := h.service.AgingReport(r.Context(), tenantID, kind, asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !httpx.Matches(err, ErrorRules...) {
		h.logger.Error("subledger request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err, ErrorRules...)
}

func tenantAndID(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	tenantID, err := httpx.Int64Param(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	return tenantID, id, true
}
