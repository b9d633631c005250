package inventory

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler exposes read-only stock endpoints. Movements enter through the
// document and adjustment postings so every change carries a journal.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/inventory/{itemID}/{warehouseID}", h.handlePosition)
	r.Get("/inventory/{itemID}/{warehouseID}/layers", h.handleLayers)
}

// ErrorRules maps inventory errors onto problem responses.
var ErrorRules = []httpx.Rule{
	{Err: ErrInsufficientStock, Status: http.StatusUnprocessableEntity, Title: "Insufficient Stock"},
	{Err: ErrInvalidQuantity, Status: http.StatusBadRequest, Title: "Invalid Quantity"},
	{Err: ErrInvalidUnitCost, Status: http.StatusBadRequest, Title: "Invalid Unit Cost"},
	{Err: ErrInvalidPrecision, Status: http.StatusBadRequest, Title: "Invalid Precision"},
	{Err: ErrItemRequired, Status: http.StatusBadRequest, Title: "Invalid Item"},
	{Err: ErrPositionNotFound, Status: http.StatusNotFound, Title: "Position Not Found"},
	{Err: ErrReceiptNotFound, Status: http.StatusNotFound, Title: "Receipt Not Found"},
	{Err: ErrReceiptConsumed, Status: http.StatusConflict, Title: "Receipt Consumed"},
}

func (h *Handler) handlePosition(w http.ResponseWriter, r *http.Request) {
	tenantID, itemID, warehouseID, ok := h.keyParams(w, r)
	if !ok {
		return
	}
	pos, err := h.service.Position(r.Context(), tenantID, itemID, warehouseID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pos)
}

func (h *Handler) handleLayers(w http.ResponseWriter, r *http.Request) {
	tenantID, itemID, warehouseID, ok := h.keyParams(w, r)
	if !ok {
		return
	}
	layers, err := h.service.Layers(r.Context(), tenantID, itemID, warehouseID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, layers)
}

func (h *Handler) keyParams(w http.ResponseWriter, r *http.Request) (int64, int64, int64, bool) {
	var ids [3]int64
	for i, name := range []string{"tenantID", "itemID", "warehouseID"} {
		v, err := httpx.Int64Param(r, name)
		if err != nil {
			httpx.RespondError(w, err)
			return 0, 0, 0, false
		}
		ids[i] = v
	}
	return ids[0], ids[1], ids[2], true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !httpx.Matches(err, ErrorRules...) {
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err, ErrorRules...)
}
