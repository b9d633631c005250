package integration

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

// Handler exposes document posting endpoints.
type Handler struct {
	logger *slog.Logger
	hooks  *Hooks
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, hooks *Hooks) *Handler {
	return &Handler{logger: logger, hooks: hooks}
}

// MountRoutes registers document routes on a tenant-scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sales/invoices", h.handleSalesInvoice)
	r.Post("/purchases/bills", h.handlePurchaseBill)
	r.Post("/receipts", h.handleSettlement(true))
	r.Post("/disbursements", h.handleSettlement(false))
	r.Post("/inventory/adjustments", h.handleAdjustment)
	r.Post("/documents/{id}/void", h.handleVoid)
}

// ErrorRules covers every module a document posting touches.
var ErrorRules = func() []httpx.Rule {
	rules := []httpx.Rule{
		{Err: ErrEmptyDocument, Status: http.StatusUnprocessableEntity, Title: "Empty Document"},
		{Err: ErrDocumentRequired, Status: http.StatusBadRequest, Title: "Invalid Document"},
		{Err: ErrSettlementVoid, Status: http.StatusConflict, Title: "Settlement Void"},
		{Err: ErrAdjustmentVoid, Status: http.StatusConflict, Title: "Adjustment Void"},
		{Err: ErrMoneyPrecision, Status: http.StatusUnprocessableEntity, Title: "Invalid Precision"},
	}
	rules = append(rules, accounting.ErrorRules...)
	rules = append(rules, inventory.ErrorRules...)
	return append(rules, subledger.ErrorRules...)
}()

type salesLineRequest struct {
	ItemID      int64           `json:"item_id" validate:"omitempty,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required_with=ItemID"`
	Qty         decimal.Decimal `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Description string          `json:"description" validate:"max=200"`
}

type salesInvoiceRequest struct {
	Number     string             `json:"number" validate:"required,max=60"`
	CustomerID int64              `json:"customer_id" validate:"required,gt=0"`
	Date       string             `json:"date" validate:"required,datetime=2006-01-02"`
	DueDate    string             `json:"due_date" validate:"required,datetime=2006-01-02"`
	Lines      []salesLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type purchaseLineRequest struct {
	ItemID      int64           `json:"item_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Qty         decimal.Decimal `json:"qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

type purchaseBillRequest struct {
	Number     string                `json:"number" validate:"required,max=60"`
	SupplierID int64                 `json:"supplier_id" validate:"required,gt=0"`
	Date       string                `json:"date" validate:"required,datetime=2006-01-02"`
	DueDate    string                `json:"due_date" validate:"required,datetime=2006-01-02"`
	Lines      []purchaseLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type allocationRequest struct {
	DocumentID int64           `json:"document_id" validate:"required,gt=0"`
	Amount     decimal.Decimal `json:"amount"`
}

type settlementRequest struct {
	CounterpartyID int64               `json:"counterparty_id" validate:"required,gt=0"`
	Amount         decimal.Decimal     `json:"amount"`
	Reference      string              `json:"reference" validate:"required,max=120"`
	Date           string              `json:"date" validate:"required,datetime=2006-01-02"`
	Allocations    []allocationRequest `json:"allocations" validate:"required,min=1,dive"`
}

type adjustmentRequest struct {
	ItemID      int64           `json:"item_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Qty         decimal.Decimal `json:"qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Reference   string          `json:"reference" validate:"required,max=120"`
	Date        string          `json:"date" validate:"required,datetime=2006-01-02"`
	Reason      string          `json:"reason" validate:"required,max=500"`
}

type voidRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func parseDate(raw string) time.Time {
	t, _ := time.Parse(time.DateOnly, raw)
	return t
}

func (h *Handler) handleSalesInvoice(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.Int64Param(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req salesInvoiceRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := SalesInvoice{
		TenantID:   tenantID,
		Number:     req.Number,
		CustomerID: req.CustomerID,
		Date:       parseDate(req.Date),
		DueDate:    parseDate(req.DueDate),
		ActorID:    shared.ActorFromContext(r.Context()),
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, SalesLine{ItemID: l.ItemID, WarehouseID: l.WarehouseID, Qty: l.Qty, UnitPrice: l.UnitPrice, Description: l.Description})
	}
	out, err := h.hooks.PostSalesInvoice(r.Context(), in)
	if err != nil {
		h.fail(w, r, "post sales invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) handlePurchaseBill(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.Int64Param(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req purchaseBillRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := PurchaseBill{
		TenantID:   tenantID,
		Number:     req.Number,
		SupplierID: req.SupplierID,
		Date:       parseDate(req.Date),
		DueDate:    parseDate(req.DueDate),
		ActorID:    shared.ActorFromContext(r.Context()),
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, PurchaseLine{ItemID: l.ItemID, WarehouseID: l.WarehouseID, Qty: l.Qty, UnitCost: l.UnitCost})
	}
	out, err := h.hooks.PostPurchaseBill(r.Context(), in)
	if err != nil {
		h.fail(w, r, "post purchase bill", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) handleSettlement(receipt bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := httpx.Int64Param(r, "tenantID")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var req settlementRequest
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		in := Settlement{
			TenantID:       tenantID,
			CounterpartyID: req.CounterpartyID,
			Amount:         req.Amount,
			Reference:      req.Reference,
			Date:           parseDate(req.Date),
			ActorID:        shared.ActorFromContext(r.Context()),
		}
		for _, a := range req.Allocations {
			in.Allocations = append(in.Allocations, subledger.Allocation{DocumentID: a.DocumentID, Amount: a.Amount})
		}
		var out SettlementPosting
		if receipt {
			out, err = h.hooks.ReceivePayment(r.Context(), in)
		} else {
			out, err = h.hooks.PayBill(r.Context(), in)
		}
		if err != nil {
			h.fail(w, r, "post settlement", err)
			return
		}
		httpx.JSON(w, http.StatusCreated, out)
	}
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.Int64Param(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req adjustmentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.hooks.AdjustStock(r.Context(), StockAdjustment{
		TenantID:    tenantID,
		ItemID:      req.ItemID,
		WarehouseID: req.WarehouseID,
		Qty:         req.Qty,
		UnitCost:    req.UnitCost,
		Reference:   req.Reference,
		Date:        parseDate(req.Date),
		Reason:      req.Reason,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, "adjust stock", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) handleVoid(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.Int64Param(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req voidRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.hooks.VoidDocument(r.Context(), tenantID, id, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.fail(w, r, "void document", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !httpx.Matches(err, ErrorRules...) {
		h.logger.Error(op+" failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err, ErrorRules...)
}
