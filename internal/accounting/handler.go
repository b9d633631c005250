package accounting

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler wires finance ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes for the ledger module. The router is
// expected to carry a {tenantID} URL parameter.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.handleListAccounts)
	r.Post("/accounts", h.handleCreateAccount)
	r.Get("/accounts/{id}", h.handleGetAccount)
	r.Delete("/accounts/{id}", h.handleDeleteAccount)
	r.Post("/periods", h.handleCreatePeriod)
	r.Get("/journals", h.handleListJournals)
	r.Post("/journals", h.handlePost)
	r.Post("/journals/drafts", h.handleSaveDraft)
	r.Get("/journals/{id}", h.handleGetJournal)
	r.Post("/journals/{id}/post", h.handlePostDraft)
	r.Post("/journals/{id}/void", h.handleVoid)
	r.Post("/journals/{id}/reverse", h.handleReverse)
	r.Get("/reports/trial-balance", h.handleTrialBalance)
}

// ErrorRules maps ledger errors onto problem responses.
var ErrorRules = []httpx.Rule{
	{Err: ErrUnbalancedEntry, Status: http.StatusUnprocessableEntity, Title: "Unbalanced Entry"},
	{Err: ErrTooFewLegs, Status: http.StatusUnprocessableEntity, Title: "Invalid Entry"},
	{Err: ErrInvalidLeg, Status: http.StatusUnprocessableEntity, Title: "Invalid Entry"},
	{Err: ErrInvalidOpeningBalance, Status: http.StatusBadRequest, Title: "Invalid Opening Balance"},
	{Err: ErrHeaderPosting, Status: http.StatusUnprocessableEntity, Title: "Header Account"},
	{Err: ErrAccountInactive, Status: http.StatusUnprocessableEntity, Title: "Inactive Account"},
	{Err: ErrInvalidAccountType, Status: http.StatusBadRequest, Title: "Invalid Account Type"},
	{Err: ErrParentNotHeader, Status: http.StatusUnprocessableEntity, Title: "Invalid Parent"},
	{Err: ErrPeriodClosed, Status: http.StatusConflict, Title: "Period Closed"},
	{Err: ErrPeriodNotFound, Status: http.StatusUnprocessableEntity, Title: "Period Not Found"},
	{Err: ErrPeriodExists, Status: http.StatusConflict, Title: "Period Exists"},
	{Err: ErrAlreadyVoid, Status: http.StatusConflict, Title: "Already Void"},
	{Err: ErrAlreadyReversed, Status: http.StatusConflict, Title: "Already Reversed"},
	{Err: ErrDocumentJournal, Status: http.StatusConflict, Title: "Document Journal"},
	{Err: ErrNoOpenPeriod, Status: http.StatusUnprocessableEntity, Title: "No Open Period"},
	{Err: ErrInvalidStatus, Status: http.StatusConflict, Title: "Invalid Status"},
	{Err: ErrSourceAlreadyLinked, Status: http.StatusConflict, Title: "Duplicate Source"},
	{Err: ErrAccountCodeTaken, Status: http.StatusConflict, Title: "Duplicate Code"},
	{Err: ErrAccountInUse, Status: http.StatusConflict, Title: "Account In Use"},
	{Err: ErrAccountHasBalance, Status: http.StatusConflict, Title: "Account Has Balance"},
	{Err: ErrAccountNotFound, Status: http.StatusNotFound, Title: "Account Not Found"},
	{Err: ErrJournalNotFound, Status: http.StatusNotFound, Title: "Journal Not Found"},
	{Err: ErrMappingNotFound, Status: http.StatusUnprocessableEntity, Title: "Mapping Not Found"},
	{Err: shared.ErrInvalidYearMonth, Status: http.StatusBadRequest, Title: "Invalid Period"},
}

type legRequest struct {
	AccountID   int64           `json:"account_id" validate:"required,gt=0"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
}

type postingRequest struct {
	Date        string       `json:"date" validate:"required,datetime=2006-01-02"`
	Description string       `json:"description" validate:"max=500"`
	Kind        string       `json:"kind" validate:"omitempty,oneof=JV"`
	SourceRef   string       `json:"source_ref" validate:"max=120"`
	Legs        []legRequest `json:"legs" validate:"required,min=2,dive"`
}

func (req postingRequest) toInput(tenantID, actorID int64) PostingInput {
	date, _ := time.Parse(time.DateOnly, req.Date)
	in := PostingInput{
		TenantID:    tenantID,
		Date:        date,
		Description: req.Description,
		Kind:        req.Kind,
		ActorID:     actorID,
	}
	if req.SourceRef != "" {
		in.SourceModule = "MANUAL"
		in.SourceRef = req.SourceRef
	}
	for _, leg := range req.Legs {
		in.Legs = append(in.Legs, LegInput{AccountID: leg.AccountID, Debit: leg.Debit, Credit: leg.Credit, Description: leg.Description})
	}
	return in
}

type accountRequest struct {
	Code           string          `json:"code" validate:"required,max=32"`
	Name           string          `json:"name" validate:"required,max=200"`
	Type           string          `json:"type" validate:"required"`
	ParentID       *int64          `json:"parent_id" validate:"omitempty,gt=0"`
	IsHeader       bool            `json:"is_header"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type periodRequest struct {
	Year  int `json:"year" validate:"required,gte=1900,lte=9999"`
	Month int `json:"month" validate:"required,gte=1,lte=12"`
}

type voidRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type reverseRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Memo string `json:"memo" validate:"max=500"`
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.Int64Param(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req postingRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Post(r.Context(), req.toInput(tenantID, shared.ActorFromContext(r.Context())))
	if err != nil {
		h.fail(w, r, "post journal", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.Int64Param(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req postingRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.SaveDraft(r.Context(), req.toInput(tenantID, shared.ActorFromContext(r.Context())))
	if err != nil {
		h.fail(w, r, "save draft", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) handlePostDraft(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := tenantAndID(w, r)
	if !ok {
		return
	}
	result, err := h.service.PostDraft(r.Context(), tenantID, id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "post draft", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleVoid(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := tenantAndID(w, r)
	if !ok {
		return
	}
	var req voidRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Void(r.Context(), VoidInput{
		TenantID: tenantID,
		EntryID:  id,
		ActorID:  shared.ActorFromContext(r.Context()),
		Reason:   req.Reason,
	})
	if err != nil {
		h.fail(w, r, "void journal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := tenantAndID(w, r)
	if !ok {
		return
	}
	var req reverseRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := ReverseInput{TenantID: tenantID, EntryID: id, Memo: req.Memo, ActorID: shared.ActorFromContext(r.Context())}
	if req.Date != "" {
		in.Date, _ = time.Parse(time.DateOnly, req.Date)
	}
	result, err := h.service.Reverse(r.Context(), in)
	if err != nil {
		h.fail(w, r, "reverse journal", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := tenantAndID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.GetEntry(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, r, "get journal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleListJournals(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.Int64Param(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	page := shared.PageRequest{Page: atoiDefault(q.Get("page")), PerPage: atoiDefault(q.Get("per_page"))}
	filter := EntryFilter{Status: JournalStatus(q.Get("status")), Limit: page.Limit(), Offset: page.Offset()}
	if from, err := time.Parse(time.DateOnly, q.Get("from")); err == nil {
		filter.From = from
	}
	if to, err := time.Parse(time.DateOnly, q.Get("to")); err == nil {
		filter.To = to
	}
	entries, err := h.service.ListEntries(r.Context(), tenantID, filter)
	if err != nil {
		h.fail(w, r, "list journals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.Int64Param(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	accounts, err := h.service.ListAccounts(r.Context(), tenantID)
	if err != nil {
		h.fail(w, r, "list accounts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := tenantAndID(w, r)
	if !ok {
		return
	}
	account, err := h.service.ResolveAccount(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, r, "get account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.Int64Param(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req accountRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.service.CreateAccount(r.Context(), CreateAccountInput{
		TenantID:       tenantID,
		Code:           req.Code,
		Name:           req.Name,
		Type:           AccountType(req.Type),
		ParentID:       req.ParentID,
		IsHeader:       req.IsHeader,
		OpeningBalance: req.OpeningBalance,
		ActorID:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, "create account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := tenantAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteAccount(r.Context(), tenantID, id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, r, "delete account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreatePeriod(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.Int64Param(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req periodRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.service.CreatePeriod(r.Context(), tenantID, req.Year, req.Month, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "create period", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) handleTrialBalance(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.Int64Param(r, "tenantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.TrialBalance(r.Context(), tenantID)
	if err != nil {
		h.fail(w, r, "trial balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !httpx.Matches(err, ErrorRules...) {
		h.logger.Error(op+" failed", slog.String("path", r.URL.Path), slog.Any("error", err))
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

func atoiDefault(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
