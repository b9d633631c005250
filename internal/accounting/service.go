package accounting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IDResolver caches stable identifier lookups.
type IDResolver interface {
	Resolve(ctx context.Context, key string, load func(context.Context) (int64, error)) (int64, error)
	Forget(ctx context.Context, key string) error
}

// OperationObserver receives one observation per service call.
type OperationObserver interface {
	ObserveOperation(module, operation, outcome string, elapsed time.Duration)
}

// maxAccountDepth bounds parent chain walks.
const maxAccountDepth = 32

// Service is the posting engine: it owns the account registry rule, the period
// gate and every journal write.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	ids     IDResolver
	metrics OperationObserver
	now     func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithCache enables cached code and mapping lookups.
func (s *Service) WithCache(ids IDResolver) {
	s.ids = ids
}

// WithMetrics enables per-operation observations.
func (s *Service) WithMetrics(m OperationObserver) {
	s.metrics = m
}

// Post validates and persists a POSTED journal entry, moving balances.
func (s *Service) Post(ctx context.Context, input PostingInput) (result PostingResult, err error) {
	defer s.observe("post", time.Now(), &err)
	result, err = s.write(ctx, input, JournalStatusPosted)
	if err != nil {
		return PostingResult{}, err
	}
	s.record(ctx, input.TenantID, input.ActorID, "journal.post", result.Entry, map[string]any{
		"number":        result.Entry.Number,
		"total":         result.Entry.TotalDebit.String(),
		"source_module": input.SourceModule,
		"source_ref":    input.SourceRef,
	})
	return result, nil
}

// SaveDraft persists a DRAFT entry. Drafts are numbered and balanced but do not
// touch running balances until PostDraft.
func (s *Service) SaveDraft(ctx context.Context, input PostingInput) (entry JournalEntry, err error) {
	defer s.observe("draft", time.Now(), &err)
	result, err := s.write(ctx, input, JournalStatusDraft)
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, input.TenantID, input.ActorID, "journal.draft", result.Entry, map[string]any{
		"number": result.Entry.Number,
	})
	return result.Entry, nil
}

func (s *Service) write(ctx context.Context, input PostingInput, status JournalStatus) (PostingResult, error) {
	debit, credit, err := input.Validate()
	if err != nil {
		return PostingResult{}, err
	}
	var result PostingResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := s.assertOpenPeriod(ctx, tx, input.TenantID, input.Date); err != nil {
			return err
		}
		accounts, err := s.resolveLegAccounts(ctx, tx, input.TenantID, input.Legs)
		if err != nil {
			return err
		}
		kind, prefix := documentKind(input.Kind, input.Prefix)
		number, err := tx.NextDocumentNumber(ctx, input.TenantID, prefix, kind, input.Date)
		if err != nil {
			return err
		}
		header := JournalEntry{
			TenantID:     input.TenantID,
			Number:       number,
			Kind:         kind,
			Date:         shared.DateOnly(input.Date),
			Description:  input.Description,
			Status:       status,
			TotalDebit:   debit,
			TotalCredit:  credit,
			SourceModule: input.SourceModule,
			SourceRef:    input.SourceRef,
			CreatedBy:    input.ActorID,
		}
		if status == JournalStatusPosted {
			now := s.now()
			header.PostedAt = &now
		}
		entry, err := tx.InsertJournalEntry(ctx, header)
		if err != nil {
			return err
		}
		legs, err := tx.InsertJournalLegs(ctx, entry.ID, toLegs(entry.ID, input.Legs))
		if err != nil {
			return err
		}
		if input.SourceModule != "" && input.SourceRef != "" {
			ref := SourceID(input.TenantID, input.SourceModule, input.SourceRef)
			if err := tx.LinkSource(ctx, input.TenantID, input.SourceModule, ref, entry.ID); err != nil {
				if errors.Is(err, ErrSourceConflict) {
					return ErrSourceAlreadyLinked
				}
				return err
			}
		}
		var changes []BalanceChange
		if status == JournalStatusPosted {
			changes, err = s.applyLegs(ctx, tx, input.TenantID, legs, accounts, false)
			if err != nil {
				return err
			}
		}
		entry.Legs = legs
		result = PostingResult{Entry: entry, Changes: changes}
		return nil
	})
	if err != nil {
		return PostingResult{}, err
	}
	return result, nil
}

// PostDraft moves a DRAFT entry to POSTED and applies its legs.
func (s *Service) PostDraft(ctx context.Context, tenantID, entryID, actorID int64) (result PostingResult, err error) {
	defer s.observe("post_draft", time.Now(), &err)
	if tenantID == 0 || entryID == 0 {
		return PostingResult{}, errors.New("accounting: tenant and entry id required")
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetJournal(ctx, tenantID, entryID, true)
		if err != nil {
			return err
		}
		switch entry.Status {
		case JournalStatusDraft:
		case JournalStatusCancelled:
			return ErrAlreadyVoid
		default:
			return ErrInvalidStatus
		}
		if _, err := s.assertOpenPeriod(ctx, tx, tenantID, entry.Date); err != nil {
			return err
		}
		accounts, err := s.resolveLegAccounts(ctx, tx, tenantID, legInputs(entry.Legs))
		if err != nil {
			return err
		}
		changes, err := s.applyLegs(ctx, tx, tenantID, entry.Legs, accounts, false)
		if err != nil {
			return err
		}
		now := s.now()
		if err := tx.MarkPosted(ctx, tenantID, entryID, now); err != nil {
			return err
		}
		entry.Status = JournalStatusPosted
		entry.PostedAt = &now
		result = PostingResult{Entry: entry, Changes: changes}
		return nil
	})
	if err != nil {
		return PostingResult{}, err
	}
	s.record(ctx, tenantID, actorID, "journal.post", result.Entry, map[string]any{
		"number":     result.Entry.Number,
		"from_draft": true,
	})
	return result, nil
}

// Void cancels an entry. A POSTED entry has every leg applied in reverse so
// each touched account returns to its pre-posting balance. The status check
// happens under the entry row lock, so two concurrent voids cannot both pass.
func (s *Service) Void(ctx context.Context, input VoidInput) (result PostingResult, err error) {
	defer s.observe("void", time.Now(), &err)
	if input.TenantID == 0 || input.EntryID == 0 {
		return PostingResult{}, errors.New("accounting: tenant and entry id required")
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetJournal(ctx, input.TenantID, input.EntryID, true)
		if err != nil {
			return err
		}
		if entry.Status == JournalStatusCancelled {
			return ErrAlreadyVoid
		}
		if !input.Document && !IsManualKind(entry.Kind) {
			return ErrDocumentJournal
		}
		reversed, err := tx.SourceLinked(ctx, input.TenantID, SourceModuleReversal, reversalRef(input.TenantID, entry.ID))
		if err != nil {
			return err
		}
		if reversed {
			return ErrAlreadyReversed
		}
		if _, err := s.assertOpenPeriod(ctx, tx, input.TenantID, entry.Date); err != nil {
			return err
		}
		var changes []BalanceChange
		if entry.Status == JournalStatusPosted {
			accounts := make(map[int64]Account, len(entry.Legs))
			for _, leg := range entry.Legs {
				if _, err := s.loadAccount(ctx, tx, input.TenantID, leg.AccountID, accounts); err != nil {
					return err
				}
			}
			changes, err = s.applyLegs(ctx, tx, input.TenantID, entry.Legs, accounts, true)
			if err != nil {
				return err
			}
		}
		now := s.now()
		if err := tx.MarkCancelled(ctx, input.TenantID, entry.ID, input.ActorID, input.Reason, now); err != nil {
			return err
		}
		if err := tx.CancelSourceLink(ctx, input.TenantID, entry.ID); err != nil {
			return err
		}
		entry.Status = JournalStatusCancelled
		entry.VoidedAt = &now
		if input.ActorID != 0 {
			actor := input.ActorID
			entry.VoidedBy = &actor
		}
		entry.VoidReason = input.Reason
		result = PostingResult{Entry: entry, Changes: changes}
		return nil
	})
	if err != nil {
		return PostingResult{}, err
	}
	s.record(ctx, input.TenantID, input.ActorID, "journal.void", result.Entry, map[string]any{
		"number": result.Entry.Number,
		"reason": input.Reason,
	})
	return result, nil
}

// Reverse posts an RV entry that mirrors a POSTED manual journal with debit
// and credit swapped. The original stays POSTED. When its period is closed the
// reversal lands on the first day of the next open period.
func (s *Service) Reverse(ctx context.Context, input ReverseInput) (result PostingResult, err error) {
	defer s.observe("reverse", time.Now(), &err)
	if input.TenantID == 0 || input.EntryID == 0 {
		return PostingResult{}, errors.New("accounting: tenant and entry id required")
	}
	var original JournalEntry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		original, err = tx.GetJournal(ctx, input.TenantID, input.EntryID, true)
		if err != nil {
			return err
		}
		if original.Status != JournalStatusPosted {
			return ErrInvalidStatus
		}
		if !IsManualKind(original.Kind) {
			return ErrDocumentJournal
		}
		reversed, err := tx.SourceLinked(ctx, input.TenantID, SourceModuleReversal, reversalRef(input.TenantID, original.ID))
		if err != nil {
			return err
		}
		if reversed {
			return ErrAlreadyReversed
		}
		date := input.Date
		if date.IsZero() {
			date = original.Date
			period, err := tx.GetPeriodForShare(ctx, input.TenantID, date.Year(), int(date.Month()))
			if err != nil {
				return err
			}
			if period.Status == PeriodStatusClosedPermanent {
				next, err := tx.NextOpenPeriodAfter(ctx, input.TenantID, period.EndDate)
				if err != nil {
					return err
				}
				date = next.StartDate
			}
		}
		legs := make([]LegInput, 0, len(original.Legs))
		for _, leg := range original.Legs {
			legs = append(legs, LegInput{AccountID: leg.AccountID, Debit: leg.Credit, Credit: leg.Debit, Description: leg.Description})
		}
		memo := input.Memo
		if memo == "" {
			memo = "Reversal of " + original.Number
		}
		result, err = s.write(ctx, PostingInput{
			TenantID:     input.TenantID,
			Date:         date,
			Description:  memo,
			Kind:         shared.KindReversal,
			SourceModule: SourceModuleReversal,
			SourceRef:    strconv.FormatInt(original.ID, 10),
			ActorID:      input.ActorID,
			Legs:         legs,
		}, JournalStatusPosted)
		if errors.Is(err, ErrSourceAlreadyLinked) {
			return ErrAlreadyReversed
		}
		return err
	})
	if err != nil {
		return PostingResult{}, err
	}
	s.record(ctx, input.TenantID, input.ActorID, "journal.reverse", original, map[string]any{
		"reversal_id":     result.Entry.ID,
		"reversal_number": result.Entry.Number,
	})
	return result, nil
}

func reversalRef(tenantID, entryID int64) uuid.UUID {
	return SourceID(tenantID, SourceModuleReversal, strconv.FormatInt(entryID, 10))
}

// applyLegs runs applyPosting for every leg, then rolls the deltas up into
// header ancestors. Leaves are locked in ascending id order, headers after
// them in ascending id order.
func (s *Service) applyLegs(ctx context.Context, tx TxRepository, tenantID int64, legs []JournalLeg, accounts map[int64]Account, invert bool) ([]BalanceChange, error) {
	changes := make([]BalanceChange, len(legs))
	rollup := make(map[int64]decimal.Decimal)
	for _, i := range applyOrder(legs) {
		leg := legs[i]
		account, ok := accounts[leg.AccountID]
		if !ok {
			return nil, &LegError{Index: i, AccountID: leg.AccountID, Err: ErrAccountNotFound}
		}
		net := leg.Net()
		if invert {
			net = net.Neg()
		}
		direction, amount := netPosting(net)
		change, err := s.applyPosting(ctx, tx, account, direction, amount)
		if err != nil {
			return nil, &LegError{Index: i, AccountID: leg.AccountID, Err: err}
		}
		changes[i] = change
		delta := change.After.Sub(change.Before)
		parentID := account.ParentID
		for depth := 0; parentID != nil; depth++ {
			if depth >= maxAccountDepth {
				return nil, fmt.Errorf("accounting: account %d parent chain too deep", account.ID)
			}
			parent, err := s.loadAccount(ctx, tx, tenantID, *parentID, accounts)
			if err != nil {
				return nil, err
			}
			rollup[parent.ID] = rollup[parent.ID].Add(Restate(delta, account.NormalBalance, parent.NormalBalance))
			parentID = parent.ParentID
		}
	}
	headerIDs := make([]int64, 0, len(rollup))
	for id, delta := range rollup {
		if !delta.IsZero() {
			headerIDs = append(headerIDs, id)
		}
	}
	sort.Slice(headerIDs, func(a, b int) bool { return headerIDs[a] < headerIDs[b] })
	for _, id := range headerIDs {
		if _, _, err := tx.ApplyBalanceDelta(ctx, tenantID, id, rollup[id]); err != nil {
			return nil, err
		}
	}
	return changes, nil
}

// applyPosting is the single mutator of a leaf running balance.
func (s *Service) applyPosting(ctx context.Context, tx TxRepository, account Account, direction Direction, amount decimal.Decimal) (BalanceChange, error) {
	if account.IsHeader {
		return BalanceChange{}, ErrHeaderPosting
	}
	adjustment := Adjustment(account.NormalBalance, direction, amount)
	before, after, err := tx.ApplyBalanceDelta(ctx, account.TenantID, account.ID, adjustment)
	if err != nil {
		return BalanceChange{}, err
	}
	return BalanceChange{AccountID: account.ID, Before: before, After: after}, nil
}

func (s *Service) resolveLegAccounts(ctx context.Context, tx TxRepository, tenantID int64, legs []LegInput) (map[int64]Account, error) {
	accounts := make(map[int64]Account, len(legs))
	for idx, leg := range legs {
		account, err := s.loadAccount(ctx, tx, tenantID, leg.AccountID, accounts)
		if err != nil {
			return nil, &LegError{Index: idx, AccountID: leg.AccountID, Err: err}
		}
		if account.IsHeader {
			return nil, &LegError{Index: idx, AccountID: leg.AccountID, Err: ErrHeaderPosting}
		}
		if !account.IsActive {
			return nil, &LegError{Index: idx, AccountID: leg.AccountID, Err: ErrAccountInactive}
		}
	}
	return accounts, nil
}

func (s *Service) loadAccount(ctx context.Context, tx TxRepository, tenantID, id int64, seen map[int64]Account) (Account, error) {
	if account, ok := seen[id]; ok {
		return account, nil
	}
	account, err := tx.GetAccount(ctx, tenantID, id)
	if err != nil {
		return Account{}, err
	}
	seen[id] = account
	return account, nil
}

// AssertOpenPeriod returns the open period covering date.
func (s *Service) AssertOpenPeriod(ctx context.Context, tenantID int64, date time.Time) (Period, error) {
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		period, err = s.assertOpenPeriod(ctx, tx, tenantID, date)
		return err
	})
	return period, err
}

// assertOpenPeriod is the period gate. The share lock it takes conflicts with
// the update lock of a period close.
func (s *Service) assertOpenPeriod(ctx context.Context, tx TxRepository, tenantID int64, date time.Time) (Period, error) {
	period, err := tx.GetPeriodForShare(ctx, tenantID, date.Year(), int(date.Month()))
	if err != nil {
		return Period{}, err
	}
	if period.Status == PeriodStatusClosedPermanent {
		return Period{}, ErrPeriodClosed
	}
	if period.Status != PeriodStatusOpen || !period.Contains(date) {
		return Period{}, ErrPeriodNotFound
	}
	return period, nil
}

// CreatePeriod opens the (year, month) period for a tenant.
func (s *Service) CreatePeriod(ctx context.Context, tenantID int64, year, month int, actorID int64) (Period, error) {
	if tenantID == 0 {
		return Period{}, shared.ErrTenantRequired
	}
	start, end, err := shared.PeriodBounds(year, month)
	if err != nil {
		return Period{}, err
	}
	var period Period
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		period, err = tx.InsertPeriod(ctx, Period{
			TenantID:  tenantID,
			Year:      year,
			Month:     month,
			StartDate: start,
			EndDate:   end,
			Status:    PeriodStatusOpen,
		})
		return err
	})
	if err != nil {
		return Period{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   "period.create",
			Entity:   "accounting_period",
			EntityID: fmt.Sprintf("%04d-%02d", year, month),
			At:       s.now(),
		})
	}
	return period, nil
}

// CreateAccount adds a chart of accounts node. The normal balance follows the
// type and the level follows the parent.
func (s *Service) CreateAccount(ctx context.Context, input CreateAccountInput) (Account, error) {
	if err := input.Validate(); err != nil {
		return Account{}, err
	}
	if input.IsHeader && !input.OpeningBalance.IsZero() {
		return Account{}, errors.New("accounting: header accounts derive their balance from children")
	}
	normal, _ := NormalBalanceFor(input.Type)
	input.Code = strings.TrimSpace(input.Code)
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		level := 1
		chain := make(map[int64]Account)
		if input.ParentID != nil {
			parent, err := s.loadAccount(ctx, tx, input.TenantID, *input.ParentID, chain)
			if err != nil {
				return err
			}
			if !parent.IsHeader {
				return ErrParentNotHeader
			}
			level = parent.Level + 1
		}
		var err error
		account, err = tx.InsertAccount(ctx, input, level, normal)
		if err != nil {
			return err
		}
		if input.OpeningBalance.IsZero() || input.ParentID == nil {
			return nil
		}
		parentID := input.ParentID
		for depth := 0; parentID != nil && depth < maxAccountDepth; depth++ {
			parent, err := s.loadAccount(ctx, tx, input.TenantID, *parentID, chain)
			if err != nil {
				return err
			}
			delta := Restate(input.OpeningBalance, normal, parent.NormalBalance)
			if _, _, err := tx.ApplyBalanceDelta(ctx, input.TenantID, parent.ID, delta); err != nil {
				return err
			}
			parentID = parent.ParentID
		}
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: input.TenantID,
			ActorID:  input.ActorID,
			Action:   "account.create",
			Entity:   "account",
			EntityID: fmt.Sprintf("%d", account.ID),
			Meta:     map[string]any{"code": account.Code, "type": string(account.Type)},
			At:       s.now(),
		})
	}
	return account, nil
}

// DeleteAccount deactivates an account without postings, children or balance.
func (s *Service) DeleteAccount(ctx context.Context, tenantID, accountID, actorID int64) error {
	var code string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccount(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		legs, children, err := tx.AccountUsage(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		if legs > 0 || children > 0 {
			return ErrAccountInUse
		}
		if !account.RunningBalance.IsZero() {
			return ErrAccountHasBalance
		}
		code = account.Code
		return tx.DeactivateAccount(ctx, tenantID, accountID)
	})
	if err != nil {
		return err
	}
	if s.ids != nil {
		_ = s.ids.Forget(ctx, accountCodeKey(tenantID, code))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   "account.deactivate",
			Entity:   "account",
			EntityID: fmt.Sprintf("%d", accountID),
			At:       s.now(),
		})
	}
	return nil
}

// ResolveAccount loads an account with its current running balance.
func (s *Service) ResolveAccount(ctx context.Context, tenantID, accountID int64) (Account, error) {
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.GetAccount(ctx, tenantID, accountID)
		return err
	})
	return account, err
}

// ResolveAccountByCode maps (tenant, code) to an account. The code -> id hop
// goes through the cache when one is configured.
func (s *Service) ResolveAccountByCode(ctx context.Context, tenantID int64, code string) (Account, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Account{}, ErrAccountNotFound
	}
	load := func(ctx context.Context) (int64, error) {
		var id int64
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			account, err := tx.GetAccountByCode(ctx, tenantID, code)
			id = account.ID
			return err
		})
		return id, err
	}
	var id int64
	var err error
	if s.ids != nil {
		id, err = s.ids.Resolve(ctx, accountCodeKey(tenantID, code), load)
	} else {
		id, err = load(ctx)
	}
	if err != nil {
		return Account{}, err
	}
	return s.ResolveAccount(ctx, tenantID, id)
}

// ResolveMapping returns the account id mapped to (module, key).
func (s *Service) ResolveMapping(ctx context.Context, tenantID int64, module, key string) (int64, error) {
	if module == "" || key == "" {
		return 0, errors.New("accounting: module and key required")
	}
	module = strings.ToUpper(module)
	key = strings.ToUpper(key)
	load := func(ctx context.Context) (int64, error) {
		var id int64
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			mapping, err := tx.GetMapping(ctx, tenantID, module, key)
			id = mapping.AccountID
			return err
		})
		return id, err
	}
	if s.ids != nil {
		return s.ids.Resolve(ctx, mappingKey(tenantID, module, key), load)
	}
	return load(ctx)
}

// ListAccounts retrieves the tenant chart of accounts.
func (s *Service) ListAccounts(ctx context.Context, tenantID int64) ([]Account, error) {
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx, tenantID)
		return err
	})
	return accounts, err
}

// GetEntry loads one journal with its legs.
func (s *Service) GetEntry(ctx context.Context, tenantID, entryID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetJournal(ctx, tenantID, entryID, false)
		return err
	})
	return entry, err
}

// ListEntries retrieves journal headers matching filter.
func (s *Service) ListEntries(ctx context.Context, tenantID int64, filter EntryFilter) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries, err = tx.ListJournals(ctx, tenantID, filter)
		return err
	})
	return entries, err
}

// TrialBalance lists active leaf accounts with their balances split into
// debit and credit columns.
func (s *Service) TrialBalance(ctx context.Context, tenantID int64) ([]TrialBalanceRow, error) {
	accounts, err := s.ListAccounts(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	rows := make([]TrialBalanceRow, 0, len(accounts))
	for _, a := range accounts {
		if a.IsHeader {
			continue
		}
		debit, credit := TrialBalanceColumns(a)
		rows = append(rows, TrialBalanceRow{AccountID: a.ID, Code: a.Code, Name: a.Name, Debit: debit, Credit: credit})
	}
	return rows, nil
}

func (s *Service) record(ctx context.Context, tenantID, actorID int64, action string, entry JournalEntry, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entry.ID),
		Meta:     meta,
		At:       s.now(),
	})
}

func (s *Service) observe(operation string, started time.Time, err *error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveOperation("accounting", operation, Outcome(*err), time.Since(started))
}

// Outcome classifies an error into a low-cardinality metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnbalancedEntry):
		return "unbalanced"
	case errors.Is(err, ErrPeriodClosed):
		return "period_closed"
	case errors.Is(err, ErrPeriodNotFound):
		return "period_not_found"
	case errors.Is(err, ErrHeaderPosting):
		return "header_posting"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrAlreadyVoid):
		return "already_void"
	default:
		return "error"
	}
}

// SourceID derives the idempotency id of a source document.
func SourceID(tenantID int64, module, ref string) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%d:%s:%s", tenantID, strings.ToUpper(module), ref)))
}

func documentKind(kind, prefix string) (string, string) {
	if kind == "" {
		kind = shared.KindJournalVoucher
	}
	if prefix == "" {
		prefix = kind
	}
	return strings.ToUpper(kind), strings.ToUpper(prefix)
}

func toLegs(entryID int64, in []LegInput) []JournalLeg {
	out := make([]JournalLeg, 0, len(in))
	for idx, leg := range in {
		out = append(out, JournalLeg{
			EntryID:     entryID,
			AccountID:   leg.AccountID,
			Sequence:    idx + 1,
			Description: leg.Description,
			Debit:       leg.Debit,
			Credit:      leg.Credit,
		})
	}
	return out
}

func legInputs(legs []JournalLeg) []LegInput {
	out := make([]LegInput, 0, len(legs))
	for _, leg := range legs {
		out = append(out, LegInput{AccountID: leg.AccountID, Debit: leg.Debit, Credit: leg.Credit, Description: leg.Description})
	}
	return out
}

func accountCodeKey(tenantID int64, code string) string {
	return fmt.Sprintf("ledger:t:%d:acct:code:%s", tenantID, code)
}

func mappingKey(tenantID int64, module, key string) string {
	return fmt.Sprintf("ledger:t:%d:map:%s:%s", tenantID, module, key)
}
