package accounting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type memState struct {
	accounts map[int64]Account
	periods  map[string]Period
	counters map[string]int64
	journals map[int64]JournalEntry
	sources  map[string]int64
	mappings map[string]int64
	nextID   int64
}

func (s memState) clone() memState {
	out := memState{
		accounts: make(map[int64]Account, len(s.accounts)),
		periods:  make(map[string]Period, len(s.periods)),
		counters: make(map[string]int64, len(s.counters)),
		journals: make(map[int64]JournalEntry, len(s.journals)),
		sources:  make(map[string]int64, len(s.sources)),
		mappings: make(map[string]int64, len(s.mappings)),
		nextID:   s.nextID,
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.periods {
		out.periods[k] = v
	}
	for k, v := range s.counters {
		out.counters[k] = v
	}
	for k, v := range s.journals {
		v.Legs = append([]JournalLeg(nil), v.Legs...)
		out.journals[k] = v
	}
	for k, v := range s.sources {
		out.sources[k] = v
	}
	for k, v := range s.mappings {
		out.mappings[k] = v
	}
	return out
}

type memTxKey struct{}

// memRepo is an in-memory RepositoryPort. A failed transaction restores the
// snapshot taken when it began.
type memRepo struct {
	mu    sync.Mutex
	state memState
	// failDelta makes ApplyBalanceDelta fail for the account id.
	failDelta map[int64]error
	deltas    []int64
}

func newMemRepo() *memRepo {
	return &memRepo{state: memState{}.clone(), failDelta: map[int64]error{}}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx, &memTx{repo: r})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.state.clone()
	if err := fn(context.WithValue(ctx, memTxKey{}, true), &memTx{repo: r}); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (r *memRepo) id() int64 {
	r.state.nextID++
	return r.state.nextID
}

func (r *memRepo) addPeriod(tenantID int64, year, month int, status PeriodStatus) {
	start, end, _ := shared.PeriodBounds(year, month)
	r.state.periods[periodKey(tenantID, year, month)] = Period{
		ID: r.id(), TenantID: tenantID, Year: year, Month: month, StartDate: start, EndDate: end, Status: status,
	}
}

func (r *memRepo) addAccount(a Account) Account {
	a.ID = r.id()
	if a.NormalBalance == "" {
		a.NormalBalance, _ = NormalBalanceFor(a.Type)
	}
	a.IsActive = true
	a.RunningBalance = a.OpeningBalance
	r.state.accounts[a.ID] = a
	return a
}

func (r *memRepo) balance(id int64) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.accounts[id].RunningBalance
}

func periodKey(tenantID int64, year, month int) string {
	return fmt.Sprintf("%d:%d:%d", tenantID, year, month)
}

type memTx struct {
	repo *memRepo
}

func (t *memTx) s() *memState { return &t.repo.state }

func (t *memTx) GetAccount(ctx context.Context, tenantID, id int64) (Account, error) {
	a, ok := t.s().accounts[id]
	if !ok || a.TenantID != tenantID {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (t *memTx) GetAccountByCode(ctx context.Context, tenantID int64, code string) (Account, error) {
	for _, a := range t.s().accounts {
		if a.TenantID == tenantID && a.Code == code {
			return a, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (t *memTx) ListAccounts(ctx context.Context, tenantID int64) ([]Account, error) {
	var out []Account
	for _, a := range t.s().accounts {
		if a.TenantID == tenantID && a.IsActive {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *memTx) InsertAccount(ctx context.Context, in CreateAccountInput, level int, normal NormalBalance) (Account, error) {
	if _, err := t.GetAccountByCode(ctx, in.TenantID, in.Code); err == nil {
		return Account{}, ErrAccountCodeTaken
	}
	a := Account{
		ID: t.repo.id(), TenantID: in.TenantID, Code: in.Code, Name: in.Name, Type: in.Type, ParentID: in.ParentID,
		Level: level, IsHeader: in.IsHeader, NormalBalance: normal, OpeningBalance: in.OpeningBalance,
		RunningBalance: in.OpeningBalance, IsActive: true,
	}
	t.s().accounts[a.ID] = a
	return a, nil
}

func (t *memTx) AccountUsage(ctx context.Context, tenantID, id int64) (int, int, error) {
	legs, children := 0, 0
	for _, j := range t.s().journals {
		for _, l := range j.Legs {
			if j.TenantID == tenantID && l.AccountID == id {
				legs++
			}
		}
	}
	for _, a := range t.s().accounts {
		if a.TenantID == tenantID && a.ParentID != nil && *a.ParentID == id && a.IsActive {
			children++
		}
	}
	return legs, children, nil
}

func (t *memTx) DeactivateAccount(ctx context.Context, tenantID, id int64) error {
	a, err := t.GetAccount(ctx, tenantID, id)
	if err != nil {
		return err
	}
	a.IsActive = false
	t.s().accounts[id] = a
	return nil
}

func (t *memTx) ApplyBalanceDelta(ctx context.Context, tenantID, id int64, delta decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if err := t.repo.failDelta[id]; err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	a, err := t.GetAccount(ctx, tenantID, id)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	before := a.RunningBalance
	a.RunningBalance = before.Add(delta)
	t.s().accounts[id] = a
	t.repo.deltas = append(t.repo.deltas, id)
	return before, a.RunningBalance, nil
}

func (t *memTx) GetMapping(ctx context.Context, tenantID int64, module, key string) (AccountMapping, error) {
	id, ok := t.s().mappings[fmt.Sprintf("%d:%s:%s", tenantID, module, key)]
	if !ok {
		return AccountMapping{}, ErrMappingNotFound
	}
	return AccountMapping{TenantID: tenantID, Module: module, Key: key, AccountID: id}, nil
}

func (t *memTx) GetPeriodForShare(ctx context.Context, tenantID int64, year, month int) (Period, error) {
	p, ok := t.s().periods[periodKey(tenantID, year, month)]
	if !ok {
		return Period{}, ErrPeriodNotFound
	}
	return p, nil
}

func (t *memTx) NextOpenPeriodAfter(ctx context.Context, tenantID int64, after time.Time) (Period, error) {
	var best *Period
	for _, p := range t.s().periods {
		if p.TenantID != tenantID || p.Status != PeriodStatusOpen || !p.StartDate.After(after) {
			continue
		}
		if best == nil || p.StartDate.Before(best.StartDate) {
			candidate := p
			best = &candidate
		}
	}
	if best == nil {
		return Period{}, ErrNoOpenPeriod
	}
	return *best, nil
}

func (t *memTx) InsertPeriod(ctx context.Context, p Period) (Period, error) {
	key := periodKey(p.TenantID, p.Year, p.Month)
	if _, ok := t.s().periods[key]; ok {
		return Period{}, ErrPeriodExists
	}
	p.ID = t.repo.id()
	t.s().periods[key] = p
	return p, nil
}

func (t *memTx) NextDocumentNumber(ctx context.Context, tenantID int64, prefix, kind string, date time.Time) (string, error) {
	key := fmt.Sprintf("%d:%s:%s", tenantID, shared.YearMonth(date), kind)
	t.s().counters[key]++
	return shared.FormatDocumentNumber(prefix, date, t.s().counters[key]), nil
}

func (t *memTx) InsertJournalEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	e.ID = t.repo.id()
	t.s().journals[e.ID] = e
	return e, nil
}

func (t *memTx) InsertJournalLegs(ctx context.Context, entryID int64, legs []JournalLeg) ([]JournalLeg, error) {
	e := t.s().journals[entryID]
	out := make([]JournalLeg, len(legs))
	for i, l := range legs {
		l.ID = t.repo.id()
		l.EntryID = entryID
		out[i] = l
	}
	e.Legs = out
	t.s().journals[entryID] = e
	return out, nil
}

func (t *memTx) LinkSource(ctx context.Context, tenantID int64, module string, ref uuid.UUID, entryID int64) error {
	key := fmt.Sprintf("%d:%s:%s", tenantID, module, ref)
	if _, ok := t.s().sources[key]; ok {
		return ErrSourceConflict
	}
	t.s().sources[key] = entryID
	return nil
}

func (t *memTx) CancelSourceLink(ctx context.Context, tenantID, entryID int64) error {
	for k, v := range t.s().sources {
		if v == entryID {
			delete(t.s().sources, k)
		}
	}
	return nil
}

func (t *memTx) SourceLinked(ctx context.Context, tenantID int64, module string, ref uuid.UUID) (bool, error) {
	_, ok := t.s().sources[fmt.Sprintf("%d:%s:%s", tenantID, module, ref)]
	return ok, nil
}

func (t *memTx) GetJournal(ctx context.Context, tenantID, id int64, forUpdate bool) (JournalEntry, error) {
	e, ok := t.s().journals[id]
	if !ok || e.TenantID != tenantID {
		return JournalEntry{}, ErrJournalNotFound
	}
	e.Legs = append([]JournalLeg(nil), e.Legs...)
	return e, nil
}

func (t *memTx) ListJournals(ctx context.Context, tenantID int64, filter EntryFilter) ([]JournalEntry, error) {
	var out []JournalEntry
	for _, e := range t.s().journals {
		if e.TenantID != tenantID || (filter.Status != "" && e.Status != filter.Status) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (t *memTx) MarkPosted(ctx context.Context, tenantID, id int64, at time.Time) error {
	e := t.s().journals[id]
	e.Status = JournalStatusPosted
	e.PostedAt = &at
	t.s().journals[id] = e
	return nil
}

func (t *memTx) MarkCancelled(ctx context.Context, tenantID, id, actorID int64, reason string, at time.Time) error {
	e := t.s().journals[id]
	if e.Status == JournalStatusCancelled {
		return ErrAlreadyVoid
	}
	e.Status = JournalStatusCancelled
	e.VoidedAt = &at
	e.VoidReason = reason
	t.s().journals[id] = e
	return nil
}

type auditSpy struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *auditSpy) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditSpy) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}
