package close

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RepositoryPort abstracts the transactional close repository.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// LedgerPort posts the closing journal. Calls made with the transaction
// carrying context join the close transaction.
type LedgerPort interface {
	Post(ctx context.Context, input accounting.PostingInput) (accounting.PostingResult, error)
	ResolveMapping(ctx context.Context, tenantID int64, module, key string) (int64, error)
}

// Locker guards a period against concurrent close requests across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// AuditPort records close events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

const lockTTL = 2 * time.Minute

// Service orchestrates the period close.
type Service struct {
	repo    RepositoryPort
	ledger  LedgerPort
	audit   AuditPort
	locker  Locker
	metrics accounting.OperationObserver
	now     func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo RepositoryPort, ledger LedgerPort, audit AuditPort) *Service {
	return &Service{
		repo:   repo,
		ledger: ledger,
		audit:  audit,
		now:    time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithLocker enables the distributed close lock.
func (s *Service) WithLocker(l Locker) {
	s.locker = l
}

// WithMetrics enables per-operation observations.
func (s *Service) WithMetrics(m accounting.OperationObserver) {
	s.metrics = m
}

// ClosePeriod permanently closes year/month. Drafts in the period block the
// close; nominal account activity is moved into retained earnings by a CL
// journal dated on the last day of the period.
func (s *Service) ClosePeriod(ctx context.Context, in ClosePeriodInput) (result CloseResult, err error) {
	defer s.observe(time.Now(), &err)
	if err := in.Validate(); err != nil {
		return CloseResult{}, err
	}
	start, end, err := shared.PeriodBounds(in.Year, in.Month)
	if err != nil {
		return CloseResult{}, err
	}
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.FinanceLockKey(in.TenantID, in.Year, in.Month), lockTTL)
		if err != nil {
			if errors.Is(err, cache.ErrLockHeld) {
				return CloseResult{}, ErrCloseInProgress
			}
			return CloseResult{}, err
		}
		defer func() { _ = release(context.WithoutCancel(ctx)) }()
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.LockPeriod(ctx, in.TenantID, in.Year, in.Month)
		if err != nil {
			return err
		}
		if err := shared.ValidatePeriodTransition(string(period.Status), string(accounting.PeriodStatusClosedPermanent)); err != nil {
			return fmt.Errorf("%w: %d-%02d", accounting.ErrPeriodClosed, in.Year, in.Month)
		}
		drafts, err := tx.CountDrafts(ctx, in.TenantID, start, end)
		if err != nil {
			return err
		}
		if drafts > 0 {
			return &DraftsOutstandingError{Count: drafts}
		}
		activity, err := tx.NominalActivity(ctx, in.TenantID, start, end)
		if err != nil {
			return err
		}
		entry, netIncome, err := s.postClosingEntry(ctx, in, end, activity)
		if err != nil {
			return err
		}
		closed, err := tx.MarkClosed(ctx, in.TenantID, period.ID, in.ActorID, s.now())
		if err != nil {
			return err
		}
		result = CloseResult{Period: closed, ClosingEntry: entry, NetIncome: netIncome}
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}

	meta := map[string]any{"year": in.Year, "month": in.Month, "net_income": result.NetIncome.String()}
	if result.ClosingEntry != nil {
		meta["closing_entry"] = result.ClosingEntry.Number
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: in.TenantID,
			ActorID:  in.ActorID,
			Action:   "period.close",
			Entity:   "accounting_period",
			EntityID: fmt.Sprintf("%d", result.Period.ID),
			Meta:     meta,
			At:       s.now(),
		})
	}
	return result, nil
}

func (s *Service) postClosingEntry(ctx context.Context, in ClosePeriodInput, end time.Time, activity []AccountActivity) (*accounting.JournalEntry, decimal.Decimal, error) {
	legs, netIncome := closingLegs(activity, in.RetainedEarningsAccountID)
	if len(legs) == 0 {
		return nil, netIncome, nil
	}
	if in.RetainedEarningsAccountID == 0 {
		id, err := s.ledger.ResolveMapping(ctx, in.TenantID, SourceModule, "RETAINED_EARNINGS")
		if err != nil {
			if errors.Is(err, accounting.ErrMappingNotFound) {
				return nil, netIncome, ErrRetainedEarningsRequired
			}
			return nil, netIncome, err
		}
		legs, netIncome = closingLegs(activity, id)
	}
	posted, err := s.ledger.Post(ctx, accounting.PostingInput{
		TenantID:     in.TenantID,
		Date:         end,
		Description:  fmt.Sprintf("Closing entries %d-%02d", in.Year, in.Month),
		Kind:         shared.KindClosing,
		SourceModule: SourceModule,
		SourceRef:    fmt.Sprintf("%04d%02d", in.Year, in.Month),
		ActorID:      in.ActorID,
		Legs:         legs,
	})
	if err != nil {
		return nil, netIncome, err
	}
	return &posted.Entry, netIncome, nil
}

// ListPeriods returns the tenant's periods, newest first.
func (s *Service) ListPeriods(ctx context.Context, tenantID int64, page shared.PageRequest) ([]accounting.Period, error) {
	var out []accounting.Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListPeriods(ctx, tenantID, page.Limit(), page.Offset())
		return err
	})
	return out, err
}

func (s *Service) observe(started time.Time, err *error) {
	if s.metrics == nil {
		return
	}
	outcome := accounting.Outcome(*err)
	if errors.Is(*err, ErrDraftsOutstanding) {
		outcome = "drafts_outstanding"
	}
	s.metrics.ObserveOperation("close", "close_period", outcome, time.Since(started))
}
