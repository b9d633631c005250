package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// LedgerSource exposes the integrity queries used by the GL check.
type LedgerSource interface {
	ListTenants(ctx context.Context) ([]int64, error)
	UnbalancedEntries(ctx context.Context, tenantID int64) ([]UnbalancedEntry, error)
	HeaderDrift(ctx context.Context, tenantID int64) ([]HeaderDrift, error)
	PostedResidual(ctx context.Context, tenantID int64) (decimal.Decimal, error)
}

// TrialBalancer produces the leaf trial balance of a tenant.
type TrialBalancer interface {
	TrialBalance(ctx context.Context, tenantID int64) ([]accounting.TrialBalanceRow, error)
}

// GLReport summarises the findings for one tenant.
type GLReport struct {
	TenantID    int64
	Unbalanced  []UnbalancedEntry
	HeaderDrift []HeaderDrift
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
	// Residual is the debit-credit rounding accepted on posted entries.
	Residual decimal.Decimal
}

// TrialBalanceOff reports whether the leaf columns disagree by more than the
// rounding residual of the posted entries.
func (r GLReport) TrialBalanceOff() bool {
	return !r.TotalDebit.Sub(r.TotalCredit).Equal(r.Residual)
}

// Findings counts every problem in the report.
func (r GLReport) Findings() int {
	n := len(r.Unbalanced) + len(r.HeaderDrift)
	if r.TrialBalanceOff() {
		n++
	}
	return n
}

// GLIntegrityJob verifies the balance invariants of posted data.
type GLIntegrityJob struct {
	Source  LedgerSource
	Ledger  TrialBalancer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLIntegrityJob wires the GL integrity handler.
func NewGLIntegrityJob(source LedgerSource, ledger TrialBalancer, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Source: source, Ledger: ledger, Logger: logger, Metrics: metrics}
}

// Handle processes TaskGLIntegrity tasks.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil || j.Ledger == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload TenantScopePayload
	if err := decodePayload(t, &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload.TenantID)
	return err
}

// Run checks one tenant, or every tenant when tenantID is zero.
func (j *GLIntegrityJob) Run(ctx context.Context, tenantID int64) (reports []GLReport, err error) {
	tracker := j.metrics().Track(TaskGLIntegrity)
	defer func() { err = tracker.End(err) }()
	start := time.Now()
	logger := j.logger()

	tenants, err := scopeTenants(ctx, j.Source, tenantID)
	if err != nil {
		logger.Error("list tenants", slog.Any("error", err))
		return nil, err
	}
	for _, id := range tenants {
		report, err := j.check(ctx, id)
		if err != nil {
			logger.Error("gl integrity failed", slog.Int64("tenant_id", id), slog.Any("error", err))
			return reports, fmt.Errorf("gl integrity tenant %d: %w", id, err)
		}
		j.report(logger, report)
		reports = append(reports, report)
	}
	logger.Info("completed gl integrity check",
		slog.Int("tenants", len(tenants)),
		slog.Duration("duration", time.Since(start)),
	)
	return reports, nil
}

func (j *GLIntegrityJob) check(ctx context.Context, tenantID int64) (GLReport, error) {
	report := GLReport{TenantID: tenantID, TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	var err error
	if report.Residual, err = j.Source.PostedResidual(ctx, tenantID); err != nil {
		return report, err
	}
	if report.Unbalanced, err = j.Source.UnbalancedEntries(ctx, tenantID); err != nil {
		return report, err
	}
	if report.HeaderDrift, err = j.Source.HeaderDrift(ctx, tenantID); err != nil {
		return report, err
	}
	rows, err := j.Ledger.TrialBalance(ctx, tenantID)
	if err != nil {
		return report, err
	}
	for _, row := range rows {
		report.TotalDebit = report.TotalDebit.Add(row.Debit)
		report.TotalCredit = report.TotalCredit.Add(row.Credit)
	}
	return report, nil
}

func (j *GLIntegrityJob) report(logger *slog.Logger, r GLReport) {
	logger = logger.With(slog.Int64("tenant_id", r.TenantID))
	for _, u := range r.Unbalanced {
		logger.Warn("unbalanced journal",
			slog.String("number", u.Number),
			slog.String("debit", u.Debit.StringFixed(2)),
			slog.String("credit", u.Credit.StringFixed(2)),
		)
	}
	for _, d := range r.HeaderDrift {
		logger.Warn("header balance drift",
			slog.String("code", d.Code),
			slog.String("balance", d.Balance.StringFixed(2)),
			slog.String("children", d.ChildrenSum.StringFixed(2)),
		)
	}
	if r.TrialBalanceOff() {
		logger.Warn("trial balance out of balance",
			slog.String("debit", r.TotalDebit.StringFixed(2)),
			slog.String("credit", r.TotalCredit.StringFixed(2)),
			slog.String("residual", r.Residual.StringFixed(2)),
		)
	}
	m := j.metrics()
	m.AddFindings(TaskGLIntegrity, "unbalanced_entry", r.TenantID, len(r.Unbalanced))
	m.AddFindings(TaskGLIntegrity, "header_drift", r.TenantID, len(r.HeaderDrift))
	if r.TrialBalanceOff() {
		m.AddFindings(TaskGLIntegrity, "trial_balance", r.TenantID, 1)
	}
}

func (j *GLIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGLIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskGLIntegrity))
}

func (j *GLIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// TenantLister enumerates tenants for all-tenant runs.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]int64, error)
}

func scopeTenants(ctx context.Context, lister TenantLister, tenantID int64) ([]int64, error) {
	if tenantID != 0 {
		return []int64{tenantID}, nil
	}
	return lister.ListTenants(ctx)
}
