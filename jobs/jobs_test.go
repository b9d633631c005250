package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

type fakeSource struct {
	tenants    []int64
	unbalanced map[int64][]UnbalancedEntry
	drift      map[int64][]HeaderDrift
	residual   map[int64]decimal.Decimal
	err        error
}

func (f *fakeSource) ListTenants(ctx context.Context) ([]int64, error) { return f.tenants, f.err }

func (f *fakeSource) UnbalancedEntries(ctx context.Context, tenantID int64) ([]UnbalancedEntry, error) {
	return f.unbalanced[tenantID], nil
}

func (f *fakeSource) HeaderDrift(ctx context.Context, tenantID int64) ([]HeaderDrift, error) {
	return f.drift[tenantID], nil
}

func (f *fakeSource) PostedResidual(ctx context.Context, tenantID int64) (decimal.Decimal, error) {
	return f.residual[tenantID], nil
}

type fakeLedger map[int64][]accounting.TrialBalanceRow

func (f fakeLedger) TrialBalance(ctx context.Context, tenantID int64) ([]accounting.TrialBalanceRow, error) {
	return f[tenantID], nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func quietLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

func TestGLIntegrityReportsEveryCheck(t *testing.T) {
	source := &fakeSource{
		tenants: []int64{1, 2},
		unbalanced: map[int64][]UnbalancedEntry{
			2: {{EntryID: 9, Number: "JV/202401/00009", Debit: dec("100"), Credit: dec("90")}},
		},
		drift: map[int64][]HeaderDrift{
			2: {{AccountID: 3, Code: "1000", Balance: dec("50"), ChildrenSum: dec("40")}},
		},
	}
	ledger := fakeLedger{
		1: {{AccountID: 1, Debit: dec("100")}, {AccountID: 2, Credit: dec("100")}},
		2: {{AccountID: 4, Debit: dec("100")}, {AccountID: 5, Credit: dec("90")}},
	}
	var logs bytes.Buffer
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := NewGLIntegrityJob(source, ledger, quietLogger(&logs), metrics)

	reports, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	require.Equal(t, 0, reports[0].Findings())
	require.False(t, reports[0].TrialBalanceOff())
	require.Equal(t, 3, reports[1].Findings())
	require.True(t, reports[1].TrialBalanceOff())
	require.Contains(t, logs.String(), "unbalanced journal")
	require.Contains(t, logs.String(), "header balance drift")
	require.Contains(t, logs.String(), "job=ledger:gl_integrity")
}

func TestGLIntegrityAllowsPostingResidual(t *testing.T) {
	source := &fakeSource{
		tenants:  []int64{1},
		residual: map[int64]decimal.Decimal{1: dec("0.01")},
	}
	ledger := fakeLedger{
		1: {{AccountID: 1, Debit: dec("100")}, {AccountID: 2, Credit: dec("99.99")}},
	}
	job := NewGLIntegrityJob(source, ledger, quietLogger(&bytes.Buffer{}), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	reports, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.False(t, reports[0].TrialBalanceOff())
	require.Equal(t, 0, reports[0].Findings())

	source.residual[1] = decimal.Zero
	reports, err = job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, reports[0].TrialBalanceOff())
}

func TestGLIntegrityScopesToTenant(t *testing.T) {
	source := &fakeSource{err: errors.New("should not list")}
	job := NewGLIntegrityJob(source, fakeLedger{}, quietLogger(&bytes.Buffer{}), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	reports, err := job.Run(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, int64(7), reports[0].TenantID)
}

func TestGLIntegrityHandleRejectsBadPayload(t *testing.T) {
	job := NewGLIntegrityJob(&fakeSource{}, fakeLedger{}, quietLogger(&bytes.Buffer{}), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	err := job.Handle(context.Background(), asynq.NewTask(TaskGLIntegrity, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	var unset *GLIntegrityJob
	require.Error(t, unset.Handle(context.Background(), asynq.NewTask(TaskGLIntegrity, nil)))
}

type fakeStock map[int64][]inventory.ConservationIssue

func (f fakeStock) VerifyConservation(ctx context.Context, tenantID int64) ([]inventory.ConservationIssue, error) {
	return f[tenantID], nil
}

func TestConservationJobCollectsIssues(t *testing.T) {
	stock := fakeStock{
		3: {{ItemID: 10, WarehouseID: 1, PositionQty: dec("5"), LayerQty: dec("4")}},
	}
	var logs bytes.Buffer
	job := NewConservationJob(&fakeSource{tenants: []int64{1, 3}}, stock, quietLogger(&logs), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewFIFOConservationTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	issues, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Len(t, issues[3], 1)
	require.Contains(t, logs.String(), "position differs from layers")
}

type fakeKeys struct {
	retention time.Duration
	err       error
}

func (f *fakeKeys) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.retention = olderThan
	return 4, f.err
}

func TestCleanupUsesPayloadThenConfiguredRetention(t *testing.T) {
	keys := &fakeKeys{}
	job := &CleanupJob{Keys: keys, Retention: 48 * time.Hour, Logger: quietLogger(&bytes.Buffer{}), Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, 48*time.Hour, keys.retention)

	task, err := NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Hour, keys.retention)

	keys.err = errors.New("db down")
	require.Error(t, job.Handle(context.Background(), task))
}

func TestTaskConstructorsUseDefaultQueue(t *testing.T) {
	task, err := NewGLIntegrityTask(5)
	require.NoError(t, err)
	require.Equal(t, TaskGLIntegrity, task.Type())
	var payload TenantScopePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, int64(5), payload.TenantID)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, quietLogger(&bytes.Buffer{})).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"active":0,"failed":0}`, rec.Body.String())
}
