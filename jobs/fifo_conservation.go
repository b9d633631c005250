package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// ConservationChecker reports positions that disagree with their layers.
type ConservationChecker interface {
	VerifyConservation(ctx context.Context, tenantID int64) ([]inventory.ConservationIssue, error)
}

// ConservationJob runs the FIFO conservation check.
type ConservationJob struct {
	Tenants TenantLister
	Stock   ConservationChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewConservationJob wires the conservation handler.
func NewConservationJob(tenants TenantLister, stock ConservationChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConservationJob {
	return &ConservationJob{Tenants: tenants, Stock: stock, Logger: logger, Metrics: metrics}
}

// Handle processes TaskFIFOConservation tasks.
func (j *ConservationJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Tenants == nil || j.Stock == nil {
		return errors.New("fifo conservation: handler not configured")
	}
	var payload TenantScopePayload
	if err := decodePayload(t, &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload.TenantID)
	return err
}

// Run returns the issues found per tenant.
func (j *ConservationJob) Run(ctx context.Context, tenantID int64) (issues map[int64][]inventory.ConservationIssue, err error) {
	tracker := j.metrics().Track(TaskFIFOConservation)
	defer func() { err = tracker.End(err) }()
	logger := j.logger()

	tenants, err := scopeTenants(ctx, j.Tenants, tenantID)
	if err != nil {
		return nil, err
	}
	issues = make(map[int64][]inventory.ConservationIssue)
	for _, id := range tenants {
		found, err := j.Stock.VerifyConservation(ctx, id)
		if err != nil {
			return issues, fmt.Errorf("fifo conservation tenant %d: %w", id, err)
		}
		for _, issue := range found {
			logger.Warn("position differs from layers",
				slog.Int64("tenant_id", id),
				slog.Int64("item_id", issue.ItemID),
				slog.Int64("warehouse_id", issue.WarehouseID),
				slog.String("position_qty", issue.PositionQty.String()),
				slog.String("layer_qty", issue.LayerQty.String()),
			)
		}
		if len(found) > 0 {
			issues[id] = found
			j.metrics().AddFindings(TaskFIFOConservation, "position", id, len(found))
		}
	}
	logger.Info("completed fifo conservation check", slog.Int("tenants", len(tenants)), slog.Int("tenants_with_issues", len(issues)))
	return issues, nil
}

func (j *ConservationJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskFIFOConservation))
	}
	return slog.Default().With(slog.String("job", TaskFIFOConservation))
}

func (j *ConservationJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
