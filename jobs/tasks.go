package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGLIntegrity checks journal balance, header roll-ups and the trial balance.
	TaskGLIntegrity = "ledger:gl_integrity"
	// TaskFIFOConservation compares inventory positions against their layers.
	TaskFIFOConservation = "inventory:fifo_conservation"
	// TaskIdempotencyCleanup drops idempotency keys past retention.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// TenantScopePayload limits a check to one tenant. Zero means every tenant.
type TenantScopePayload struct {
	TenantID int64 `json:"tenant_id,omitempty"`
}

// CleanupPayload overrides the configured retention.
type CleanupPayload struct {
	Retention time.Duration `json:"retention,omitempty"`
}

// NewGLIntegrityTask builds a GL integrity task.
func NewGLIntegrityTask(tenantID int64) (*asynq.Task, error) {
	return newTask(TaskGLIntegrity, TenantScopePayload{TenantID: tenantID})
}

// NewFIFOConservationTask builds a FIFO conservation task.
func NewFIFOConservationTask(tenantID int64) (*asynq.Task, error) {
	return newTask(TaskFIFOConservation, TenantScopePayload{TenantID: tenantID})
}

// NewIdempotencyCleanupTask builds a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, CleanupPayload{Retention: retention})
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault)), nil
}

func decodePayload(t *asynq.Task, target any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	return json.Unmarshal(t.Payload(), target)
}
