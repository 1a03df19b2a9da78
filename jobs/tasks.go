// Package jobs holds background task definitions and the Asynq worker for
// the gateway's periodic maintenance work.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskEnrichWarmup pre-populates the email enrichment cache.
	TaskEnrichWarmup = "enrich:warmup"
	// TaskPoolsReport logs pool utilization snapshots.
	TaskPoolsReport = "pools:report"
)

// EnrichWarmupPayload parameterises a warmup run.
type EnrichWarmupPayload struct {
	// Scope selects the mappings to warm; "all" is the only supported scope.
	Scope string `json:"scope"`
}

// NewEnrichWarmupTask constructs an enrichment warmup task.
func NewEnrichWarmupTask(scope string) (*asynq.Task, error) {
	data, err := json.Marshal(EnrichWarmupPayload{Scope: scope})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEnrichWarmup, data), nil
}

// PoolsReportPayload parameterises a utilization report run.
type PoolsReportPayload struct{}

// NewPoolsReportTask constructs a pool utilization report task.
func NewPoolsReportTask() (*asynq.Task, error) {
	data, err := json.Marshal(PoolsReportPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPoolsReport, data), nil
}
