package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/peerlab/gateway/internal/asn"
	jobmetrics "github.com/peerlab/gateway/internal/jobs"
	"github.com/peerlab/gateway/internal/prefix"
)

// PoolsReportJob logs a utilization snapshot for both allocation pools.
// Occupancy is derived from the store, never from process state, so the
// report is accurate across all gateway instances.
type PoolsReportJob struct {
	ASNs       asn.Repository
	ASNPool    asn.Pool
	Leases     prefix.Repository
	PrefixPool prefix.Pool
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewPoolsReportJob wires dependencies for the report handler.
func NewPoolsReportJob(asns asn.Repository, asnPool asn.Pool, leases prefix.Repository, prefixPool prefix.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *PoolsReportJob {
	return &PoolsReportJob{
		ASNs:       asns,
		ASNPool:    asnPool,
		Leases:     leases,
		PrefixPool: prefixPool,
		Logger:     logger,
		Metrics:    metrics,
	}
}

// Handle processes pool utilization report tasks.
func (j *PoolsReportJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.ASNs == nil || j.Leases == nil {
		return errors.New("pools report: handler not configured")
	}
	var payload PoolsReportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskPoolsReport)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()

	assigned, err := j.ASNs.AssignedInRange(ctx, j.ASNPool.Start, j.ASNPool.End)
	if err != nil {
		resultErr = err
		logger.Error("scan assigned asns", slog.Any("error", err))
		return resultErr
	}

	activeLeases, err := j.Leases.CountActive(ctx)
	if err != nil {
		resultErr = err
		logger.Error("count active leases", slog.Any("error", err))
		return resultErr
	}

	logger.Info("pool utilization",
		slog.Int("asn_used", len(assigned)),
		slog.Int("asn_capacity", int(j.ASNPool.Size())),
		slog.Int64("leases_active", activeLeases),
		slog.Int("prefix_capacity", j.PrefixPool.Len()))
	return resultErr
}

func (j *PoolsReportJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPoolsReport))
	}
	return slog.Default().With(slog.String("job", TaskPoolsReport))
}

func (j *PoolsReportJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
