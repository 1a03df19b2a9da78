package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/peerlab/gateway/internal/asn"
	"github.com/peerlab/gateway/internal/enrich"
	jobmetrics "github.com/peerlab/gateway/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// lookupTimeout bounds each provider call during warmup.
const lookupTimeout = 10 * time.Second

// EnrichWarmupJob pre-populates the email cache for every known mapping so
// service API reads rarely block on the identity provider.
type EnrichWarmupJob struct {
	Mappings asn.Repository
	Resolver enrich.Resolver
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewEnrichWarmupJob wires dependencies for the warmup handler.
func NewEnrichWarmupJob(mappings asn.Repository, resolver enrich.Resolver, logger *slog.Logger, metrics *jobmetrics.Metrics) *EnrichWarmupJob {
	return &EnrichWarmupJob{Mappings: mappings, Resolver: resolver, Logger: logger, Metrics: metrics}
}

// Handle processes enrichment warmup tasks.
func (j *EnrichWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Mappings == nil || j.Resolver == nil {
		return errors.New("enrich warmup: handler not configured")
	}
	var payload EnrichWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskEnrichWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting enrichment warmup")

	mappings, err := j.Mappings.All(ctx)
	if err != nil {
		resultErr = err
		logger.Error("list mappings", slog.Any("error", err))
		return resultErr
	}

	warmed, skipped := 0, 0
	for _, m := range mappings {
		if m.RawID == nil || *m.RawID == "" {
			skipped++
			continue
		}
		lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
		_, err := j.Resolver.Email(lookupCtx, *m.RawID)
		cancel()
		if err != nil {
			// Warmup is best effort, same as request-time enrichment.
			logger.Warn("warmup lookup failed",
				slog.String("user_hash", m.UserHash), slog.Any("error", err))
			continue
		}
		warmed++
	}

	logger.Info("completed enrichment warmup",
		slog.Int("warmed", warmed), slog.Int("skipped", skipped), slog.Int("total", len(mappings)))
	return resultErr
}

func (j *EnrichWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskEnrichWarmup))
	}
	return slog.Default().With(slog.String("job", TaskEnrichWarmup))
}

func (j *EnrichWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
