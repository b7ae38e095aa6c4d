package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"copyfund/internal/config"
	"copyfund/internal/metrics"
	"copyfund/internal/repository"
)

const defaultRetentionHorizon = 90 * 24 * time.Hour

// RetentionSweeper deletes ledger rows older than the horizon in bounded batches.
type RetentionSweeper struct {
	Repo    repository.Repository
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Flags   *SystemSettingsService
	Config  config.RetentionConfig

	Now func() time.Time
}

type RetentionResult struct {
	Cutoff  time.Time
	Deleted int64
	Batches int
}

func (r *RetentionSweeper) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *RetentionSweeper) Cutoff() time.Time {
	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now().UTC()
	}
	horizon := r.Config.Horizon
	if horizon <= 0 {
		horizon = defaultRetentionHorizon
	}
	return now.Add(-horizon)
}

// RunOnce returns the rows removed so far even when a batch fails; the rest
// is picked up by the next run.
func (r *RetentionSweeper) RunOnce(ctx context.Context) (RetentionResult, error) {
	var res RetentionResult
	if r == nil || r.Repo == nil {
		return res, nil
	}
	if r.Flags != nil && !r.Flags.IsEnabled(ctx, FeatureRetentionSweeper, true) {
		r.logger().Debug("retention sweeper disabled")
		return res, nil
	}

	batchSize := r.Config.BatchSize
	if batchSize <= 0 {
		batchSize = 5000
	}
	maxBatches := r.Config.MaxBatches
	if maxBatches <= 0 {
		maxBatches = 200
	}
	timeout := r.Config.BatchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	res.Cutoff = r.Cutoff()

	for res.Batches < maxBatches {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batchCtx, cancel := context.WithTimeout(ctx, timeout)
		n, err := r.Repo.DeleteTradeReplicationsBefore(batchCtx, res.Cutoff, batchSize)
		cancel()
		res.Batches++
		res.Deleted += n
		r.Metrics.RetentionRemoved(n)
		if err != nil {
			r.logger().Warn("retention batch failed",
				zap.Time("cutoff", res.Cutoff),
				zap.Int64("deleted", res.Deleted),
				zap.Error(err),
			)
			return res, fmt.Errorf("delete batch %d: %w", res.Batches, err)
		}
		if n < int64(batchSize) {
			break
		}
	}

	r.logger().Info("retention sweep done",
		zap.Time("cutoff", res.Cutoff),
		zap.Int64("deleted", res.Deleted),
		zap.Int("batches", res.Batches),
	)
	return res, nil
}
