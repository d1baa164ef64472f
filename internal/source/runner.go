package source

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/egd/internal/domain"
	"github.com/eliteGoblin/egd/internal/egderr"
)

// Runner drives one source through fetch→compress→stir→scale→deposit
// (C5, spec §4.5). Its RunCycle shape is grounded on the teacher's
// EnforcerImpl.EnforcePolicy: build a result record, run the operation,
// accumulate what happened, log, return.
type Runner struct {
	fetchers map[domain.SourceKind]domain.Fetcher
	compress domain.Compressor
	stir     domain.Stirrer
	pool     domain.Pool
	logger   *zap.Logger
}

// NewRunner creates a cycle runner wired to one fetcher per source kind.
func NewRunner(fetchers map[domain.SourceKind]domain.Fetcher, compress domain.Compressor, stir domain.Stirrer, pool domain.Pool, logger *zap.Logger) *Runner {
	return &Runner{fetchers: fetchers, compress: compress, stir: stir, pool: pool, logger: logger}
}

var _ domain.CycleRunner = (*Runner)(nil)

// RunCycle executes one fetch→compress→stir→scale→deposit pass for cfg,
// mutating rt in place per the state machine (spec §4.5).
func (r *Runner) RunCycle(ctx context.Context, cfg domain.SourceConfig, rt *domain.SourceRuntime) (*domain.CycleResult, error) {
	start := time.Now()
	correlationID := newCorrelationID()

	result := &domain.CycleResult{
		SourceName:    cfg.Name,
		CorrelationID: correlationID,
		StartedAt:     start,
	}

	if rt.Disabled {
		err := egderr.Perm("source.runner", egderr.ErrSourceDisabled, fmt.Sprintf("source %q is disabled", cfg.Name), nil)
		result.Err = err
		return result, err
	}

	rt.State = domain.StateFetching
	fetcher, ok := r.fetchers[cfg.Kind]
	if !ok {
		err := egderr.Perm("source.runner", nil, fmt.Sprintf("no fetcher registered for kind %q", cfg.Kind), nil)
		return r.fail(result, rt, err, start)
	}

	raw, err := fetcher.Fetch(ctx, cfg)
	if err != nil {
		return r.fail(result, rt, err, start)
	}
	result.BytesFetched = len(raw)

	rt.State = domain.StateProcessing
	processed := raw
	if !cfg.NoCompress {
		processed, err = r.compress.Compress(processed)
		if err != nil {
			return r.fail(result, rt, egderr.Temp("source.runner", nil, "compress failed", err), start)
		}
	}

	stirred := r.stir.Stir(processed)
	result.BytesProcessed = len(stirred)

	scaledCount := int(math.Floor(cfg.Scale * float64(len(stirred))))
	if scaledCount > len(stirred) {
		scaledCount = len(stirred)
	}
	offered := stirred[:scaledCount]
	result.BytesOffered = scaledCount

	deposited := r.pool.Deposit(offered)
	result.BytesDeposited = deposited

	recordSuccess(rt, time.Now())
	result.DurationMs = time.Since(start).Milliseconds()

	r.logger.Debug("source cycle completed",
		zap.String("source", cfg.Name),
		zap.String("correlation_id", correlationID),
		zap.Int("bytes_fetched", result.BytesFetched),
		zap.Int("bytes_deposited", result.BytesDeposited))

	return result, nil
}

func (r *Runner) fail(result *domain.CycleResult, rt *domain.SourceRuntime, err error, start time.Time) (*domain.CycleResult, error) {
	result.Err = err
	result.DurationMs = time.Since(start).Milliseconds()

	justDisabled := recordFailure(rt, time.Now())
	if justDisabled {
		r.logger.Info("source disabled after repeated failures",
			zap.String("source", result.SourceName),
			zap.Int("consecutive_failures", rt.ConsecutiveFailures))
	} else {
		r.logger.Warn("source cycle failed",
			zap.String("source", result.SourceName),
			zap.String("correlation_id", result.CorrelationID),
			zap.Error(err))
	}

	return result, err
}
