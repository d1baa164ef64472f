// Package scheduler implements the daemon's main loop (C6, spec §4.6):
// it owns the pool and the configured sources, ticks sources on their
// individual intervals, runs a separate persistence watcher, and
// sequences graceful shutdown. The ticker/select loop shape is grounded
// on the teacher's daemon.Watcher.Run (internal/daemon/watcher.go):
// multiple independent time.Ticker channels multiplexed in one select,
// generalized from a fixed enforcement+heartbeat+partner-check set of
// tickers down to a per-source dispatch tick plus a persistence tick.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/eliteGoblin/egd/internal/domain"
)

// tickInterval is the coarse dispatch cadence spec §4.6 calls for
// ("one second"). A var, not a const, so tests can shorten it.
var tickInterval = 1 * time.Second

// Scheduler owns the pool and the configured sources for the daemon's
// lifetime (spec §4.6).
type Scheduler struct {
	global      domain.GlobalConfig
	sources     []domain.SourceConfig
	runner      domain.CycleRunner
	pool        domain.Pool
	persistPath string
	logger      *zap.Logger

	mu        sync.Mutex
	runtimes  map[string]*domain.SourceRuntime
	inflight  map[string]bool
	startedAt time.Time

	wg sync.WaitGroup
}

// New creates a scheduler over cfg's sources, backed by runner for
// individual cycles and pool for deposits/persistence.
func New(global domain.GlobalConfig, sources []domain.SourceConfig, runner domain.CycleRunner, pool domain.Pool, logger *zap.Logger) *Scheduler {
	now := time.Now()
	runtimes := make(map[string]*domain.SourceRuntime, len(sources))
	for _, cfg := range sources {
		rt := domain.SourceRuntime{
			State:            domain.StateIdle,
			FirstRunDeadline: now.Add(cfg.InitDelay),
			Disabled:         cfg.Disabled,
		}
		if cfg.Disabled {
			rt.State = domain.StateDisabled
		}
		runtimes[cfg.Name] = &rt
	}

	return &Scheduler{
		global:      global,
		sources:     sources,
		runner:      runner,
		pool:        pool,
		persistPath: global.PersistFile,
		logger:      logger,
		runtimes:    runtimes,
		inflight:    make(map[string]bool),
	}
}

// Run blocks until ctx is cancelled, dispatching due sources and
// persisting the pool on its configured interval. On cancellation it
// performs the shutdown sequence spec §4.6 describes and returns nil if
// in-flight cycles drained and the final persist succeeded; otherwise it
// returns the drain-timeout and final-persist errors combined with
// multierr.
func (s *Scheduler) Run(ctx context.Context) error {
	s.startedAt = time.Now()
	s.logger.Info("scheduler started",
		zap.Int("source_count", len(s.sources)),
		zap.Duration("persist_interval", s.global.PersistInterval))

	tick := time.NewTicker(tickInterval)
	defer tick.Stop()
	persistTick := time.NewTicker(s.global.PersistInterval)
	defer persistTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown()

		case <-tick.C:
			s.dispatchDue(ctx)

		case <-persistTick.C:
			if err := s.PersistNow(); err != nil {
				s.logger.Warn("periodic persist failed", zap.Error(err))
			}
		}
	}
}

// dispatchDue starts one goroutine per currently-due source that isn't
// already running a cycle. Cycles for distinct sources run concurrently;
// cycles for the same source are serialized by the inflight guard (spec
// §4.6).
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := time.Now()

	for i := range s.sources {
		cfg := s.sources[i]

		s.mu.Lock()
		rt := s.runtimes[cfg.Name]
		due := isDue(rt, cfg.Interval, now) && !s.inflight[cfg.Name]
		if due {
			s.inflight[cfg.Name] = true
		}
		s.mu.Unlock()

		if !due {
			continue
		}

		s.wg.Add(1)
		go func(cfg domain.SourceConfig, rt *domain.SourceRuntime) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.inflight, cfg.Name)
				s.mu.Unlock()
			}()

			s.mu.Lock()
			rt.State = domain.StateDue
			s.mu.Unlock()

			if _, err := s.runner.RunCycle(ctx, cfg, rt); err != nil {
				s.logger.Debug("cycle did not deposit", zap.String("source", cfg.Name), zap.Error(err))
			}
		}(cfg, rt)
	}
}

// PersistNow takes a consistent pool snapshot and persists it
// synchronously; both the periodic watcher and the control server's
// `persist` command share this path (spec §4.6).
func (s *Scheduler) PersistNow() error {
	err := s.pool.Persist(s.persistPath)
	if err != nil {
		return err
	}
	s.logger.Info("pool persisted", zap.String("path", s.persistPath))
	return nil
}

// Stats returns the current pool statistics for the control server's
// `status` command.
func (s *Scheduler) Stats() domain.PoolStats {
	return s.pool.Stats()
}

// PersistPath returns the configured persistence file path, for the
// control server's `persist` response.
func (s *Scheduler) PersistPath() string {
	return s.persistPath
}

// SourceKinds returns each configured source's kind by name, for the
// `sources` control command.
func (s *Scheduler) SourceKinds() map[string]domain.SourceKind {
	out := make(map[string]domain.SourceKind, len(s.sources))
	for _, cfg := range s.sources {
		out[cfg.Name] = cfg.Kind
	}
	return out
}

// UptimeSeconds returns seconds since Run began, for the control
// server's `quit` response.
func (s *Scheduler) UptimeSeconds() int64 {
	return int64(time.Since(s.startedAt).Seconds())
}

// SourceStatuses returns a point-in-time snapshot of every source's
// runtime state, for the `sources` control command (spec §3
// supplement).
func (s *Scheduler) SourceStatuses() map[string]domain.SourceRuntime {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]domain.SourceRuntime, len(s.runtimes))
	for name, rt := range s.runtimes {
		out[name] = *rt
	}
	return out
}

// shutdown cancels in-flight cycles by virtue of the caller's ctx already
// being done, waits bounded time for them to drain, then performs the
// final persist (spec §4.6 (b)-(c)).
func (s *Scheduler) shutdown() error {
	s.logger.Info("scheduler stopping, draining in-flight cycles")

	var shutdownErr error

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		s.logger.Warn("timed out waiting for in-flight cycles to drain")
		shutdownErr = multierr.Append(shutdownErr, fmt.Errorf("in-flight cycles did not drain within 5s"))
	}

	if err := s.PersistNow(); err != nil {
		s.logger.Error("final persist failed", zap.Error(err))
		shutdownErr = multierr.Append(shutdownErr, err)
	}
	return shutdownErr
}

// isDue is a package-local copy of source.IsDue's readiness check kept
// independent so scheduler does not import internal/source purely for
// this one predicate.
func isDue(rt *domain.SourceRuntime, interval time.Duration, now time.Time) bool {
	if rt.Disabled {
		return false
	}
	if now.Before(rt.FirstRunDeadline) {
		return false
	}
	return !now.Before(rt.LastAttempt.Add(interval))
}
