// Package sweeper runs the periodic maintenance of the governance core:
// escalating overdue approvals, dropping lapsed limit overrides and purging
// stale rule-cache entries.
package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Escalator escalates pending approvals that waited too long
type Escalator interface {
	EscalateOverdue(ctx context.Context, now time.Time) (int, error)
}

// OverridePurger deletes limit overrides that expired before now
type OverridePurger interface {
	DeleteExpiredOverrides(ctx context.Context, now time.Time) (int64, error)
}

// CachePurger drops expired cache entries
type CachePurger interface {
	CleanupExpired() int
}

// Result describes one sweep
type Result struct {
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	Escalated        int           `json:"escalated"`
	OverridesDeleted int64         `json:"overrides_deleted"`
	CacheEvicted     int           `json:"cache_evicted"`
	Errors           []string      `json:"errors,omitempty"`
}

// Status summarizes the sweeper for the status endpoint
type Status struct {
	Interval time.Duration `json:"interval"`
	Runs     int64         `json:"runs"`
	Last     *Result       `json:"last,omitempty"`
}

// Sweeper runs the maintenance tasks on a ticker
type Sweeper struct {
	escalator Escalator
	overrides OverridePurger
	cache     CachePurger
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu   sync.RWMutex
	runs int64
	last *Result
}

// New creates a sweeper. cache may be nil when rules are not cached.
func New(escalator Escalator, overrides OverridePurger, cache CachePurger, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		escalator: escalator,
		overrides: overrides,
		cache:     cache,
		interval:  interval,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the wall clock
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// RunOnce performs a single sweep. A failing task does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) Result {
	now := s.now()
	res := Result{StartedAt: now}

	escalated, err := s.escalator.EscalateOverdue(ctx, now)
	res.Escalated = escalated
	if err != nil {
		s.logger.Error("escalation sweep failed", zap.Error(err))
		res.Errors = append(res.Errors, "escalation: "+err.Error())
	}

	deleted, err := s.overrides.DeleteExpiredOverrides(ctx, now)
	res.OverridesDeleted = deleted
	if err != nil {
		s.logger.Error("override purge failed", zap.Error(err))
		res.Errors = append(res.Errors, "overrides: "+err.Error())
	}

	if s.cache != nil {
		res.CacheEvicted = s.cache.CleanupExpired()
	}

	res.Duration = s.now().Sub(now)

	s.mu.Lock()
	s.runs++
	s.last = &res
	s.mu.Unlock()

	s.logger.Debug("sweep finished",
		zap.Int("escalated", res.Escalated),
		zap.Int64("overrides_deleted", res.OverridesDeleted),
		zap.Int("cache_evicted", res.CacheEvicted),
		zap.Int("errors", len(res.Errors)),
	)
	return res
}

// Run sweeps once immediately, then on every tick until ctx is done
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		}
	}
}

// Status returns the run count and the last result
func (s *Sweeper) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{Interval: s.interval, Runs: s.runs}
	if s.last != nil {
		last := *s.last
		st.Last = &last
	}
	return st
}
