package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"fraudwatch/internal/alerting"
	"fraudwatch/internal/cache"
	"fraudwatch/internal/fetcher"
	"fraudwatch/internal/fraud"
	"fraudwatch/internal/metrics"
	"fraudwatch/internal/scheduler"
	"fraudwatch/internal/storage"
)

var (
	// ErrNoSnapshot reports that no refresh has published a bundle yet.
	ErrNoSnapshot = errors.New("no analytics bundle published yet")
	// ErrLockHeld reports that another instance holds the refresh lock.
	ErrLockHeld = errors.New("refresh lock held by another instance")
)

// Options tune the refresh pipeline.
type Options struct {
	Detection   fraud.Options
	Window      time.Duration
	Timeout     time.Duration
	LockKey     int64
	Channels    []string
	AlertsOn    bool
	AlertFilter alerting.FilterOptions
}

// Deps are the collaborators of a Service. Only Source and Engine are required.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Source    fetcher.SnapshotFetcher
	Engine    *fraud.Engine
	Locker    storage.AdvisoryLocker
	Cache     cache.BundleCache
	Notifier  alerting.Notifier
	Metrics   *metrics.Metrics
}

// Service orchestrates fetching, analysis, publication, and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	source    fetcher.SnapshotFetcher
	engine    *fraud.Engine
	locker    storage.AdvisoryLocker
	cache     cache.BundleCache
	notifier  alerting.Notifier
	filter    *alerting.Filter
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	opts  Options
	now   func() time.Time
	newID func() string

	group      singleflight.Group
	generation atomic.Uint64
	latest     atomic.Pointer[published]
}

type published struct {
	generation uint64
	snapshot   []fraud.Transaction
	data       *fraud.FraudAnalyticsData
}

// New constructs the refresh service.
func New(deps Deps, opts Options, logger zerolog.Logger) *Service {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	engine := deps.Engine
	if engine == nil {
		engine = fraud.NewEngine(0, logger)
	}

	return &Service{
		scheduler: deps.Scheduler,
		source:    deps.Source,
		engine:    engine,
		locker:    deps.Locker,
		cache:     deps.Cache,
		notifier:  deps.Notifier,
		filter:    alerting.NewFilter(opts.AlertFilter),
		metrics:   deps.Metrics,
		logger:    logger.With().Str("component", "service").Logger(),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.NewString() },
	}
}

// Run begins the refresh loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.tick)
}

func (s *Service) tick(ctx context.Context, at time.Time) error {
	_, err := s.Refresh(ctx)
	if errors.Is(err, ErrLockHeld) {
		s.logger.Debug().Time("at", at).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	return err
}

// Refresh fetches a snapshot, analyses it, and publishes the bundle. Calls
// arriving while a refresh is in flight join it. The work itself runs
// detached from the caller's cancellation, bounded by the configured
// timeout; a caller that gives up early gets ctx.Err() while the shared
// refresh completes.
func (s *Service) Refresh(ctx context.Context) (*fraud.FraudAnalyticsData, error) {
	ch := s.group.DoChan("refresh", func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
		defer cancel()
		return s.refresh(runCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*fraud.FraudAnalyticsData), nil
	}
}

func (s *Service) refresh(ctx context.Context) (*fraud.FraudAnalyticsData, error) {
	started := s.now()
	gen := s.generation.Add(1)
	runID := s.newID()
	logger := s.logger.With().Str("run_id", runID).Uint64("generation", gen).Logger()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		s.metrics.ObserveRefresh(metrics.OutcomeFailed, time.Since(started))
		return nil, err
	}
	if !proceed {
		s.metrics.ObserveRefresh(metrics.OutcomeSkipped, 0)
		return nil, ErrLockHeld
	}
	if unlock != nil {
		defer unlock()
	}

	window := fetcher.WindowEndingAt(started, s.opts.Window)
	txs, err := s.source.FetchSnapshot(ctx, window)
	if err != nil {
		s.metrics.ObserveRefresh(metrics.OutcomeFailed, time.Since(started))
		logger.Error().Err(err).Time("from", window.Start).Time("to", window.End).Msg("snapshot retrieval failed; keeping previous bundle")
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}

	data, err := s.engine.Analyze(ctx, txs, s.opts.Detection)
	if err != nil {
		s.metrics.ObserveRefresh(metrics.OutcomeFailed, time.Since(started))
		logger.Error().Err(err).Int("records", len(txs)).Msg("analysis failed; keeping previous bundle")
		return nil, fmt.Errorf("analyze snapshot: %w", err)
	}
	data = data.WithRun(runID, started)

	if !s.publish(&published{generation: gen, snapshot: txs, data: data}) {
		s.metrics.ObserveRefresh(metrics.OutcomeStale, time.Since(started))
		logger.Warn().Msg("newer bundle already published; discarding result")
		return s.Latest(), nil
	}
	s.metrics.ObserveRefresh(metrics.OutcomeSuccess, time.Since(started))
	s.metrics.ObserveBundle(data)

	logger.Info().
		Int("records", len(txs)).
		Int("customers", len(data.CustomerActivity)).
		Int("flags", len(data.SuspiciousFlags)).
		Dur("took", time.Since(started)).
		Msg("analytics bundle published")

	if s.cache != nil {
		if err := s.cache.Publish(ctx, data); err != nil {
			logger.Error().Err(err).Msg("failed to publish bundle to cache")
		}
	}
	s.notify(ctx, data, logger)
	return data, nil
}

// publish swaps in p unless a newer generation is already visible.
func (s *Service) publish(p *published) bool {
	for {
		current := s.latest.Load()
		if current != nil && current.generation > p.generation {
			return false
		}
		if s.latest.CompareAndSwap(current, p) {
			return true
		}
	}
}

func (s *Service) notify(ctx context.Context, data *fraud.FraudAnalyticsData, logger zerolog.Logger) {
	if !s.opts.AlertsOn || s.notifier == nil {
		return
	}
	flags, omitted := s.filter.Select(data.SuspiciousFlags)
	if len(flags) == 0 {
		return
	}
	note := alerting.Notification{
		RunID:    data.RunID,
		Flags:    flags,
		Omitted:  omitted,
		Channels: s.opts.Channels,
	}
	if data.GeneratedAt != nil {
		note.GeneratedAt = *data.GeneratedAt
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		logger.Error().Err(err).Int("flags", len(flags)).Msg("failed to dispatch alert")
		return
	}
	s.metrics.AlertsDispatched(len(flags))
}

// Latest returns the most recently published bundle, or nil.
func (s *Service) Latest() *fraud.FraudAnalyticsData {
	if p := s.latest.Load(); p != nil {
		return p.data
	}
	return nil
}

// LatestOrCached falls back to the shared cache when this instance has not
// published yet.
func (s *Service) LatestOrCached(ctx context.Context) (*fraud.FraudAnalyticsData, error) {
	if data := s.Latest(); data != nil {
		return data, nil
	}
	if s.cache == nil {
		return nil, ErrNoSnapshot
	}
	data, err := s.cache.Latest(ctx)
	if errors.Is(err, cache.ErrMiss) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// AnalyzeWith recomputes the latest snapshot under different thresholds.
// The published bundle is left untouched.
func (s *Service) AnalyzeWith(ctx context.Context, opts fraud.Options) (*fraud.FraudAnalyticsData, error) {
	p := s.latest.Load()
	if p == nil {
		return nil, ErrNoSnapshot
	}
	data, err := s.engine.Analyze(ctx, p.snapshot, opts)
	if err != nil {
		return nil, err
	}
	return data.WithRun(s.newID(), s.now()), nil
}

// Analyze runs the engine over a caller-supplied snapshot.
func (s *Service) Analyze(ctx context.Context, txs []fraud.Transaction, opts fraud.Options) (*fraud.FraudAnalyticsData, error) {
	data, err := s.engine.Analyze(ctx, txs, opts)
	if err != nil {
		return nil, err
	}
	return data.WithRun(s.newID(), s.now()), nil
}

// DetectionOptions returns the configured default thresholds.
func (s *Service) DetectionOptions() fraud.Options {
	return s.opts.Detection
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
