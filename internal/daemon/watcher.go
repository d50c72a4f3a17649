// Package daemon implements the usage monitoring poll loop.
package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
	"github.com/eliteGoblin/focusd/usagemon/internal/metrics"
	"github.com/eliteGoblin/focusd/usagemon/internal/usecase"
)

// TickEngine evaluates one monitoring cycle.
type TickEngine interface {
	Tick(ctx context.Context, state *usecase.EnforcementState, now time.Time) usecase.TickResult
}

// UsageSampler feeds and trims the usage log.
type UsageSampler interface {
	Sample(ctx context.Context, now time.Time) (string, error)
	Prune(ctx context.Context, now time.Time, retention time.Duration) (int, error)
}

// outcomeSkipped labels ticks that ran out of time.
const outcomeSkipped = "skipped"

// WatcherConfig holds poll loop configuration.
type WatcherConfig struct {
	PollInterval      time.Duration // How often the engine evaluates the foreground app
	TickTimeout       time.Duration // Budget of one tick; must be below PollInterval
	SampleInterval    time.Duration // How often the foreground app is sampled
	HeartbeatInterval time.Duration // How often to update heartbeat
	PruneInterval     time.Duration // How often old samples are dropped
	Retention         time.Duration // How long samples are kept
}

// DefaultWatcherConfig returns default watcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		PollInterval:      2 * time.Second,
		TickTimeout:       1500 * time.Millisecond,
		SampleInterval:    2 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		PruneInterval:     time.Hour,
		Retention:         usecase.DefaultSampleRetention,
	}
}

// Watcher is the monitoring daemon. It samples the foreground app, runs the
// engine on every poll tick and keeps its registry heartbeat fresh.
// Ticks never overlap: everything runs on the Run goroutine, which is also
// the only owner of the enforcement state.
type Watcher struct {
	config   WatcherConfig
	engine   TickEngine
	sampler  UsageSampler
	registry domain.DaemonRegistry
	clock    domain.Clock
	daemon   domain.Daemon
	logger   *zap.Logger

	state *usecase.EnforcementState
}

// NewWatcher creates a new watcher daemon.
func NewWatcher(
	config WatcherConfig,
	engine TickEngine,
	sampler UsageSampler,
	registry domain.DaemonRegistry,
	clock domain.Clock,
	daemon domain.Daemon,
	logger *zap.Logger,
) *Watcher {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Watcher{
		config:   config,
		engine:   engine,
		sampler:  sampler,
		registry: registry,
		clock:    clock,
		daemon:   daemon,
		logger:   logger,
	}
}

// Run starts the watcher loop. It blocks until ctx is canceled; the
// enforcement state is dropped when it returns.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.registry.Register(w.daemon); err != nil {
		w.logger.Error("failed to register watcher", zap.Error(err))
		return err
	}

	w.logger.Info("watcher daemon started",
		zap.Int("pid", w.daemon.PID),
		zap.String("version", w.daemon.AppVersion),
		zap.Duration("poll_interval", w.config.PollInterval))

	w.state = usecase.NewEnforcementState()
	defer func() { w.state = nil }()

	// Sample first so the opening tick sees the current foreground app.
	w.sample(ctx)
	w.poll(ctx)
	w.prune(ctx)

	pollTicker := time.NewTicker(w.config.PollInterval)
	sampleTicker := time.NewTicker(w.config.SampleInterval)
	heartbeatTicker := time.NewTicker(w.config.HeartbeatInterval)
	pruneTicker := time.NewTicker(w.config.PruneInterval)

	defer func() {
		pollTicker.Stop()
		sampleTicker.Stop()
		heartbeatTicker.Stop()
		pruneTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher daemon stopping")
			return ctx.Err()

		case <-sampleTicker.C:
			w.sample(ctx)

		case <-pollTicker.C:
			w.poll(ctx)

		case <-heartbeatTicker.C:
			if err := w.registry.UpdateHeartbeat(domain.RoleWatcher); err != nil {
				w.logger.Warn("failed to update heartbeat", zap.Error(err))
			}

		case <-pruneTicker.C:
			w.prune(ctx)
		}
	}
}

// poll runs one engine tick under the tick budget.
func (w *Watcher) poll(ctx context.Context) {
	start := time.Now()
	tickCtx, cancel := context.WithTimeout(ctx, w.config.TickTimeout)
	defer cancel()

	res := w.engine.Tick(tickCtx, w.state, w.clock.Now())
	metrics.TickDuration.Observe(time.Since(start).Seconds())

	outcome := string(res.Outcome)
	if errors.Is(tickCtx.Err(), context.DeadlineExceeded) && res.Outcome != usecase.OutcomeEvaluated {
		outcome = outcomeSkipped
	}
	metrics.Ticks.WithLabelValues(outcome).Inc()

	switch {
	case res.Outcome == usecase.OutcomeEvaluated && res.Action != domain.ActionNone:
		w.logger.Info("enforcement action",
			zap.String("package", res.Package),
			zap.String("action", string(res.Action)),
			zap.String("class", string(res.Classification)),
			zap.Duration("used", res.Used),
			zap.Int("limit_minutes", res.LimitMinutes))
	case outcome == outcomeSkipped:
		w.logger.Debug("tick skipped, out of time", zap.Duration("budget", w.config.TickTimeout))
	case res.Outcome == usecase.OutcomeRegistryError:
		w.logger.Warn("registry lookup failed, package skipped",
			zap.String("package", res.Package),
			zap.Error(res.Err))
	case res.Outcome == usecase.OutcomeSourceUnavailable:
		w.logger.Debug("usage source unavailable", zap.Error(res.Err))
	}
}

func (w *Watcher) sample(ctx context.Context) {
	sampleCtx, cancel := context.WithTimeout(ctx, w.config.TickTimeout)
	defer cancel()

	if _, err := w.sampler.Sample(sampleCtx, w.clock.Now()); err != nil {
		w.logger.Warn("foreground sample failed", zap.Error(err))
	}
}

func (w *Watcher) prune(ctx context.Context) {
	n, err := w.sampler.Prune(ctx, w.clock.Now(), w.config.Retention)
	if err != nil {
		w.logger.Warn("sample pruning failed", zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Info("pruned old usage samples", zap.Int("count", n))
	}
}
