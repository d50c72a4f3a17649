package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
	"github.com/eliteGoblin/focusd/usagemon/internal/metrics"
)

// DefaultSampleRetention is how long raw foreground samples are kept.
const DefaultSampleRetention = 14 * 24 * time.Hour

// Sampler feeds the usage log. Desktop platforms offer no retrospective
// usage API, so the daemon probes the foreground app on a fixed cadence and
// credits each sample with one sampling interval.
type Sampler struct {
	probe    domain.ForegroundProbe
	log      domain.UsageLog
	limits   domain.LimitRegistry
	interval time.Duration
	logger   *zap.Logger
}

// NewSampler creates a sampler crediting interval per sample.
func NewSampler(
	probe domain.ForegroundProbe,
	log domain.UsageLog,
	limits domain.LimitRegistry,
	interval time.Duration,
	logger *zap.Logger,
) *Sampler {
	return &Sampler{
		probe:    probe,
		log:      log,
		limits:   limits,
		interval: interval,
		logger:   logger,
	}
}

// Sample probes the foreground among enabled limits and records it.
// Returns the sampled package, or "" when nothing monitored was in use.
func (s *Sampler) Sample(ctx context.Context, now time.Time) (string, error) {
	all, err := s.limits.ListLimits(ctx)
	if err != nil {
		return "", fmt.Errorf("list limits: %w", err)
	}

	candidates := make([]string, 0, len(all))
	for _, l := range all {
		if l.Enabled {
			candidates = append(candidates, l.PackageID)
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}

	pkg, err := s.probe.Foreground(ctx, candidates)
	if err != nil {
		metrics.SamplesRecorded.WithLabelValues("probe_error").Inc()
		return "", fmt.Errorf("probe foreground: %w", err)
	}
	if pkg == "" {
		return "", nil
	}

	if err := s.log.RecordSample(ctx, pkg, now, s.interval); err != nil {
		metrics.SamplesRecorded.WithLabelValues("error").Inc()
		return "", fmt.Errorf("record sample for %s: %w", pkg, err)
	}
	metrics.SamplesRecorded.WithLabelValues("ok").Inc()

	s.logger.Debug("foreground sampled",
		zap.String("package", pkg),
		zap.Duration("credited", s.interval))

	return pkg, nil
}

// Prune drops samples older than retention.
func (s *Sampler) Prune(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = DefaultSampleRetention
	}
	n, err := s.log.PruneSamples(ctx, now.Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune samples: %w", err)
	}
	return n, nil
}
