// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
	"github.com/eliteGoblin/focusd/usagemon/internal/metrics"
)

// DefaultForegroundWindow is how far back a foreground query looks:
// one and a half default sampling intervals.
const DefaultForegroundWindow = 3 * time.Second

// Aggregator turns usage source queries into per-package usage figures.
// Public methods fail toward "no usage": a broken source reads as zero, never
// as an overrun.
type Aggregator struct {
	source           domain.UsageSource
	foregroundWindow time.Duration
	logger           *zap.Logger
}

// NewAggregator creates an aggregator over the given source.
func NewAggregator(source domain.UsageSource, foregroundWindow time.Duration, logger *zap.Logger) *Aggregator {
	if foregroundWindow <= 0 {
		foregroundWindow = DefaultForegroundWindow
	}
	return &Aggregator{
		source:           source,
		foregroundWindow: foregroundWindow,
		logger:           logger,
	}
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// UsedToday returns foreground time of pkg since local midnight.
func (a *Aggregator) UsedToday(ctx context.Context, pkg string, now time.Time) time.Duration {
	used, err := a.usedToday(ctx, pkg, now)
	if err != nil {
		a.logger.Debug("daily usage unavailable, treating as zero",
			zap.String("package", pkg),
			zap.Error(err))
		return 0
	}
	return used
}

// UsedInWindow returns foreground time of pkg within the last window.
func (a *Aggregator) UsedInWindow(ctx context.Context, pkg string, now time.Time, window time.Duration) time.Duration {
	used, err := a.query(ctx, pkg, now.Add(-window), now)
	if err != nil {
		a.logger.Debug("window usage unavailable, treating as zero",
			zap.String("package", pkg),
			zap.Duration("window", window),
			zap.Error(err))
		return 0
	}
	return used
}

// Foreground returns the package most recently in the foreground within the
// short window, or "" when none is.
func (a *Aggregator) Foreground(ctx context.Context, now time.Time) string {
	pkg, _, err := a.foreground(ctx, now)
	if err != nil {
		a.logger.Debug("foreground query failed", zap.Error(err))
		return ""
	}
	return pkg
}

// Snapshot returns the usage snapshot for pkg at now.
func (a *Aggregator) Snapshot(ctx context.Context, pkg string, now time.Time) domain.UsageSnapshot {
	snap := domain.UsageSnapshot{
		PackageID:            pkg,
		TotalForegroundToday: a.UsedToday(ctx, pkg, now),
	}

	records, err := a.source.QueryForegroundInterval(ctx, StartOfDay(now), now)
	if err != nil {
		metrics.SourceErrors.WithLabelValues("foreground").Inc()
		return snap
	}
	for _, r := range records {
		if r.PackageID == pkg && r.LastUsedAt.After(snap.LastForegroundAt) {
			snap.LastForegroundAt = r.LastUsedAt
		}
	}
	return snap
}

// usedToday is the strict variant used by the engine to skip a tick on failure.
func (a *Aggregator) usedToday(ctx context.Context, pkg string, now time.Time) (time.Duration, error) {
	return a.query(ctx, pkg, StartOfDay(now), now)
}

func (a *Aggregator) query(ctx context.Context, pkg string, start, end time.Time) (time.Duration, error) {
	used, err := a.source.QueryDailyUsage(ctx, pkg, start, end)
	if err != nil {
		metrics.SourceErrors.WithLabelValues("daily_usage").Inc()
		return 0, fmt.Errorf("%w: daily usage for %s: %v", domain.ErrSourceUnavailable, pkg, err)
	}
	if ctx.Err() != nil {
		metrics.SourceErrors.WithLabelValues("daily_usage").Inc()
		return 0, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, ctx.Err())
	}
	if used < 0 {
		used = 0
	}
	return used, nil
}

// foreground resolves the most recent record. Exact timestamp ties go to the
// lexicographically smallest package so the result is deterministic.
func (a *Aggregator) foreground(ctx context.Context, now time.Time) (string, time.Time, error) {
	records, err := a.source.QueryForegroundInterval(ctx, now.Add(-a.foregroundWindow), now)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		metrics.SourceErrors.WithLabelValues("foreground").Inc()
		return "", time.Time{}, fmt.Errorf("%w: foreground: %v", domain.ErrSourceUnavailable, err)
	}

	var best domain.ForegroundRecord
	for _, r := range records {
		if r.PackageID == "" {
			continue
		}
		switch {
		case best.PackageID == "":
			best = r
		case r.LastUsedAt.After(best.LastUsedAt):
			best = r
		case r.LastUsedAt.Equal(best.LastUsedAt) && r.PackageID < best.PackageID:
			best = r
		}
	}
	return best.PackageID, best.LastUsedAt, nil
}
