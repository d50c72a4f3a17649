package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
	"github.com/eliteGoblin/focusd/usagemon/internal/policy"
)

// LimitService answers read-only questions about limits and usage.
// Every answer is recomputed from the registries and a fresh usage query.
type LimitService struct {
	limits     domain.LimitRegistry
	whitelist  domain.WhitelistRegistry
	aggregator *Aggregator
	clock      domain.Clock
	logger     *zap.Logger
}

// NewLimitService creates a limit service.
func NewLimitService(
	limits domain.LimitRegistry,
	whitelist domain.WhitelistRegistry,
	aggregator *Aggregator,
	clock domain.Clock,
	logger *zap.Logger,
) *LimitService {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &LimitService{
		limits:     limits,
		whitelist:  whitelist,
		aggregator: aggregator,
		clock:      clock,
		logger:     logger,
	}
}

// enforcedLimit returns the limit for pkg, or nil when pkg is not enforced
// (no row, disabled, or whitelisted).
func (s *LimitService) enforcedLimit(ctx context.Context, pkg string) (*domain.AppLimit, error) {
	whitelisted, err := s.whitelist.IsWhitelisted(ctx, pkg)
	if err != nil {
		return nil, fmt.Errorf("whitelist lookup %s: %w", pkg, err)
	}
	if whitelisted {
		return nil, nil
	}

	limit, err := s.limits.GetLimit(ctx, pkg)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("limit lookup %s: %w", pkg, err)
	}
	if !limit.Enabled {
		return nil, nil
	}
	return limit, nil
}

// RemainingMinutes returns minutes left today, floored at zero, or
// domain.UnboundedMinutes when pkg is not enforced.
func (s *LimitService) RemainingMinutes(ctx context.Context, pkg string) (int, error) {
	limit, err := s.enforcedLimit(ctx, pkg)
	if err != nil {
		return 0, err
	}
	if limit == nil {
		return domain.UnboundedMinutes, nil
	}
	used := s.aggregator.UsedToday(ctx, pkg, s.clock.Now())
	return policy.RemainingMinutes(used, limit.DailyLimitMinutes), nil
}

// UsageProgress returns used/limit in [0,1]; 0 when pkg is not enforced.
func (s *LimitService) UsageProgress(ctx context.Context, pkg string) (float64, error) {
	limit, err := s.enforcedLimit(ctx, pkg)
	if err != nil {
		return 0, err
	}
	if limit == nil {
		return 0, nil
	}
	used := s.aggregator.UsedToday(ctx, pkg, s.clock.Now())
	return policy.Progress(used, limit.DailyLimitMinutes), nil
}

// IsOverLimit reports whether pkg has used its whole budget today.
// Whitelisted packages are never over limit.
func (s *LimitService) IsOverLimit(ctx context.Context, pkg string) (bool, error) {
	limit, err := s.enforcedLimit(ctx, pkg)
	if err != nil {
		return false, err
	}
	if limit == nil {
		return false, nil
	}
	used := s.aggregator.UsedToday(ctx, pkg, s.clock.Now())
	return used >= limit.LimitDuration(), nil
}

// OverLimitApps returns enabled, non-whitelisted limits already exhausted today.
func (s *LimitService) OverLimitApps(ctx context.Context) ([]domain.AppLimit, error) {
	all, err := s.limits.ListLimits(ctx)
	if err != nil {
		return nil, fmt.Errorf("list limits: %w", err)
	}

	now := s.clock.Now()
	over := make([]domain.AppLimit, 0)
	for _, limit := range all {
		if !limit.Enabled {
			continue
		}
		whitelisted, err := s.whitelist.IsWhitelisted(ctx, limit.PackageID)
		if err != nil {
			return nil, fmt.Errorf("whitelist lookup %s: %w", limit.PackageID, err)
		}
		if whitelisted {
			continue
		}
		if s.aggregator.UsedToday(ctx, limit.PackageID, now) >= limit.LimitDuration() {
			over = append(over, limit)
		}
	}

	sort.Slice(over, func(i, j int) bool { return over[i].PackageID < over[j].PackageID })
	return over, nil
}

// LimitsSummary aggregates the registry. Average and total cover enabled limits.
func (s *LimitService) LimitsSummary(ctx context.Context) (domain.LimitsSummary, error) {
	var summary domain.LimitsSummary

	all, err := s.limits.ListLimits(ctx)
	if err != nil {
		return summary, fmt.Errorf("list limits: %w", err)
	}
	over, err := s.OverLimitApps(ctx)
	if err != nil {
		return summary, err
	}

	summary.TotalApps = len(all)
	summary.OverLimitApps = len(over)
	for _, limit := range all {
		if !limit.Enabled {
			continue
		}
		summary.EnabledApps++
		summary.TotalLimitMinutes += limit.DailyLimitMinutes
	}
	if summary.EnabledApps > 0 {
		summary.AvgLimitMinutes = float64(summary.TotalLimitMinutes) / float64(summary.EnabledApps)
	}
	return summary, nil
}

// UsedToday exposes today's usage of pkg for display.
func (s *LimitService) UsedToday(ctx context.Context, pkg string) time.Duration {
	return s.aggregator.UsedToday(ctx, pkg, s.clock.Now())
}
