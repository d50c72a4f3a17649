package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
	"github.com/eliteGoblin/focusd/usagemon/internal/metrics"
	"github.com/eliteGoblin/focusd/usagemon/internal/policy"
)

const (
	// DefaultBlockCooldown is the minimum gap between two blocks of the same
	// package while it stays in the foreground.
	DefaultBlockCooldown = 3 * time.Second

	// DefaultWarnCooldown is the minimum gap between two warnings of the same package.
	DefaultWarnCooldown = 5 * time.Minute

	// DefaultSelfPackage is the package id of this application.
	DefaultSelfPackage = "usagemon"
)

// TickOutcome says how far a tick got before it stopped.
type TickOutcome string

const (
	OutcomeIdle              TickOutcome = "idle"
	OutcomeSelf              TickOutcome = "self"
	OutcomeUnmonitored       TickOutcome = "unmonitored"
	OutcomeWhitelisted       TickOutcome = "whitelisted"
	OutcomeEvaluated         TickOutcome = "evaluated"
	OutcomeSourceUnavailable TickOutcome = "source_unavailable"
	OutcomeRegistryError     TickOutcome = "registry_error"
)

// EnforcementState is the debounce memory of the poll loop. It belongs to a
// single goroutine and is never persisted.
type EnforcementState struct {
	LastForegroundPackage string
	LastBlockedAt         map[string]time.Time
	WarnedPackages        map[string]struct{}
	LastWarnedAt          map[string]time.Time
	// Day is local midnight of the day this memory belongs to.
	Day time.Time
}

// NewEnforcementState returns empty state.
func NewEnforcementState() *EnforcementState {
	return &EnforcementState{
		LastBlockedAt:  make(map[string]time.Time),
		WarnedPackages: make(map[string]struct{}),
		LastWarnedAt:   make(map[string]time.Time),
	}
}

// IsWarned reports whether pkg is in the warned set.
func (s *EnforcementState) IsWarned(pkg string) bool {
	_, ok := s.WarnedPackages[pkg]
	return ok
}

// rollover clears per-day debounce memory when now is on a new local day.
func (s *EnforcementState) rollover(now time.Time) bool {
	if s.LastBlockedAt == nil {
		s.LastBlockedAt = make(map[string]time.Time)
	}
	if s.WarnedPackages == nil {
		s.WarnedPackages = make(map[string]struct{})
	}
	if s.LastWarnedAt == nil {
		s.LastWarnedAt = make(map[string]time.Time)
	}

	day := StartOfDay(now)
	if s.Day.Equal(day) {
		return false
	}
	fresh := !s.Day.IsZero()
	s.Day = day
	if fresh {
		s.LastBlockedAt = make(map[string]time.Time)
		s.WarnedPackages = make(map[string]struct{})
		s.LastWarnedAt = make(map[string]time.Time)
	}
	return fresh
}

// TickResult describes one evaluated tick.
type TickResult struct {
	Outcome        TickOutcome
	Package        string
	DisplayName    string
	Classification domain.Classification
	Action         domain.Action
	Used           time.Duration
	LimitMinutes   int
	Err            error
	DispatchErr    error
}

// EngineConfig holds the timing knobs of the engine.
type EngineConfig struct {
	BlockCooldown time.Duration
	WarnCooldown  time.Duration
	WarnPercent   int
	SelfPackage   string
}

// DefaultEngineConfig returns default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BlockCooldown: DefaultBlockCooldown,
		WarnCooldown:  DefaultWarnCooldown,
		WarnPercent:   policy.DefaultWarnPercent,
		SelfPackage:   DefaultSelfPackage,
	}
}

// Engine decides, per tick, whether to warn, block or do nothing.
type Engine struct {
	config     EngineConfig
	classifier policy.Classifier
	aggregator *Aggregator
	limits     domain.LimitRegistry
	whitelist  domain.WhitelistRegistry
	dispatcher domain.ActionDispatcher
	logger     *zap.Logger
}

// NewEngine creates the enforcement engine.
func NewEngine(
	config EngineConfig,
	aggregator *Aggregator,
	limits domain.LimitRegistry,
	whitelist domain.WhitelistRegistry,
	dispatcher domain.ActionDispatcher,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		config:     config,
		classifier: policy.NewClassifier(config.WarnPercent),
		aggregator: aggregator,
		limits:     limits,
		whitelist:  whitelist,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Tick runs one monitoring cycle against state. Unmonitored packages leave
// state untouched; an evaluated package is recorded as the last foreground
// package whatever the decision.
func (e *Engine) Tick(ctx context.Context, state *EnforcementState, now time.Time) TickResult {
	if state.rollover(now) {
		e.logger.Info("new day, debounce memory cleared")
	}

	pkg, _, err := e.aggregator.foreground(ctx, now)
	if err != nil {
		return TickResult{Outcome: OutcomeSourceUnavailable, Err: err}
	}
	if pkg == "" {
		return TickResult{Outcome: OutcomeIdle}
	}
	if pkg == e.config.SelfPackage {
		return TickResult{Outcome: OutcomeSelf, Package: pkg}
	}

	limit, err := e.limits.GetLimit(ctx, pkg)
	if errors.Is(err, domain.ErrNotFound) {
		return TickResult{Outcome: OutcomeUnmonitored, Package: pkg}
	}
	if err != nil {
		return TickResult{Outcome: OutcomeRegistryError, Package: pkg, Err: err}
	}
	if !limit.Enabled {
		return TickResult{Outcome: OutcomeUnmonitored, Package: pkg}
	}

	whitelisted, err := e.whitelist.IsWhitelisted(ctx, pkg)
	if err != nil {
		return TickResult{Outcome: OutcomeRegistryError, Package: pkg, Err: err}
	}
	if whitelisted {
		return TickResult{Outcome: OutcomeWhitelisted, Package: pkg}
	}

	used, err := e.aggregator.usedToday(ctx, pkg, now)
	if err != nil {
		return TickResult{Outcome: OutcomeSourceUnavailable, Package: pkg, Err: err}
	}

	result := TickResult{
		Outcome:        OutcomeEvaluated,
		Package:        pkg,
		DisplayName:    limit.Name(),
		Classification: e.classifier.Classify(used, limit.DailyLimitMinutes),
		Action:         domain.ActionNone,
		Used:           used,
		LimitMinutes:   limit.DailyLimitMinutes,
	}

	result.Action = e.decide(state, pkg, result.Classification, now)
	state.LastForegroundPackage = pkg

	switch result.Action {
	case domain.ActionBlock:
		result.DispatchErr = e.dispatcher.DispatchBlock(ctx, pkg, result.DisplayName, limit.DailyLimitMinutes)
	case domain.ActionWarn:
		remaining := policy.RemainingMinutes(used, limit.DailyLimitMinutes)
		result.DispatchErr = e.dispatcher.DispatchWarning(ctx, pkg, result.DisplayName, remaining)
	}

	if result.Action != domain.ActionNone {
		status := "ok"
		if result.DispatchErr != nil {
			status = "error"
			e.logger.Warn("dispatch failed",
				zap.String("package", pkg),
				zap.String("action", string(result.Action)),
				zap.Error(result.DispatchErr))
		}
		metrics.Dispatches.WithLabelValues(string(result.Action), status).Inc()
	}

	return result
}

// decide applies the debounce rules and updates state before any dispatch,
// so a failed dispatch still honors the cooldown.
func (e *Engine) decide(state *EnforcementState, pkg string, class domain.Classification, now time.Time) domain.Action {
	switch class {
	case domain.ClassOver:
		last, blocked := state.LastBlockedAt[pkg]
		changed := state.LastForegroundPackage != pkg
		if !blocked || changed || now.Sub(last) >= e.config.BlockCooldown {
			state.LastBlockedAt[pkg] = now
			delete(state.WarnedPackages, pkg)
			return domain.ActionBlock
		}

	case domain.ClassWarning:
		last := state.LastWarnedAt[pkg]
		if !state.IsWarned(pkg) || now.Sub(last) >= e.config.WarnCooldown {
			state.WarnedPackages[pkg] = struct{}{}
			state.LastWarnedAt[pkg] = now
			return domain.ActionWarn
		}
	}
	return domain.ActionNone
}
