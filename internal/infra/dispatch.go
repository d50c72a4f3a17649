package infra

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
)

// Dispatch modes accepted by NewDispatcher.
const (
	DispatchKill   = "kill"
	DispatchNotify = "notify"
	DispatchLog    = "log"
)

const notifyTitle = "usagemon"

// DefaultKillGrace is how long after a kill an empty process lookup still
// counts as the app being interrupted.
const DefaultKillGrace = 30 * time.Second

func blockMessage(displayName string, limitMinutes int) string {
	if limitMinutes == 1 {
		return fmt.Sprintf("%s reached its daily limit of 1 minute.", displayName)
	}
	return fmt.Sprintf("%s reached its daily limit of %d minutes.", displayName, limitMinutes)
}

func warningMessage(displayName string, remainingMinutes int) string {
	if remainingMinutes == 1 {
		return fmt.Sprintf("%s: 1 minute left today.", displayName)
	}
	return fmt.Sprintf("%s: %d minutes left today.", displayName, remainingMinutes)
}

// LogDispatcher only logs; used for dry runs.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher creates a log-only dispatcher.
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// DispatchBlock logs the block.
func (d *LogDispatcher) DispatchBlock(ctx context.Context, pkg, displayName string, limitMinutes int) error {
	d.logger.Info("BLOCK",
		zap.String("package", pkg),
		zap.String("name", displayName),
		zap.Int("limit_minutes", limitMinutes))
	return nil
}

// DispatchWarning logs the warning.
func (d *LogDispatcher) DispatchWarning(ctx context.Context, pkg, displayName string, remainingMinutes int) error {
	d.logger.Info("WARN",
		zap.String("package", pkg),
		zap.String("name", displayName),
		zap.Int("remaining_minutes", remainingMinutes))
	return nil
}

// NotifyDispatcher renders both actions as desktop notifications.
type NotifyDispatcher struct {
	notifier domain.Notifier
}

// NewNotifyDispatcher creates a notification dispatcher.
func NewNotifyDispatcher(notifier domain.Notifier) *NotifyDispatcher {
	return &NotifyDispatcher{notifier: notifier}
}

// DispatchBlock tells the user the limit is used up.
func (d *NotifyDispatcher) DispatchBlock(ctx context.Context, pkg, displayName string, limitMinutes int) error {
	return d.notifier.Notify(ctx, notifyTitle, blockMessage(displayName, limitMinutes))
}

// DispatchWarning tells the user how many minutes are left.
func (d *NotifyDispatcher) DispatchWarning(ctx context.Context, pkg, displayName string, remainingMinutes int) error {
	return d.notifier.Notify(ctx, notifyTitle, warningMessage(displayName, remainingMinutes))
}

// KillDispatcher interrupts a blocked app by terminating its processes and
// warns through the notifier.
// A package killed within the grace period that has no process left is
// already interrupted: the block succeeds without a second notification.
type KillDispatcher struct {
	pm       domain.ProcessManager
	notifier domain.Notifier
	logger   *zap.Logger
	grace    time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastKill map[string]time.Time
}

// NewKillDispatcher creates a process-killing dispatcher.
func NewKillDispatcher(pm domain.ProcessManager, notifier domain.Notifier, logger *zap.Logger) *KillDispatcher {
	return &KillDispatcher{
		pm:       pm,
		notifier: notifier,
		logger:   logger,
		grace:    DefaultKillGrace,
		now:      time.Now,
		lastKill: make(map[string]time.Time),
	}
}

// DispatchBlock kills every process named pkg. Returns domain.ErrNoProcess
// when none is running and pkg was not killed within the grace period.
func (d *KillDispatcher) DispatchBlock(ctx context.Context, pkg, displayName string, limitMinutes int) error {
	pids, err := d.pm.FindByName(pkg)
	if err != nil {
		return fmt.Errorf("find %s processes: %w", pkg, err)
	}

	self := d.pm.GetCurrentPID()
	var errs []error
	killed := 0
	for _, pid := range pids {
		if pid == self {
			continue
		}
		if err := d.pm.Kill(pid); err != nil {
			errs = append(errs, fmt.Errorf("kill %s (pid %d): %w", pkg, pid, err))
			continue
		}
		killed++
		d.logger.Info("killed process",
			zap.String("package", pkg),
			zap.Int("pid", pid))
	}
	if killed == 0 && len(errs) == 0 {
		if d.killedRecently(pkg) {
			d.logger.Debug("block skipped, already interrupted", zap.String("package", pkg))
			return nil
		}
		return fmt.Errorf("%w: %s", domain.ErrNoProcess, pkg)
	}
	if killed > 0 {
		d.markKilled(pkg)
	}

	if err := d.notifier.Notify(ctx, notifyTitle, blockMessage(displayName, limitMinutes)); err != nil {
		d.logger.Debug("block notification failed", zap.Error(err))
	}
	return errors.Join(errs...)
}

func (d *KillDispatcher) killedRecently(pkg string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.lastKill[pkg]
	return ok && d.now().Sub(at) < d.grace
}

func (d *KillDispatcher) markKilled(pkg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastKill[pkg] = d.now()
}

// DispatchWarning notifies; warnings never kill.
func (d *KillDispatcher) DispatchWarning(ctx context.Context, pkg, displayName string, remainingMinutes int) error {
	return d.notifier.Notify(ctx, notifyTitle, warningMessage(displayName, remainingMinutes))
}

// FallbackDispatcher tries primary and, when it fails, surfaces the event
// through fallback so the user still sees it.
type FallbackDispatcher struct {
	primary  domain.ActionDispatcher
	fallback domain.ActionDispatcher
	logger   *zap.Logger
}

// NewFallbackDispatcher chains primary and fallback.
func NewFallbackDispatcher(primary, fallback domain.ActionDispatcher, logger *zap.Logger) *FallbackDispatcher {
	return &FallbackDispatcher{primary: primary, fallback: fallback, logger: logger}
}

// DispatchBlock blocks through primary, then fallback on failure.
func (d *FallbackDispatcher) DispatchBlock(ctx context.Context, pkg, displayName string, limitMinutes int) error {
	err := d.primary.DispatchBlock(ctx, pkg, displayName, limitMinutes)
	if err == nil {
		return nil
	}
	d.logger.Warn("primary block dispatch failed, falling back",
		zap.String("package", pkg),
		zap.Error(err))
	return errors.Join(err, d.fallback.DispatchBlock(ctx, pkg, displayName, limitMinutes))
}

// DispatchWarning warns through primary, then fallback on failure.
func (d *FallbackDispatcher) DispatchWarning(ctx context.Context, pkg, displayName string, remainingMinutes int) error {
	err := d.primary.DispatchWarning(ctx, pkg, displayName, remainingMinutes)
	if err == nil {
		return nil
	}
	d.logger.Warn("primary warning dispatch failed, falling back",
		zap.String("package", pkg),
		zap.Error(err))
	return errors.Join(err, d.fallback.DispatchWarning(ctx, pkg, displayName, remainingMinutes))
}

// NewDispatcher builds the dispatcher chain for mode.
//
//	kill   -> kill processes, notification fallback
//	notify -> notification, log fallback
//	log    -> log only
func NewDispatcher(mode string, pm domain.ProcessManager, notifier domain.Notifier, logger *zap.Logger) (domain.ActionDispatcher, error) {
	logOnly := NewLogDispatcher(logger)
	switch mode {
	case DispatchKill, "":
		return NewFallbackDispatcher(NewKillDispatcher(pm, notifier, logger), NewNotifyDispatcher(notifier), logger), nil
	case DispatchNotify:
		return NewFallbackDispatcher(NewNotifyDispatcher(notifier), logOnly, logger), nil
	case DispatchLog:
		return logOnly, nil
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q", mode)
	}
}

var (
	_ domain.ActionDispatcher = (*LogDispatcher)(nil)
	_ domain.ActionDispatcher = (*NotifyDispatcher)(nil)
	_ domain.ActionDispatcher = (*KillDispatcher)(nil)
	_ domain.ActionDispatcher = (*FallbackDispatcher)(nil)
)
