// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"math"
	"time"
)

// UnboundedMinutes is returned as "remaining minutes" for a package that has no
// enabled limit (or is whitelisted).
const UnboundedMinutes = math.MaxInt

// MaxDailyLimitMinutes caps a daily budget at one full day.
const MaxDailyLimitMinutes = 24 * 60

// DaemonRole identifies the type of daemon process.
type DaemonRole string

const (
	RoleWatcher DaemonRole = "watcher"
)

// Daemon represents a running daemon process.
type Daemon struct {
	PID        int
	Role       DaemonRole
	Name       string
	StartedAt  time.Time
	AppVersion string // Version of the app binary
}

// RegistryEntry is the persisted daemon state shown by the status command.
type RegistryEntry struct {
	WatcherPID    int
	WatcherName   string
	StartedAt     int64
	LastHeartbeat int64
	AppVersion    string
}

// AppLimit is a self-imposed daily budget for one application.
type AppLimit struct {
	PackageID         string `json:"package_id" msgpack:"package_id"`
	DisplayName       string `json:"display_name" msgpack:"display_name"`
	DailyLimitMinutes int    `json:"daily_limit_minutes" msgpack:"daily_limit_minutes"`
	Enabled           bool   `json:"enabled" msgpack:"enabled"`
}

// Validate checks the invariants every stored limit must hold.
func (l AppLimit) Validate() error {
	if l.PackageID == "" {
		return fmt.Errorf("%w: package id is required", ErrInvalidLimit)
	}
	if l.DailyLimitMinutes < 1 {
		return fmt.Errorf("%w: daily limit must be at least 1 minute, got %d", ErrInvalidLimit, l.DailyLimitMinutes)
	}
	if l.DailyLimitMinutes > MaxDailyLimitMinutes {
		return fmt.Errorf("%w: daily limit cannot exceed %d minutes, got %d", ErrInvalidLimit, MaxDailyLimitMinutes, l.DailyLimitMinutes)
	}
	return nil
}

// Name returns the display name, falling back to the package id.
func (l AppLimit) Name() string {
	if l.DisplayName != "" {
		return l.DisplayName
	}
	return l.PackageID
}

// LimitDuration returns the daily limit as a duration.
func (l AppLimit) LimitDuration() time.Duration {
	return time.Duration(l.DailyLimitMinutes) * time.Minute
}

// WhitelistEntry exempts an application from all enforcement.
type WhitelistEntry struct {
	PackageID   string `json:"package_id" msgpack:"package_id"`
	DisplayName string `json:"display_name" msgpack:"display_name"`
	Reason      string `json:"reason" msgpack:"reason"`
}

// ForegroundRecord is one row returned by a foreground interval query.
type ForegroundRecord struct {
	PackageID  string
	LastUsedAt time.Time
}

// UsageSnapshot is derived from the usage source per call and never persisted.
type UsageSnapshot struct {
	PackageID            string
	TotalForegroundToday time.Duration
	LastForegroundAt     time.Time
}

// Classification is the per-tick bucket of a monitored package.
type Classification string

const (
	ClassUnder   Classification = "under"
	ClassWarning Classification = "warning"
	ClassOver    Classification = "over"
)

// Action is what the engine decided to dispatch during a tick.
type Action string

const (
	ActionNone  Action = "none"
	ActionWarn  Action = "warn"
	ActionBlock Action = "block"
)

// LimitsSummary aggregates the limit registry for display.
// Average and total are computed over enabled limits.
type LimitsSummary struct {
	TotalApps         int
	EnabledApps       int
	OverLimitApps     int
	AvgLimitMinutes   float64
	TotalLimitMinutes int
}
