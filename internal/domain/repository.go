package domain

import (
	"context"
	"time"
)

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// ForegroundProbe reports which of the candidate packages is in use right now.
// An empty result means none of them is.
type ForegroundProbe interface {
	Foreground(ctx context.Context, candidates []string) (string, error)
}

// UsageSource answers retrospective foreground queries.
// Implementations may be slow or stale; callers bound them with a context.
type UsageSource interface {
	// QueryForegroundInterval returns the packages seen in the foreground
	// during [start, end] with their last-used time.
	QueryForegroundInterval(ctx context.Context, start, end time.Time) ([]ForegroundRecord, error)

	// QueryDailyUsage returns total foreground time of pkg within [start, end].
	QueryDailyUsage(ctx context.Context, pkg string, start, end time.Time) (time.Duration, error)
}

// UsageLog is the write side of the desktop usage source.
type UsageLog interface {
	// RecordSample credits pkg with the given foreground time at sample time at.
	RecordSample(ctx context.Context, pkg string, at time.Time, credited time.Duration) error

	// PruneSamples removes samples taken before the cutoff.
	PruneSamples(ctx context.Context, before time.Time) (int, error)
}

// LimitRegistry stores per-application daily limits.
// GetLimit is the hot path and must be a keyed lookup.
type LimitRegistry interface {
	GetLimit(ctx context.Context, pkg string) (*AppLimit, error)
	ListLimits(ctx context.Context) ([]AppLimit, error)
	UpsertLimit(ctx context.Context, limit AppLimit) error
	SetLimitEnabled(ctx context.Context, pkg string, enabled bool) error
	DeleteLimit(ctx context.Context, pkg string) error
}

// WhitelistRegistry stores applications exempt from enforcement.
type WhitelistRegistry interface {
	IsWhitelisted(ctx context.Context, pkg string) (bool, error)
	GetWhitelistEntry(ctx context.Context, pkg string) (*WhitelistEntry, error)
	ListWhitelist(ctx context.Context) ([]WhitelistEntry, error)
	AddWhitelist(ctx context.Context, entry WhitelistEntry) error
	RemoveWhitelist(ctx context.Context, pkg string) error
}

// DaemonRegistry records the running watcher for the status command.
type DaemonRegistry interface {
	// Register saves the daemon's PID and name.
	Register(daemon Daemon) error

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat(role DaemonRole) error

	// GetAll returns the registry state, or nil when no daemon registered.
	GetAll() (*RegistryEntry, error)

	// Clear removes daemon state (for clean restart).
	Clear() error

	// GetRegistryPath returns the backing file path.
	GetRegistryPath() string
}

// Store bundles every persistent registry behind one handle.
type Store interface {
	LimitRegistry
	WhitelistRegistry
	UsageSource
	UsageLog
	DaemonRegistry
	Close() error
}

// ActionDispatcher renders enforcement decisions to the user.
// The engine only decides that an interruption is due; how it is shown is
// up to the implementation.
type ActionDispatcher interface {
	DispatchBlock(ctx context.Context, pkg, displayName string, limitMinutes int) error
	DispatchWarning(ctx context.Context, pkg, displayName string, remainingMinutes int) error
}

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// Clock provides time information.
// This interface allows time to be mocked in tests.
type Clock interface {
	Now() time.Time
}

// RealClock provides actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}
