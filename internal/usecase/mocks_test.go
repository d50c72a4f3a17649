package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
)

// fakeSource implements domain.UsageSource for testing
type fakeSource struct {
	mu          sync.Mutex
	foreground  []domain.ForegroundRecord
	usage       map[string]time.Duration
	fgErr       error
	usageErr    error
	stall       bool
	usageCalls  int
	lastStart   time.Time
	lastEnd     time.Time
	windowCalls []time.Duration
}

func newFakeSource() *fakeSource {
	return &fakeSource{usage: make(map[string]time.Duration)}
}

func (f *fakeSource) setForeground(pkg string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pkg == "" {
		f.foreground = nil
		return
	}
	f.foreground = []domain.ForegroundRecord{{PackageID: pkg, LastUsedAt: at}}
}

func (f *fakeSource) setUsage(pkg string, used time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage[pkg] = used
}

func (f *fakeSource) QueryForegroundInterval(ctx context.Context, start, end time.Time) ([]domain.ForegroundRecord, error) {
	if f.stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fgErr != nil {
		return nil, f.fgErr
	}
	out := make([]domain.ForegroundRecord, 0, len(f.foreground))
	for _, r := range f.foreground {
		if !r.LastUsedAt.Before(start) && !r.LastUsedAt.After(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) QueryDailyUsage(ctx context.Context, pkg string, start, end time.Time) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usageCalls++
	f.lastStart, f.lastEnd = start, end
	f.windowCalls = append(f.windowCalls, end.Sub(start))
	if f.usageErr != nil {
		return 0, f.usageErr
	}
	return f.usage[pkg], nil
}

// fakeRegistry implements domain.LimitRegistry and domain.WhitelistRegistry for testing
type fakeRegistry struct {
	mu             sync.Mutex
	limits         map[string]domain.AppLimit
	whitelist      map[string]domain.WhitelistEntry
	limitErr       error
	whitelistErr   error
	whitelistCalls int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		limits:    make(map[string]domain.AppLimit),
		whitelist: make(map[string]domain.WhitelistEntry),
	}
}

func (r *fakeRegistry) GetLimit(ctx context.Context, pkg string) (*domain.AppLimit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limitErr != nil {
		return nil, r.limitErr
	}
	l, ok := r.limits[pkg]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &l, nil
}

func (r *fakeRegistry) ListLimits(ctx context.Context) ([]domain.AppLimit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limitErr != nil {
		return nil, r.limitErr
	}
	out := make([]domain.AppLimit, 0, len(r.limits))
	for _, l := range r.limits {
		out = append(out, l)
	}
	return out, nil
}

func (r *fakeRegistry) UpsertLimit(ctx context.Context, limit domain.AppLimit) error {
	if err := limit.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits[limit.PackageID] = limit
	return nil
}

func (r *fakeRegistry) SetLimitEnabled(ctx context.Context, pkg string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limits[pkg]
	if !ok {
		return domain.ErrNotFound
	}
	l.Enabled = enabled
	r.limits[pkg] = l
	return nil
}

func (r *fakeRegistry) DeleteLimit(ctx context.Context, pkg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limits, pkg)
	return nil
}

func (r *fakeRegistry) IsWhitelisted(ctx context.Context, pkg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.whitelistCalls++
	if r.whitelistErr != nil {
		return false, r.whitelistErr
	}
	_, ok := r.whitelist[pkg]
	return ok, nil
}

func (r *fakeRegistry) GetWhitelistEntry(ctx context.Context, pkg string) (*domain.WhitelistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.whitelist[pkg]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (r *fakeRegistry) ListWhitelist(ctx context.Context) ([]domain.WhitelistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.WhitelistEntry, 0, len(r.whitelist))
	for _, e := range r.whitelist {
		out = append(out, e)
	}
	return out, nil
}

func (r *fakeRegistry) AddWhitelist(ctx context.Context, entry domain.WhitelistEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.whitelist[entry.PackageID] = entry
	return nil
}

func (r *fakeRegistry) RemoveWhitelist(ctx context.Context, pkg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.whitelist, pkg)
	return nil
}

func (r *fakeRegistry) addLimit(pkg, name string, minutes int, enabled bool) {
	r.limits[pkg] = domain.AppLimit{PackageID: pkg, DisplayName: name, DailyLimitMinutes: minutes, Enabled: enabled}
}

// mockDispatcher implements domain.ActionDispatcher for testing
type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) DispatchBlock(ctx context.Context, pkg, displayName string, limitMinutes int) error {
	args := m.Called(ctx, pkg, displayName, limitMinutes)
	return args.Error(0)
}

func (m *mockDispatcher) DispatchWarning(ctx context.Context, pkg, displayName string, remainingMinutes int) error {
	args := m.Called(ctx, pkg, displayName, remainingMinutes)
	return args.Error(0)
}

// fixedClock implements domain.Clock for testing
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

// mockProbe implements domain.ForegroundProbe for testing
type mockProbe struct {
	pkg        string
	err        error
	candidates []string
}

func (p *mockProbe) Foreground(ctx context.Context, candidates []string) (string, error) {
	p.candidates = candidates
	return p.pkg, p.err
}

// memoryLog implements domain.UsageLog for testing
type memoryLog struct {
	samples  []recordedSample
	err      error
	prunedAt time.Time
}

type recordedSample struct {
	pkg      string
	at       time.Time
	credited time.Duration
}

func (l *memoryLog) RecordSample(ctx context.Context, pkg string, at time.Time, credited time.Duration) error {
	if l.err != nil {
		return l.err
	}
	l.samples = append(l.samples, recordedSample{pkg: pkg, at: at, credited: credited})
	return nil
}

func (l *memoryLog) PruneSamples(ctx context.Context, before time.Time) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	l.prunedAt = before
	kept := l.samples[:0]
	removed := 0
	for _, s := range l.samples {
		if s.at.Before(before) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	l.samples = kept
	return removed, nil
}

var errBoom = errors.New("boom")

var (
	_ domain.UsageSource       = (*fakeSource)(nil)
	_ domain.LimitRegistry     = (*fakeRegistry)(nil)
	_ domain.WhitelistRegistry = (*fakeRegistry)(nil)
	_ domain.ActionDispatcher  = (*mockDispatcher)(nil)
	_ domain.ForegroundProbe   = (*mockProbe)(nil)
	_ domain.UsageLog          = (*memoryLog)(nil)
)
