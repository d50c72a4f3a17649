package daemon

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
	"github.com/eliteGoblin/focusd/usagemon/internal/usecase"
)

// fakeEngine records every tick it is asked to run
type fakeEngine struct {
	mu       sync.Mutex
	states   []*usecase.EnforcementState
	budgets  []time.Duration
	block    bool
	result   usecase.TickResult
	sampled  *fakeSampler
	sawFirst bool
}

func (e *fakeEngine) Tick(ctx context.Context, state *usecase.EnforcementState, now time.Time) usecase.TickResult {
	e.mu.Lock()
	e.states = append(e.states, state)
	if deadline, ok := ctx.Deadline(); ok {
		e.budgets = append(e.budgets, time.Until(deadline))
	}
	if len(e.states) == 1 && e.sampled != nil {
		e.sawFirst = e.sampled.count() > 0
	}
	block := e.block
	result := e.result
	e.mu.Unlock()

	if block {
		<-ctx.Done()
		return usecase.TickResult{Outcome: usecase.OutcomeSourceUnavailable, Err: ctx.Err()}
	}
	return result
}

func (e *fakeEngine) ticks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}

// fakeSampler counts sample and prune calls
type fakeSampler struct {
	mu        sync.Mutex
	samples   int
	prunes    int
	retention time.Duration
	err       error
}

func (s *fakeSampler) Sample(ctx context.Context, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples++
	return "steam", s.err
}

func (s *fakeSampler) Prune(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prunes++
	s.retention = retention
	return 0, s.err
}

func (s *fakeSampler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

// mockDaemonRegistry is a test double for domain.DaemonRegistry
type mockDaemonRegistry struct {
	mu          sync.Mutex
	entry       *domain.RegistryEntry
	registerErr error
	getErr      error
	heartbeats  int
}

func (m *mockDaemonRegistry) Register(daemon domain.Daemon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registerErr != nil {
		return m.registerErr
	}
	m.entry = &domain.RegistryEntry{
		WatcherPID:    daemon.PID,
		WatcherName:   daemon.Name,
		StartedAt:     daemon.StartedAt.Unix(),
		LastHeartbeat: time.Now().Unix(),
		AppVersion:    daemon.AppVersion,
	}
	return nil
}

func (m *mockDaemonRegistry) UpdateHeartbeat(role domain.DaemonRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats++
	return nil
}

func (m *mockDaemonRegistry) GetAll() (*domain.RegistryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entry, m.getErr
}

func (m *mockDaemonRegistry) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry = nil
	return nil
}

func (m *mockDaemonRegistry) GetRegistryPath() string {
	return "/tmp/mock-registry"
}

// mockProcessManager is a test double for domain.ProcessManager
type mockProcessManager struct {
	running map[int]bool
}

func (m *mockProcessManager) FindByName(name string) ([]int, error) { return nil, nil }
func (m *mockProcessManager) Kill(pid int) error                    { return nil }
func (m *mockProcessManager) IsRunning(pid int) bool                { return m.running[pid] }
func (m *mockProcessManager) GetCurrentPID() int                    { return os.Getpid() }

var (
	_ TickEngine            = (*fakeEngine)(nil)
	_ UsageSampler          = (*fakeSampler)(nil)
	_ domain.DaemonRegistry = (*mockDaemonRegistry)(nil)
	_ domain.ProcessManager = (*mockProcessManager)(nil)
)
