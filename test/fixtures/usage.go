// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
)

// ScriptedProbe reports a foreground app chosen by the test.
type ScriptedProbe struct {
	mu      sync.Mutex
	current string
}

// NewScriptedProbe returns a probe with nothing in the foreground.
func NewScriptedProbe() *ScriptedProbe {
	return &ScriptedProbe{}
}

// Use brings pkg to the foreground; "" means no app is in use.
func (p *ScriptedProbe) Use(pkg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = pkg
}

// Foreground returns the current app when it is one of the candidates.
func (p *ScriptedProbe) Foreground(ctx context.Context, candidates []string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range candidates {
		if c == p.current {
			return c, nil
		}
	}
	return "", nil
}

// Event is one dispatched interruption.
type Event struct {
	Action  domain.Action
	Package string
	Minutes int
}

// RecordingDispatcher keeps every dispatched event in order.
type RecordingDispatcher struct {
	mu     sync.Mutex
	events []Event
}

func (d *RecordingDispatcher) DispatchBlock(ctx context.Context, pkg, displayName string, limitMinutes int) error {
	d.record(Event{Action: domain.ActionBlock, Package: pkg, Minutes: limitMinutes})
	return nil
}

func (d *RecordingDispatcher) DispatchWarning(ctx context.Context, pkg, displayName string, remainingMinutes int) error {
	d.record(Event{Action: domain.ActionWarn, Package: pkg, Minutes: remainingMinutes})
	return nil
}

func (d *RecordingDispatcher) record(e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
}

// Events returns a copy of the recorded events.
func (d *RecordingDispatcher) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

// Actions returns the recorded actions in order.
func (d *RecordingDispatcher) Actions() []domain.Action {
	var actions []domain.Action
	for _, e := range d.Events() {
		actions = append(actions, e.Action)
	}
	return actions
}

// StepClock is a manually advanced clock.
type StepClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStepClock starts the clock at start.
func NewStepClock(start time.Time) *StepClock {
	return &StepClock{now: start}
}

func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *StepClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// FakeProcesses is an in-memory process table. The focused app is whichever
// running candidate was started last, and killing it takes it off screen.
type FakeProcesses struct {
	mu      sync.Mutex
	nextPID int
	names   map[int]string
	order   []int
	killed  []int
}

// NewFakeProcesses returns an empty process table.
func NewFakeProcesses() *FakeProcesses {
	return &FakeProcesses{nextPID: 1000, names: make(map[int]string)}
}

// Start launches a process named name and returns its PID.
func (f *FakeProcesses) Start(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPID++
	f.names[f.nextPID] = name
	f.order = append(f.order, f.nextPID)
	return f.nextPID
}

func (f *FakeProcesses) FindByName(name string) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pids []int
	for _, pid := range f.order {
		if n, ok := f.names[pid]; ok && strings.EqualFold(n, name) {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

func (f *FakeProcesses) Kill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.names, pid)
	f.killed = append(f.killed, pid)
	return nil
}

func (f *FakeProcesses) IsRunning(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.names[pid]
	return ok
}

func (f *FakeProcesses) GetCurrentPID() int { return os.Getpid() }

// Foreground returns the most recently started running candidate.
func (f *FakeProcesses) Foreground(ctx context.Context, candidates []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.order) - 1; i >= 0; i-- {
		name, ok := f.names[f.order[i]]
		if !ok {
			continue
		}
		for _, c := range candidates {
			if strings.EqualFold(c, name) {
				return c, nil
			}
		}
	}
	return "", nil
}

// Killed returns the PIDs killed so far.
func (f *FakeProcesses) Killed() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.killed...)
}

// RecordingNotifier keeps every notification body.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *RecordingNotifier) Notify(ctx context.Context, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, body)
	return nil
}

// Sent returns the notification bodies in order.
func (n *RecordingNotifier) Sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

var (
	_ domain.ProcessManager   = (*FakeProcesses)(nil)
	_ domain.ForegroundProbe  = (*FakeProcesses)(nil)
	_ domain.Notifier         = (*RecordingNotifier)(nil)
	_ domain.ForegroundProbe  = (*ScriptedProbe)(nil)
	_ domain.ActionDispatcher = (*RecordingDispatcher)(nil)
	_ domain.Clock            = (*StepClock)(nil)
)
