// Package infra implements infrastructure concerns (process, storage, dispatch).
package infra

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"syscall"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// FindByName returns PIDs of processes whose name equals name (case-insensitive).
// Package ids are whole process names, so substrings never match: a limit on
// "go" must not take down "gopls".
func (pm *ProcessManagerImpl) FindByName(name string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var found []int
	for _, p := range procs {
		pname, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		if strings.EqualFold(pname, name) {
			found = append(found, int(p.Pid))
		}
	}
	return found, nil
}

// Kill terminates a process by PID using SIGKILL.
func (pm *ProcessManagerImpl) Kill(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// processTable is the slice of the OS process table the probe reads.
type processTable interface {
	PIDs(ctx context.Context) ([]int32, error)
	CreateTime(ctx context.Context, pid int32) (int64, error)
	Name(ctx context.Context, pid int32) (string, error)
}

type gopsutilTable struct{}

func (gopsutilTable) PIDs(ctx context.Context) ([]int32, error) {
	return process.PidsWithContext(ctx)
}

func (gopsutilTable) CreateTime(ctx context.Context, pid int32) (int64, error) {
	return (&process.Process{Pid: pid}).CreateTimeWithContext(ctx)
}

func (gopsutilTable) Name(ctx context.Context, pid int32) (string, error) {
	return (&process.Process{Pid: pid}).NameWithContext(ctx)
}

// DefaultProcessCacheSize bounds the process name cache.
const DefaultProcessCacheSize = 2048

// procKey identifies one process incarnation; PIDs are reused, creation
// times are not.
type procKey struct {
	pid     int32
	created int64
}

// ProcessProbe implements domain.ForegroundProbe. It asks the window system
// which process owns the focused window; only when that query is unavailable
// does the most recently launched running candidate count as in use.
type ProcessProbe struct {
	table     processTable
	frontmost frontmostFunc
	names     *lru.Cache[procKey, string]
}

// NewProcessProbe creates a probe over the live process table and the
// platform's focus query.
func NewProcessProbe(cacheSize int) (*ProcessProbe, error) {
	p, err := newProcessProbe(gopsutilTable{}, cacheSize)
	if err != nil {
		return nil, err
	}
	p.frontmost = platformFrontmost(runtime.GOOS, execOutput)
	return p, nil
}

func newProcessProbe(table processTable, cacheSize int) (*ProcessProbe, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultProcessCacheSize
	}
	names, err := lru.New[procKey, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create process name cache: %w", err)
	}
	return &ProcessProbe{table: table, names: names}, nil
}

// Foreground returns the candidate owning the focused window, or "" when the
// focused window belongs to anything else. Without a focus query it returns
// the candidate whose newest running process started last; exact ties go to
// the smaller package id.
func (p *ProcessProbe) Foreground(ctx context.Context, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}
	wanted := make(map[string]string, len(candidates))
	for _, c := range candidates {
		wanted[strings.ToLower(c)] = c
	}

	if p.frontmost != nil {
		if pid, err := p.frontmost(ctx); err == nil {
			return p.focused(ctx, pid, wanted), nil
		}
	}
	return p.newestRunning(ctx, wanted)
}

// focused maps the focused PID to a candidate. A process that vanished or
// cannot be named counts as nothing in use.
func (p *ProcessProbe) focused(ctx context.Context, pid int32, wanted map[string]string) string {
	if pid == int32(os.Getpid()) {
		return ""
	}
	created, err := p.table.CreateTime(ctx, pid)
	if err != nil {
		return ""
	}
	name, ok := p.name(ctx, procKey{pid: pid, created: created})
	if !ok {
		return ""
	}
	return wanted[strings.ToLower(name)]
}

func (p *ProcessProbe) newestRunning(ctx context.Context, wanted map[string]string) (string, error) {
	pids, err := p.table.PIDs(ctx)
	if err != nil {
		return "", fmt.Errorf("list processes: %w", err)
	}

	self := int32(os.Getpid())
	var best string
	var bestCreated int64
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if pid == self {
			continue
		}
		created, err := p.table.CreateTime(ctx, pid)
		if err != nil {
			continue // exited between listing and lookup
		}
		name, ok := p.name(ctx, procKey{pid: pid, created: created})
		if !ok {
			continue
		}
		pkg, ok := wanted[strings.ToLower(name)]
		if !ok {
			continue
		}
		if best == "" || created > bestCreated || (created == bestCreated && pkg < best) {
			best, bestCreated = pkg, created
		}
	}
	return best, nil
}

func (p *ProcessProbe) name(ctx context.Context, key procKey) (string, bool) {
	if name, ok := p.names.Get(key); ok {
		return name, true
	}
	name, err := p.table.Name(ctx, key.pid)
	if err != nil {
		return "", false
	}
	p.names.Add(key, name)
	return name, true
}

var (
	_ domain.ProcessManager  = (*ProcessManagerImpl)(nil)
	_ domain.ForegroundProbe = (*ProcessProbe)(nil)
)
