package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
)

// daemonArgs builds the hidden "daemon" invocation.
func daemonArgs(configPath string) []string {
	args := []string{"daemon"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return args
}

// StartDaemon spawns `usagemon daemon` detached from the calling terminal.
func StartDaemon(configPath string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	return StartDaemonWithPath(executable, configPath)
}

// StartDaemonWithPath spawns the daemon from a specific binary.
func StartDaemonWithPath(binaryPath, configPath string) error {
	cmd := exec.Command(binaryPath, daemonArgs(configPath)...)

	// New session: the daemon outlives the shell that started it.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	// No stdin/stdout/stderr - fully detached; the daemon logs to its file.
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	return cmd.Process.Release()
}

// RunningWatcher returns the registered watcher when its PID is alive.
func RunningWatcher(registry domain.DaemonRegistry, pm domain.ProcessManager) (*domain.RegistryEntry, bool, error) {
	entry, err := registry.GetAll()
	if err != nil {
		return nil, false, fmt.Errorf("read daemon registry: %w", err)
	}
	if entry == nil || entry.WatcherPID == 0 {
		return entry, false, nil
	}
	return entry, pm.IsRunning(entry.WatcherPID), nil
}
