package infra

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// errNoFrontmost means the platform cannot tell which window has focus.
var errNoFrontmost = errors.New("frontmost window unavailable")

// outputRunner runs an external program and returns its stdout.
type outputRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// frontmostFunc returns the PID owning the focused window.
type frontmostFunc func(ctx context.Context) (int32, error)

const darwinFrontmostScript = `tell application "System Events" to get unix id of first process whose frontmost is true`

// platformFrontmost returns the focus query for goos, or nil where there is none.
// Linux needs X11 and xdotool; on Wayland the query fails and callers fall back.
func platformFrontmost(goos string, run outputRunner) frontmostFunc {
	var name string
	var args []string
	switch goos {
	case "darwin":
		name, args = "osascript", []string{"-e", darwinFrontmostScript}
	case "linux":
		name, args = "xdotool", []string{"getactivewindow", "getwindowpid"}
	default:
		return nil
	}
	return func(ctx context.Context) (int32, error) {
		out, err := run(ctx, name, args...)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", errNoFrontmost, err)
		}
		return parsePID(out)
	}
}

func parsePID(out []byte) (int32, error) {
	s := strings.TrimSpace(string(out))
	pid, err := strconv.ParseInt(s, 10, 32)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: unexpected pid %q", errNoFrontmost, s)
	}
	return int32(pid), nil
}
