package infra

import (
	"context"
	"fmt"

	"github.com/gen2brain/beeep"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
)

// notifyFunc shows one notification.
type notifyFunc func(title, body string) error

func beeepNotify(title, body string) error {
	return beeep.Notify(title, body, "")
}

// DesktopNotifier shows desktop notifications through beeep: D-Bus with a
// notify-send fallback on Linux, the notification center on macOS.
type DesktopNotifier struct {
	notify notifyFunc
}

// NewDesktopNotifier creates a notifier for the running platform.
func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{notify: beeepNotify}
}

// Notify displays title and body. beeep calls cannot be canceled, so ctx is
// only checked before the call.
func (n *DesktopNotifier) Notify(ctx context.Context, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.notify(title, body); err != nil {
		return fmt.Errorf("desktop notification: %w", err)
	}
	return nil
}

var _ domain.Notifier = (*DesktopNotifier)(nil)
