package policy

import (
	"runtime"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
)

// Reasons attached to seeded whitelist entries.
const (
	ReasonSystem    = "system"
	ReasonEmergency = "emergency"
)

// DefaultWhitelist returns the system and emergency applications seeded into
// a fresh store. Blocking any of these would lock the user out of the machine
// or out of the tool used to adjust limits.
func DefaultWhitelist() []domain.WhitelistEntry {
	return whitelistFor(runtime.GOOS)
}

func whitelistFor(goos string) []domain.WhitelistEntry {
	entries := []domain.WhitelistEntry{
		{PackageID: "usagemon", DisplayName: "usagemon", Reason: ReasonSystem},
	}

	switch goos {
	case "darwin":
		entries = append(entries,
			domain.WhitelistEntry{PackageID: "Finder", DisplayName: "Finder", Reason: ReasonSystem},
			domain.WhitelistEntry{PackageID: "Terminal", DisplayName: "Terminal", Reason: ReasonSystem},
			domain.WhitelistEntry{PackageID: "System Settings", DisplayName: "System Settings", Reason: ReasonSystem},
			domain.WhitelistEntry{PackageID: "FaceTime", DisplayName: "FaceTime", Reason: ReasonEmergency},
		)
	case "linux":
		entries = append(entries,
			domain.WhitelistEntry{PackageID: "gnome-terminal-server", DisplayName: "Terminal", Reason: ReasonSystem},
			domain.WhitelistEntry{PackageID: "konsole", DisplayName: "Konsole", Reason: ReasonSystem},
			domain.WhitelistEntry{PackageID: "gnome-control-center", DisplayName: "Settings", Reason: ReasonSystem},
		)
	}

	return entries
}
