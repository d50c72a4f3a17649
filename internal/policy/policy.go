// Package policy holds the rules that turn measured usage into a classification.
package policy

import (
	"time"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
)

// DefaultWarnPercent is the usage share at which a package enters WARNING.
const DefaultWarnPercent = 80

// Classifier buckets usage against a daily limit.
type Classifier struct {
	WarnPercent int
}

// NewClassifier creates a classifier; a non-positive percent falls back to the default.
func NewClassifier(warnPercent int) Classifier {
	if warnPercent <= 0 || warnPercent >= 100 {
		warnPercent = DefaultWarnPercent
	}
	return Classifier{WarnPercent: warnPercent}
}

// Classify returns OVER, WARNING or UNDER. OVER is checked first, so a
// package at or above its limit is never also WARNING.
func (c Classifier) Classify(used time.Duration, limitMinutes int) domain.Classification {
	if limitMinutes <= 0 {
		return domain.ClassUnder
	}
	// Compared in float64: limit*percent in nanoseconds overflows int64 for
	// limits far beyond a day.
	limit := float64(limitMinutes) * float64(time.Minute)
	u := float64(used)
	if u >= limit {
		return domain.ClassOver
	}
	if u*100 >= limit*float64(c.WarnPercent) {
		return domain.ClassWarning
	}
	return domain.ClassUnder
}

// UsagePercent returns used as a percentage of the limit, unclamped.
func UsagePercent(used time.Duration, limitMinutes int) float64 {
	if limitMinutes <= 0 {
		return 0
	}
	return float64(used) * 100 / (float64(limitMinutes) * float64(time.Minute))
}

// Progress returns used/limit clamped to [0,1].
func Progress(used time.Duration, limitMinutes int) float64 {
	p := UsagePercent(used, limitMinutes) / 100
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// RemainingMinutes floors at zero. Partial minutes of usage do not count
// against the budget until they complete.
func RemainingMinutes(used time.Duration, limitMinutes int) int {
	remaining := limitMinutes - int(used/time.Minute)
	if remaining < 0 {
		return 0
	}
	return remaining
}
