package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
	"github.com/eliteGoblin/focusd/usagemon/internal/policy"
)

// storeFactory opens a fresh store in dataDir. Calling it twice with the same
// directory reopens the same data.
type storeFactory func(t *testing.T, dataDir string) domain.Store

// testStoreContract runs the behavior every domain.Store backend must share.
func testStoreContract(t *testing.T, open storeFactory) {
	ctx := context.Background()
	at := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.Local)

	t.Run("limit crud", func(t *testing.T) {
		s := open(t, t.TempDir())

		_, err := s.GetLimit(ctx, "steam")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		require.NoError(t, s.UpsertLimit(ctx, domain.AppLimit{PackageID: "steam", DisplayName: "Steam", DailyLimitMinutes: 60, Enabled: true}))
		got, err := s.GetLimit(ctx, "steam")
		require.NoError(t, err)
		assert.Equal(t, domain.AppLimit{PackageID: "steam", DisplayName: "Steam", DailyLimitMinutes: 60, Enabled: true}, *got)

		require.NoError(t, s.UpsertLimit(ctx, domain.AppLimit{PackageID: "steam", DisplayName: "Steam", DailyLimitMinutes: 30, Enabled: true}))
		got, err = s.GetLimit(ctx, "steam")
		require.NoError(t, err)
		assert.Equal(t, 30, got.DailyLimitMinutes)

		require.NoError(t, s.SetLimitEnabled(ctx, "steam", false))
		got, err = s.GetLimit(ctx, "steam")
		require.NoError(t, err)
		assert.False(t, got.Enabled)

		require.NoError(t, s.DeleteLimit(ctx, "steam"))
		_, err = s.GetLimit(ctx, "steam")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("missing limit edits report not found", func(t *testing.T) {
		s := open(t, t.TempDir())
		assert.ErrorIs(t, s.SetLimitEnabled(ctx, "ghost", true), domain.ErrNotFound)
		assert.ErrorIs(t, s.DeleteLimit(ctx, "ghost"), domain.ErrNotFound)
	})

	t.Run("invalid limits rejected", func(t *testing.T) {
		s := open(t, t.TempDir())
		for _, l := range []domain.AppLimit{
			{PackageID: "", DailyLimitMinutes: 10},
			{PackageID: "steam", DailyLimitMinutes: 0},
			{PackageID: "steam", DailyLimitMinutes: -5},
			{PackageID: "steam", DailyLimitMinutes: domain.MaxDailyLimitMinutes + 1},
			{PackageID: "steam", DailyLimitMinutes: 2_000_000},
		} {
			assert.ErrorIs(t, s.UpsertLimit(ctx, l), domain.ErrInvalidLimit)
		}
		limits, err := s.ListLimits(ctx)
		require.NoError(t, err)
		assert.Empty(t, limits)
	})

	t.Run("list limits is ordered", func(t *testing.T) {
		s := open(t, t.TempDir())
		for _, pkg := range []string{"zoom", "steam", "discord"} {
			require.NoError(t, s.UpsertLimit(ctx, domain.AppLimit{PackageID: pkg, DailyLimitMinutes: 10, Enabled: true}))
		}
		limits, err := s.ListLimits(ctx)
		require.NoError(t, err)
		require.Len(t, limits, 3)
		assert.Equal(t, []string{"discord", "steam", "zoom"},
			[]string{limits[0].PackageID, limits[1].PackageID, limits[2].PackageID})
	})

	t.Run("whitelist seeded once", func(t *testing.T) {
		dir := t.TempDir()
		s := open(t, dir)

		entries, err := s.ListWhitelist(ctx)
		require.NoError(t, err)
		assert.Len(t, entries, len(policy.DefaultWhitelist()))

		ok, err := s.IsWhitelisted(ctx, "usagemon")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, s.RemoveWhitelist(ctx, "usagemon"))
		require.NoError(t, s.Close())

		reopened := open(t, dir)
		ok, err = reopened.IsWhitelisted(ctx, "usagemon")
		require.NoError(t, err)
		assert.False(t, ok, "user removal must survive reopen")
	})

	t.Run("whitelist crud", func(t *testing.T) {
		s := open(t, t.TempDir())

		require.NoError(t, s.AddWhitelist(ctx, domain.WhitelistEntry{PackageID: "signal", DisplayName: "Signal", Reason: "emergency"}))
		ok, err := s.IsWhitelisted(ctx, "signal")
		require.NoError(t, err)
		assert.True(t, ok)

		e, err := s.GetWhitelistEntry(ctx, "signal")
		require.NoError(t, err)
		assert.Equal(t, "emergency", e.Reason)

		require.NoError(t, s.RemoveWhitelist(ctx, "signal"))
		_, err = s.GetWhitelistEntry(ctx, "signal")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, s.RemoveWhitelist(ctx, "signal"), domain.ErrNotFound)
		assert.Error(t, s.AddWhitelist(ctx, domain.WhitelistEntry{}))
	})

	t.Run("daily usage sums samples in range", func(t *testing.T) {
		s := open(t, t.TempDir())
		require.NoError(t, s.RecordSample(ctx, "steam", at.Add(-2*time.Hour), 2*time.Second))
		require.NoError(t, s.RecordSample(ctx, "steam", at.Add(-time.Hour), 2*time.Second))
		require.NoError(t, s.RecordSample(ctx, "steam", at, 2*time.Second))
		require.NoError(t, s.RecordSample(ctx, "discord", at, 5*time.Second))
		require.NoError(t, s.RecordSample(ctx, "steam", at.Add(-25*time.Hour), time.Hour))

		used, err := s.QueryDailyUsage(ctx, "steam", at.Add(-3*time.Hour), at)
		require.NoError(t, err)
		assert.Equal(t, 6*time.Second, used)

		used, err = s.QueryDailyUsage(ctx, "nothing", at.Add(-3*time.Hour), at)
		require.NoError(t, err)
		assert.Zero(t, used)
	})

	t.Run("foreground interval keeps latest sample per package", func(t *testing.T) {
		s := open(t, t.TempDir())
		require.NoError(t, s.RecordSample(ctx, "steam", at.Add(-8*time.Second), time.Second))
		require.NoError(t, s.RecordSample(ctx, "steam", at.Add(-2*time.Second), time.Second))
		require.NoError(t, s.RecordSample(ctx, "discord", at.Add(-5*time.Second), time.Second))
		require.NoError(t, s.RecordSample(ctx, "old", at.Add(-time.Minute), time.Second))

		records, err := s.QueryForegroundInterval(ctx, at.Add(-10*time.Second), at)
		require.NoError(t, err)

		latest := make(map[string]int64)
		for _, r := range records {
			latest[r.PackageID] = r.LastUsedAt.UnixMilli()
		}
		assert.Equal(t, map[string]int64{
			"steam":   at.Add(-2 * time.Second).UnixMilli(),
			"discord": at.Add(-5 * time.Second).UnixMilli(),
		}, latest)
	})

	t.Run("prune drops old samples", func(t *testing.T) {
		s := open(t, t.TempDir())
		require.NoError(t, s.RecordSample(ctx, "steam", at.Add(-20*24*time.Hour), time.Minute))
		require.NoError(t, s.RecordSample(ctx, "steam", at.Add(-15*24*time.Hour), time.Minute))
		require.NoError(t, s.RecordSample(ctx, "steam", at, time.Minute))

		n, err := s.PruneSamples(ctx, at.Add(-14*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		used, err := s.QueryDailyUsage(ctx, "steam", at.Add(-30*24*time.Hour), at)
		require.NoError(t, err)
		assert.Equal(t, time.Minute, used)
	})

	t.Run("daemon registry", func(t *testing.T) {
		s := open(t, t.TempDir())

		entry, err := s.GetAll()
		require.NoError(t, err)
		assert.Nil(t, entry)
		assert.Error(t, s.UpdateHeartbeat(domain.RoleWatcher), "heartbeat before register")

		started := time.Now().Add(-time.Minute)
		require.NoError(t, s.Register(domain.Daemon{PID: 1111, Role: domain.RoleWatcher, Name: "usagemon", StartedAt: started, AppVersion: "0.1.0"}))
		require.NoError(t, s.Register(domain.Daemon{PID: 2222, Role: domain.RoleWatcher, Name: "usagemon", StartedAt: started, AppVersion: "0.2.0"}))
		require.NoError(t, s.UpdateHeartbeat(domain.RoleWatcher))

		entry, err = s.GetAll()
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, 2222, entry.WatcherPID)
		assert.Equal(t, "usagemon", entry.WatcherName)
		assert.Equal(t, "0.2.0", entry.AppVersion)
		assert.Equal(t, started.Unix(), entry.StartedAt)
		assert.Positive(t, entry.LastHeartbeat)

		require.NoError(t, s.Clear())
		entry, err = s.GetAll()
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("clear keeps limits", func(t *testing.T) {
		s := open(t, t.TempDir())
		require.NoError(t, s.UpsertLimit(ctx, domain.AppLimit{PackageID: "steam", DailyLimitMinutes: 5, Enabled: true}))
		require.NoError(t, s.Register(domain.Daemon{PID: 1, Role: domain.RoleWatcher, Name: "usagemon"}))
		require.NoError(t, s.Clear())

		_, err := s.GetLimit(ctx, "steam")
		assert.NoError(t, err)
	})

	t.Run("data survives reopen", func(t *testing.T) {
		dir := t.TempDir()
		s := open(t, dir)
		require.NoError(t, s.UpsertLimit(ctx, domain.AppLimit{PackageID: "steam", DailyLimitMinutes: 45, Enabled: true}))
		require.NoError(t, s.RecordSample(ctx, "steam", at, 90*time.Second))
		require.NoError(t, s.Close())

		reopened := open(t, dir)
		got, err := reopened.GetLimit(ctx, "steam")
		require.NoError(t, err)
		assert.Equal(t, 45, got.DailyLimitMinutes)

		used, err := reopened.QueryDailyUsage(ctx, "steam", at.Add(-time.Hour), at)
		require.NoError(t, err)
		assert.Equal(t, 90*time.Second, used)
	})

	t.Run("canceled context fails the query", func(t *testing.T) {
		s := open(t, t.TempDir())
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := s.QueryDailyUsage(canceled, "steam", at.Add(-time.Hour), at)
		assert.Error(t, err)
	})
}
