//go:build integration

package integration

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
	"github.com/eliteGoblin/focusd/usagemon/internal/infra"
	"github.com/eliteGoblin/focusd/usagemon/internal/usecase"
	"github.com/eliteGoblin/focusd/usagemon/test/fixtures"
)

var _ = Describe("Kill enforcement", func() {
	const sampleInterval = 2 * time.Second

	It("interrupts an over-limit app once and stays quiet after it is gone", func() {
		ctx := context.Background()
		store, err := infra.OpenStore(infra.StorageBolt, GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)

		start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)
		Expect(store.UpsertLimit(ctx, domain.AppLimit{PackageID: game, DisplayName: "Game", DailyLimitMinutes: 1, Enabled: true})).To(Succeed())
		Expect(store.RecordSample(ctx, game, start.Add(-time.Hour), time.Minute)).To(Succeed())

		logger := zap.NewNop()
		procs := fixtures.NewFakeProcesses()
		procs.Start(game)
		notifier := &fixtures.RecordingNotifier{}
		dispatcher, err := infra.NewDispatcher(infra.DispatchKill, procs, notifier, logger)
		Expect(err).NotTo(HaveOccurred())

		// Window of one and a half sampling intervals, as the daemon derives it.
		agg := usecase.NewAggregator(store, sampleInterval*3/2, logger)
		sampler := usecase.NewSampler(procs, store, store, sampleInterval, logger)
		engine := usecase.NewEngine(usecase.DefaultEngineConfig(), agg, store, store, dispatcher, logger)
		state := usecase.NewEnforcementState()

		var blocks int
		for now := start; now.Before(start.Add(20 * time.Second)); now = now.Add(sampleInterval) {
			_, err := sampler.Sample(ctx, now)
			Expect(err).NotTo(HaveOccurred())
			res := engine.Tick(ctx, state, now)
			Expect(res.DispatchErr).NotTo(HaveOccurred(), "tick at %s", now.Sub(start))
			if res.Action == domain.ActionBlock {
				blocks++
			}
		}

		Expect(blocks).To(Equal(1))
		Expect(procs.Killed()).To(HaveLen(1))
		Expect(notifier.Sent()).To(Equal([]string{"Game reached its daily limit of 1 minute."}))
	})
})
