//go:build integration

package integration

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/usagemon/internal/daemon"
	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
	"github.com/eliteGoblin/focusd/usagemon/internal/infra"
	"github.com/eliteGoblin/focusd/usagemon/internal/usecase"
	"github.com/eliteGoblin/focusd/usagemon/test/fixtures"
)

const game = "com.example.game"

var backends = []string{infra.StorageSQLCipher, infra.StorageBolt}

var _ = Describe("Enforcement against a real store", func() {
	for _, backend := range backends {
		backend := backend

		Context("with the "+backend+" store", func() {
			var (
				ctx        context.Context
				store      domain.Store
				probe      *fixtures.ScriptedProbe
				dispatcher *fixtures.RecordingDispatcher
				clock      *fixtures.StepClock
				sampler    *usecase.Sampler
				engine     *usecase.Engine
				limits     *usecase.LimitService
				state      *usecase.EnforcementState
			)

			BeforeEach(func() {
				ctx = context.Background()
				var err error
				store, err = infra.OpenStore(backend, GinkgoT().TempDir())
				Expect(err).NotTo(HaveOccurred())
				DeferCleanup(store.Close)

				logger := zap.NewNop()
				probe = fixtures.NewScriptedProbe()
				dispatcher = &fixtures.RecordingDispatcher{}
				clock = fixtures.NewStepClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local))

				config := usecase.DefaultEngineConfig()
				config.WarnPercent = 75

				agg := usecase.NewAggregator(store, 10*time.Second, logger)
				sampler = usecase.NewSampler(probe, store, store, time.Minute, logger)
				engine = usecase.NewEngine(config, agg, store, store, dispatcher, logger)
				limits = usecase.NewLimitService(store, store, agg, clock, logger)
				state = usecase.NewEnforcementState()

				Expect(store.UpsertLimit(ctx, domain.AppLimit{
					PackageID:         game,
					DisplayName:       "Game",
					DailyLimitMinutes: 10,
					Enabled:           true,
				})).To(Succeed())
			})

			// step advances one minute, samples the foreground and runs a tick.
			step := func() usecase.TickResult {
				now := clock.Advance(time.Minute)
				_, err := sampler.Sample(ctx, now)
				Expect(err).NotTo(HaveOccurred())
				return engine.Tick(ctx, state, now)
			}

			It("warns once near the limit and blocks once it is used up", func() {
				probe.Use(game)

				for i := 1; i <= 7; i++ {
					res := step()
					Expect(res.Outcome).To(Equal(usecase.OutcomeEvaluated))
					Expect(res.Action).To(Equal(domain.ActionNone), "minute %d", i)
				}
				Expect(dispatcher.Events()).To(BeEmpty())

				Expect(step().Action).To(Equal(domain.ActionWarn))
				Expect(step().Action).To(Equal(domain.ActionNone), "warning is debounced")
				Expect(step().Action).To(Equal(domain.ActionBlock))

				events := dispatcher.Events()
				Expect(events).To(HaveLen(2))
				Expect(events[0]).To(Equal(fixtures.Event{Action: domain.ActionWarn, Package: game, Minutes: 2}))
				Expect(events[1]).To(Equal(fixtures.Event{Action: domain.ActionBlock, Package: game, Minutes: 10}))

				remaining, err := limits.RemainingMinutes(ctx, game)
				Expect(err).NotTo(HaveOccurred())
				Expect(remaining).To(BeZero())

				over, err := limits.IsOverLimit(ctx, game)
				Expect(err).NotTo(HaveOccurred())
				Expect(over).To(BeTrue())

				summary, err := limits.LimitsSummary(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(summary.OverLimitApps).To(Equal(1))
			})

			It("keeps blocking a reopened app after the cooldown", func() {
				probe.Use(game)
				for i := 0; i < 10; i++ {
					step()
				}
				Expect(dispatcher.Actions()).To(Equal([]domain.Action{domain.ActionWarn, domain.ActionBlock}))

				Expect(step().Action).To(Equal(domain.ActionBlock))
			})

			It("never interrupts a whitelisted app", func() {
				Expect(store.AddWhitelist(ctx, domain.WhitelistEntry{PackageID: game, Reason: "work"})).To(Succeed())
				probe.Use(game)

				for i := 0; i < 12; i++ {
					Expect(step().Outcome).To(Equal(usecase.OutcomeWhitelisted))
				}
				Expect(dispatcher.Events()).To(BeEmpty())

				remaining, err := limits.RemainingMinutes(ctx, game)
				Expect(err).NotTo(HaveOccurred())
				Expect(remaining).To(Equal(domain.UnboundedMinutes))
			})

			It("ignores apps without a limit", func() {
				probe.Use("com.example.editor")

				Expect(step().Outcome).To(Equal(usecase.OutcomeIdle))
				Expect(dispatcher.Events()).To(BeEmpty())
			})

			It("starts a fresh budget the next day", func() {
				probe.Use(game)
				for i := 0; i < 10; i++ {
					step()
				}
				Expect(dispatcher.Actions()).To(ContainElement(domain.ActionBlock))

				clock.Advance(24 * time.Hour)
				res := step()
				Expect(res.Action).To(Equal(domain.ActionNone))
				Expect(res.Used).To(Equal(time.Minute))
			})
		})
	}
})

var _ = Describe("Watcher end to end", func() {
	It("samples, ticks and blocks on the real poll loop", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store, err := infra.OpenStore(infra.StorageBolt, GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)

		Expect(store.UpsertLimit(ctx, domain.AppLimit{PackageID: game, DailyLimitMinutes: 2, Enabled: true})).To(Succeed())

		logger := zap.NewNop()
		probe := fixtures.NewScriptedProbe()
		probe.Use(game)
		dispatcher := &fixtures.RecordingDispatcher{}

		// Each sample credits a full minute so the limit is reached within a few polls.
		agg := usecase.NewAggregator(store, 10*time.Second, logger)
		sampler := usecase.NewSampler(probe, store, store, time.Minute, logger)
		engine := usecase.NewEngine(usecase.DefaultEngineConfig(), agg, store, store, dispatcher, logger)

		config := daemon.WatcherConfig{
			PollInterval:      50 * time.Millisecond,
			TickTimeout:       40 * time.Millisecond,
			SampleInterval:    50 * time.Millisecond,
			HeartbeatInterval: time.Second,
			PruneInterval:     time.Hour,
			Retention:         usecase.DefaultSampleRetention,
		}
		d := domain.Daemon{PID: 4242, Role: domain.RoleWatcher, Name: "usagemon", StartedAt: time.Now(), AppVersion: "test"}
		watcher := daemon.NewWatcher(config, engine, sampler, store, nil, d, logger)

		done := make(chan error, 1)
		go func() { done <- watcher.Run(ctx) }()

		Eventually(dispatcher.Actions, 5*time.Second, 20*time.Millisecond).Should(ContainElement(domain.ActionBlock))

		entry, err := store.GetAll()
		Expect(err).NotTo(HaveOccurred())
		Expect(entry).NotTo(BeNil())
		Expect(entry.WatcherPID).To(Equal(4242))

		cancel()
		Eventually(done, 2*time.Second).Should(Receive(MatchError(context.Canceled)))
	})
})
