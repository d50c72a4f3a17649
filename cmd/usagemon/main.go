// Package main is the CLI entry point for usagemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/usagemon/internal/config"
	"github.com/eliteGoblin/focusd/usagemon/internal/daemon"
	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
	"github.com/eliteGoblin/focusd/usagemon/internal/infra"
	"github.com/eliteGoblin/focusd/usagemon/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "usagemon",
	Short: "Daily usage limits for distracting apps",
	Long: `usagemon watches which application you are using, adds up its
foreground time for the day and interrupts it once the daily limit you set
for it is used up. A warning is shown shortly before the limit is reached.

Limits reset at local midnight.`,
	Version:      Version,
	SilenceUsage: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the monitoring daemon in the background",
	RunE:  runStart,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status and today's usage",
	RunE:  runStatus,
}

var usageCmd = &cobra.Command{
	Use:   "usage <package>",
	Short: "Show today's usage of one application",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsage,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize all configured limits",
	RunE:  runSummary,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.usagemon/config.yaml)")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(limitCmd)
	rootCmd.AddCommand(whitelistCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
}

// session bundles what a CLI command needs: config, store and a logger.
type session struct {
	cfg    *config.Config
	store  domain.Store
	logger *zap.Logger
}

func openSession() (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := infra.OpenStore(cfg.Storage.Type, cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		logger = zap.NewNop()
	}
	return &session{cfg: cfg, store: store, logger: logger}, nil
}

func (s *session) Close() {
	_ = s.store.Close()
	_ = s.logger.Sync()
}

func (s *session) limitService() *usecase.LimitService {
	agg := usecase.NewAggregator(s.store, s.cfg.Engine.ForegroundWindow, s.logger)
	return usecase.NewLimitService(s.store, s.store, agg, nil, s.logger)
}

func runStart(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	entry, running, err := daemon.RunningWatcher(s.store, infra.NewProcessManager())
	if err != nil {
		return err
	}
	if running {
		fmt.Printf("usagemon is already running (PID %d)\n", entry.WatcherPID)
		return nil
	}

	if err := daemon.StartDaemon(configPath); err != nil {
		return err
	}

	fmt.Println("\n=== usagemon Started ===")
	fmt.Printf("Storage: %s (%s)\n", s.cfg.Storage.Type, s.cfg.Storage.DataDir)
	fmt.Printf("Dispatch: %s\n", s.cfg.Dispatch.Mode)
	fmt.Printf("Log: %s\n", s.cfg.Logging.File)
	fmt.Println("========================")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	fmt.Println("\n=== usagemon Status ===")

	entry, running, err := daemon.RunningWatcher(s.store, infra.NewProcessManager())
	if err != nil {
		return err
	}
	switch {
	case running:
		fmt.Printf("Status: RUNNING (PID %d, version %s)\n", entry.WatcherPID, entry.AppVersion)
		if entry.LastHeartbeat > 0 {
			lastBeat := time.Unix(entry.LastHeartbeat, 0)
			fmt.Printf("Last heartbeat: %s ago\n", time.Since(lastBeat).Round(time.Second))
		}
	default:
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'usagemon start' to enable limits.")
	}

	limits, err := s.store.ListLimits(ctx)
	if err != nil {
		return fmt.Errorf("list limits: %w", err)
	}
	svc := s.limitService()

	fmt.Println("\nToday:")
	if len(limits) == 0 {
		fmt.Println("  no limits configured")
	}
	for _, limit := range limits {
		if err := printUsageLine(ctx, svc, limit); err != nil {
			return err
		}
	}

	fmt.Println("=======================")
	return nil
}

func printUsageLine(ctx context.Context, svc *usecase.LimitService, limit domain.AppLimit) error {
	if !limit.Enabled {
		fmt.Printf("  %-24s disabled\n", limit.Name())
		return nil
	}
	remaining, err := svc.RemainingMinutes(ctx, limit.PackageID)
	if err != nil {
		return err
	}
	progress, err := svc.UsageProgress(ctx, limit.PackageID)
	if err != nil {
		return err
	}
	if remaining == domain.UnboundedMinutes {
		fmt.Printf("  %-24s whitelisted\n", limit.Name())
		return nil
	}
	fmt.Printf("  %-24s %3.0f%% of %d min, %d min left\n",
		limit.Name(), progress*100, limit.DailyLimitMinutes, remaining)
	return nil
}

func runUsage(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()
	pkg := args[0]

	svc := s.limitService()
	remaining, err := svc.RemainingMinutes(ctx, pkg)
	if err != nil {
		return err
	}
	progress, err := svc.UsageProgress(ctx, pkg)
	if err != nil {
		return err
	}
	over, err := svc.IsOverLimit(ctx, pkg)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== %s ===\n", pkg)
	fmt.Printf("Used today: %s\n", svc.UsedToday(ctx, pkg).Round(time.Second))
	if remaining == domain.UnboundedMinutes {
		fmt.Println("Remaining: unlimited")
	} else {
		fmt.Printf("Remaining: %d min\n", remaining)
		fmt.Printf("Progress: %.0f%%\n", progress*100)
	}
	fmt.Printf("Over limit: %t\n", over)
	return nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	svc := s.limitService()
	summary, err := svc.LimitsSummary(ctx)
	if err != nil {
		return err
	}
	over, err := svc.OverLimitApps(ctx)
	if err != nil {
		return err
	}

	fmt.Println("\n=== Limits Summary ===")
	fmt.Printf("Apps with limits: %d (%d enabled)\n", summary.TotalApps, summary.EnabledApps)
	fmt.Printf("Total daily budget: %d min\n", summary.TotalLimitMinutes)
	fmt.Printf("Average limit: %.1f min\n", summary.AvgLimitMinutes)
	fmt.Printf("Over limit today: %d\n", summary.OverLimitApps)
	for _, limit := range over {
		fmt.Printf("  - %s (%d min)\n", limit.Name(), limit.DailyLimitMinutes)
	}
	fmt.Println("======================")
	return nil
}

// createLogger builds the daemon's file logger.
func createLogger(cfg config.LoggingConfig) *zap.Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}

	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.OutputPaths = []string{cfg.File}
	zc.ErrorOutputPaths = []string{cfg.File}
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out, _ := json.Marshal(versionInfo{Version: Version, Commit: Commit, BuildTime: BuildTime})
		fmt.Println(string(out))
		return
	}
	fmt.Printf("usagemon %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
}
