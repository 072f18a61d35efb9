package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/trendpress/internal/config"
	"github.com/TobiSchelling/trendpress/internal/domain"
	"github.com/TobiSchelling/trendpress/internal/scheduler"
	"github.com/TobiSchelling/trendpress/internal/server"
	"github.com/TobiSchelling/trendpress/internal/trigger"
)

var version = "dev"

var (
	verbose    bool
	jsonOutput bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "trendpress",
	Short:   "Turn trending topics into scheduled articles",
	Long:    "trendpress imports trending topics, plans a day of article slots and generates one article per slot within upstream quotas.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging("info", "console")

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		if err := config.LoadEnv(path); err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		setupLogging(cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(jobsCmd)
}

// setupLogging configures the global zerolog logger.
func setupLogging(level, format string) {
	if strings.EqualFold(format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if verbose {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("trendpress", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/trendpress/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure the trend feed, quotas and LLM provider.")
		return nil
	},
}

// --- status & quota ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's plan, quota usage and run state",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		rep, err := a.svc.Status(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(rep)
		}

		fmt.Printf("Today: %s (%s)\n", rep.Date, rep.Now.In(a.cal.Location()).Format("15:04 MST"))
		active := "no"
		if rep.ActiveHours {
			active = fmt.Sprintf("yes, slot %d", rep.CurrentSlot)
		}
		fmt.Printf("Active hours: %s\n", active)
		if rep.Degraded {
			fmt.Println("Storage: DEGRADED (serving from memory)")
		}

		fmt.Println("\nPlan:")
		if rep.Plan == nil {
			fmt.Println("  No plan yet. Run 'trendpress refresh' to import trends.")
		} else {
			fmt.Printf("  Jobs: %d (version %d, updated %s)\n",
				len(rep.Plan.Jobs), rep.Plan.Version, rep.Plan.UpdatedAt.In(a.cal.Location()).Format("15:04"))
			for _, s := range domain.Statuses {
				if n := rep.Counts[s]; n > 0 {
					fmt.Printf("  %s: %d\n", s, n)
				}
			}
		}
		if rep.NextDue != nil {
			fmt.Printf("  Next due: #%d %s at %s\n", rep.NextDue.Position, rep.NextDue.TrendTitle,
				rep.NextDue.ScheduledAt.In(a.cal.Location()).Format("15:04"))
		}

		if rep.Quota != nil {
			printQuota(rep.Quota)
		}
		if rs := rep.RunState; rs != nil {
			fmt.Println("\nScheduler:")
			fmt.Printf("  Running: %t (%s)\n", rs.Running, rs.Source)
			if rs.LastTickAt != nil {
				fmt.Printf("  Last tick: %s (%s)\n", rs.LastTickAt.In(a.cal.Location()).Format(time.DateTime), rs.LastOutcome)
			}
		}
		return nil
	}),
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show upstream trend quota usage",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		usage, err := a.quota.Usage(ctx, time.Now())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(usage)
		}
		printQuota(&usage)
		return nil
	}),
}

func printQuota(q *domain.QuotaUsage) {
	fmt.Println("\nQuota:")
	fmt.Printf("  Today (%s): %d/%d, %d left\n", q.Day, q.DailyCount, q.DailyLimit, q.DailyRemaining)
	fmt.Printf("  Month (%s): %d/%d, %d left\n", q.Month, q.MonthlyCount, q.MonthlyLimit, q.MonthlyRemaining)
}

// --- one-shot operations ---

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduler tick",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		return printTick(a.svc.Tick(ctx))
	}),
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Import trends and rebuild today's plan",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		res, err := a.svc.Refresh(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		if res.Import != nil {
			fmt.Printf("Import: %d fetched, %d stored", res.Import.Fetched, res.Import.Stored)
			if res.Import.FromCache {
				fmt.Print(" (from cache)")
			}
			fmt.Println()
		}
		if res.Skipped {
			fmt.Printf("Refresh skipped: %s\n", res.Reason)
			return nil
		}
		if p := res.Plan; p != nil {
			fmt.Printf("Plan %s: %d planned, %d added, %d preserved, %d kept", p.Date, p.Planned, p.Added, p.Preserved, p.Kept)
			if p.Shortfall > 0 {
				fmt.Printf(", %d short", p.Shortfall)
			}
			fmt.Println()
		}
		return nil
	}),
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune old trends and quota buckets",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		res, err := a.svc.Cleanup(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		fmt.Printf("Deleted %d trends and %d quota buckets\n", res.TrendsDeleted, res.QuotaBucketsDeleted)
		return nil
	}),
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and repair today's jobs",
}

var jobsResetFailedCmd = &cobra.Command{
	Use:   "reset-failed",
	Short: "Return failed jobs under the retry cap to pending",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		res, err := a.svc.ResetFailedJobs(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		fmt.Printf("Reset %d job(s) %v", len(res.Reset), res.Reset)
		if len(res.Exhausted) > 0 {
			fmt.Printf("; retry limit reached for %v", res.Exhausted)
		}
		fmt.Println()
		return nil
	}),
}

var jobsResetCmd = &cobra.Command{
	Use:   "reset [position]",
	Short: "Reset a stuck or failed job to pending",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		position, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid position: %s", args[0])
		}
		job, err := a.svc.ResetStuckJob(ctx, position)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(job)
		}
		fmt.Printf("Job #%d (%s) is %s\n", job.Position, job.TrendTitle, job.Status)
		return nil
	}),
}

var jobsProcessNextCmd = &cobra.Command{
	Use:   "process-next",
	Short: "Generate the next pending job now, ignoring its slot time",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		return printTick(a.svc.ProcessNext(ctx))
	}),
}

func init() {
	jobsCmd.AddCommand(jobsResetFailedCmd)
	jobsCmd.AddCommand(jobsResetCmd)
	jobsCmd.AddCommand(jobsProcessNextCmd)
}

func printTick(st scheduler.TickStatus) error {
	if jsonOutput {
		if err := printJSON(st); err != nil {
			return err
		}
	} else {
		fmt.Printf("%s: %s", st.Date, st.Outcome)
		if st.Position > 0 {
			fmt.Printf(" (job #%d, %s)", st.Position, st.JobStatus)
		}
		if st.ArticleID != "" {
			fmt.Printf(" article %s", st.ArticleID)
		}
		fmt.Println()
		if st.Recovered > 0 || st.Retried > 0 {
			fmt.Printf("  recovered %d stale, retried %d failed\n", st.Recovered, st.Retried)
		}
	}
	if st.Error != "" {
		return errors.New(st.Error)
	}
	return nil
}

// --- serve ---

var (
	servePort int
	noCron    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API and the cron scheduler",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		port := cfg.Server.Port
		if servePort > 0 {
			port = servePort
		}
		gin.SetMode(gin.ReleaseMode)
		srv := &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(port)),
			Handler:           server.New(a.svc, config.Secret(cfg.Server.APIKeyEnv)).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		var runner *trigger.Runner
		if !noCron {
			specs := trigger.Specs{Tick: cfg.Cron.Tick, Refresh: cfg.Cron.Refresh, Cleanup: cfg.Cron.Cleanup}
			var err error
			runner, err = trigger.New(a.svc, a.runs, specs, a.cal.Location())
			if err != nil {
				return err
			}
			runner.Start(ctx)
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("Control API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		var serveErr error
		select {
		case <-ctx.Done():
		case serveErr = <-errCh:
		}

		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if runner != nil {
			runner.Stop(shutdownCtx)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown failed")
		}
		return serveErr
	}),
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config)")
	serveCmd.Flags().BoolVar(&noCron, "no-cron", false, "Serve the API without running cron jobs")
}
