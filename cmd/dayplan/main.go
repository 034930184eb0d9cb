package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"dayplan/internal/config"
	"dayplan/internal/ics"
	"dayplan/internal/lock"
	appLog "dayplan/internal/log"
	"dayplan/internal/metrics"
	"dayplan/internal/planner"
	"dayplan/internal/store"
	"dayplan/internal/web"
)

const version = "0.1.0"

var (
	configPath string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:           "dayplan",
	Short:         "dayplan - places chores, routines, tasks and stories into your week",
	Long:          "dayplan turns recurring chores and routines, dated tasks and sprint stories into concrete time slots inside your availability blocks, around the meetings on your calendars.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the periodic planner",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./dayplan.yaml", "Path to config file")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config if set)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   *store.Store
	locker  lock.Locker
	metrics *metrics.Metrics
	planner *planner.Service
}

func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := appLog.Setup(cfg.Environment, appLog.ParseLevel(cfg.LogLevel))

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(context.Background()); err != nil {
		_ = st.Close()
		return nil, err
	}

	m := metrics.New()
	if err := st.Instrument(m); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("instrument store: %w", err)
	}

	locker, err := lock.New(cfg.Lock, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	fetcher := ics.NewFetcher(cfg.CacheDir, nil)
	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		locker:  locker,
		metrics: m,
		planner: planner.New(cfg, st, locker, fetcher, m, logger),
	}, nil
}

func (a *app) Close() {
	if c, ok := a.locker.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close lock backend")
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close store")
	}
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if listenAddr != "" {
		a.cfg.Listen = listenAddr
	}

	a.logger.Info().
		Str("version", version).
		Str("listen", a.cfg.Listen).
		Str("timezone", a.cfg.Timezone).
		Int("horizon_days", a.cfg.HorizonDays).
		Str("plan_cron", a.cfg.PlanCron).
		Str("database", a.cfg.Database.Driver).
		Str("lock", a.cfg.Lock.Backend).
		Int("busy_feeds", len(a.cfg.BusyFeeds)).
		Msg("dayplan starting")

	ctx, cancel := signalContext()
	defer cancel()

	if a.cfg.PlanCron != "" {
		sched, err := planner.NewScheduler(a.planner, a.cfg.PlanCron, a.cfg.Location(), a.logger)
		if err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()
	} else {
		a.logger.Info().Msg("plan_cron is empty; periodic runs disabled")
	}

	srv := web.NewServer(a.cfg, a.planner, a.store, a.metrics)
	if err := srv.ListenAndServe(ctx, a.cfg.Listen); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	a.logger.Info().Msg("dayplan exiting")
	return nil
}
