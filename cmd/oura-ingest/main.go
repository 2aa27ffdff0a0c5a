package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MaximeMichaud/oura-dashboard/internal/api"
	"github.com/MaximeMichaud/oura-dashboard/internal/config"
	"github.com/MaximeMichaud/oura-dashboard/internal/database"
	"github.com/MaximeMichaud/oura-dashboard/internal/endpoint"
	"github.com/MaximeMichaud/oura-dashboard/internal/logger"
	"github.com/MaximeMichaud/oura-dashboard/internal/oura"
	"github.com/MaximeMichaud/oura-dashboard/internal/store"
	"github.com/MaximeMichaud/oura-dashboard/internal/sync"
)

var version = "dev"

type options struct {
	configPath    string
	endpoint      string
	once          bool
	listEndpoints bool
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "oura-ingest",
		Short: "Oura ingestion service",
		Long: `oura-ingest pulls health metrics from the Oura API v2 and upserts
them into Postgres (or MySQL), one table per endpoint. It runs an initial
sync on startup and then re-syncs on a fixed interval.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.listEndpoints {
				for _, name := range endpoint.Default().Names() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "config.yaml", "path to an optional YAML config file")
	f.StringVar(&opts.endpoint, "endpoint", "", "sync only this endpoint name")
	f.BoolVar(&opts.once, "once", false, "sync once and exit (no scheduler)")
	f.BoolVar(&opts.listEndpoints, "list-endpoints", false, "print available endpoints and exit")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	return cmd
}

func run(parent context.Context, opts options) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Log.Error("Invalid configuration", zap.Error(err))
		return err
	}
	only := opts.endpoint
	if only == "" {
		only = cfg.Sync.Endpoint
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Log.Info("Oura ingestion starting", zap.String("version", version))

	db, err := database.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(); err != nil {
			return err
		}
	}

	syncOpts, err := sync.OptionsFromConfig(cfg.Sync)
	if err != nil {
		return err
	}

	registry := endpoint.Default()
	client := oura.NewClient(cfg.Oura.Token,
		oura.WithBaseURL(cfg.Oura.BaseURL),
		oura.WithTimeout(cfg.Oura.Timeout),
		oura.WithRateLimit(cfg.Oura.RequestsPerSecond, cfg.Oura.Burst))
	var st store.Store = store.NewSQLStore(db)
	orch := sync.NewOrchestrator(registry, sync.FromClient(client),
		store.NewUpserter(db, cfg.Sync.BatchSize), st, syncOpts)

	// token expiry seen by an API-triggered pass
	apiFatal := make(chan error, 1)
	var (
		server  *http.Server
		handler *api.Handler
	)
	if cfg.Server.Enabled {
		handler = api.NewHandler(ctx, orch, st, registry, cfg.Server.AuthToken, apiFatal)
		server = &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      handler.Routes(),
			ReadTimeout:  cfg.Server.GetReadTimeout(),
			WriteTimeout: cfg.Server.GetWriteTimeout(),
		}
		go func() {
			logger.Log.Info("Server listening", zap.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Log.Error("Server failed", zap.Error(err))
				stop()
			}
		}()
	}
	defer shutdownServer(cfg.Scheduler, server, handler)

	logger.Log.Info("Running initial sync...")
	if _, err := orch.SyncAll(ctx, only); err != nil {
		if errors.Is(err, sync.ErrTokenExpired) {
			logger.Log.Error("Exiting due to invalid Oura token. Refresh your OURA_TOKEN and restart.")
		}
		return err
	}

	if opts.once {
		logger.Log.Info("--once flag set, exiting after initial sync")
		return nil
	}
	if ctx.Err() != nil {
		logger.Log.Info("Shutdown requested during initial sync")
		return nil
	}

	sched := sync.NewScheduler(cfg.Scheduler, orch, only)
	if err := sched.Start(); err != nil {
		return err
	}
	logger.Log.Info(fmt.Sprintf("Scheduling sync every %d minutes", cfg.Scheduler.IntervalMinutes))

	var fatal error
	select {
	case <-ctx.Done():
		logger.Log.Info("Received signal, shutting down...")
	case fatal = <-sched.Fatal():
		logger.Log.Error("Oura token expired during scheduled sync. Stopping scheduler.")
	case fatal = <-apiFatal:
		logger.Log.Error("Oura token expired during triggered sync. Stopping scheduler.")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
	defer cancel()
	_ = sched.Stop(stopCtx)

	logger.Log.Info("Shutdown complete")
	return fatal
}

func shutdownServer(cfg config.SchedulerConfig, server *http.Server, handler *api.Handler) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.Warn("Server shutdown", zap.Error(err))
	}
	if err := handler.Wait(ctx); err != nil {
		logger.Log.Warn("Triggered sync still running at shutdown", zap.Error(err))
	}
}
