// Package app provides the usersync command.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"usersync/internal/usersync/client"
	"usersync/internal/usersync/config"
	"usersync/internal/usersync/handler"
	"usersync/internal/usersync/metrics"
	"usersync/internal/usersync/repository"
	"usersync/internal/usersync/router"
	"usersync/internal/usersync/service"
	"usersync/internal/usersync/util"
)

const (
	ExitOK             = 0
	ExitStartup        = 1
	ExitFetchFailed    = 2
	ExitRecordFailures = 3
	ExitInterrupted    = 130
)

const (
	shutdownTimeout    = 10 * time.Second
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 10 * time.Second
)

// ExitError carries the process exit code for a failed run.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitStartup
}

// NewRootCmd creates the single usersync command. Flags override the
// environment.
func NewRootCmd() *cobra.Command {
	v := config.NewEnvViper()

	cmd := &cobra.Command{
		Use:   "usersync",
		Short: "Synchronize user updates from the upstream API into MongoDB",
		Long: `usersync fetches user update records from the configured API and upserts
them into a MongoDB collection keyed by user_id.

Configuration is read from the environment (API_BASE_URL, API_KEY, MONGO_URI,
DB_NAME, ...). With SYNC_INTERVAL or --interval set, passes repeat until the
process receives SIGINT or SIGTERM; otherwise one pass runs and the process exits.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, v)
		},
	}

	cmd.Flags().String("interval", "", "Repeat passes on this interval (seconds or duration, overrides SYNC_INTERVAL)")
	cmd.Flags().String("status-addr", "", "Serve /health, /status and /metrics on this address (overrides STATUS_ADDR)")
	cmd.Flags().String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")

	bindFlag(v, cmd, config.KeySyncInterval, "interval")
	bindFlag(v, cmd, config.KeyStatusAddr, "status-addr")
	bindFlag(v, cmd, config.KeyLogLevel, "log-level")

	return cmd
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		slog.Error("Error binding flag", "flag", flag, "error", err)
	}
}

func run(cmd *cobra.Command, v *viper.Viper) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	level, _ := util.ParseLevel(v.GetString(config.KeyLogLevel))
	util.InitLogger(level)
	logger := util.GetLogger()

	cfg, err := config.Load(v)
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		return &ExitError{Code: ExitStartup, Err: err}
	}
	logger.Info("Configuration validated",
		"endpoint", cfg.Endpoint(),
		"database", cfg.DBName,
		"collection", cfg.CollectionName,
		"max_retries", cfg.MaxRetries,
		"interval", cfg.SyncInterval.String(),
	)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	mongoClient, err := repository.Connect(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.Error("Failed to connect to MongoDB", "error", err)
		return &ExitError{Code: ExitStartup, Err: err}
	}
	logger.Info("Connected to MongoDB")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := mongoClient.Disconnect(ctx); err != nil {
			logger.Error("Failed to disconnect DB", "error", err)
		}
		logger.Info("MongoDB connection closed")
	}()

	repo := repository.NewMongoUserRepository(mongoClient.Database(cfg.DBName), cfg.CollectionName)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warn("Failed to ensure indexes", "error", err)
	}

	recorder := metrics.NewRecorder()
	apiClient := client.New(cfg, client.WithMetrics(recorder), client.WithLogger(logger))
	svc := service.NewService(apiClient, repo, service.WithMetrics(recorder), service.WithLogger(logger))
	store := handler.NewStatusStore()

	if cfg.StatusAddr != "" {
		srv := startStatusServer(cfg.StatusAddr, store, recorder, logger)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("Status server shutdown failed", "error", err)
			}
		}()
	}

	runner := &Runner{
		Service:   svc,
		Store:     store,
		Tolerance: cfg.FailureTolerance,
		Interval:  cfg.SyncInterval,
		Logger:    logger,
		Out:       cmd.OutOrStdout(),
	}
	return runner.Run(ctx)
}

func startStatusServer(addr string, store *handler.StatusStore, recorder *metrics.Recorder, logger *slog.Logger) *http.Server {
	e := router.NewEcho(logger)
	router.RegisterRoutes(e, handler.NewStatusHandler(store), recorder.Registry())

	srv := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}
	go func() {
		logger.Info("Starting status server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server stopped", "error", err)
		}
	}()
	return srv
}
