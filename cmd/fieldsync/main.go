package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/wartungswerk/fieldsync/internal/config"
	"github.com/wartungswerk/fieldsync/internal/connectivity"
	"github.com/wartungswerk/fieldsync/internal/database"
	"github.com/wartungswerk/fieldsync/internal/localstore"
	"github.com/wartungswerk/fieldsync/internal/logging"
	"github.com/wartungswerk/fieldsync/internal/offline"
	"github.com/wartungswerk/fieldsync/internal/remote"
	"github.com/wartungswerk/fieldsync/internal/server"
	"github.com/wartungswerk/fieldsync/internal/syncer"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fieldsync",
		Short: "Offline-first field agent for maintenance assignments",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "Local API listen address")
	cmd.PersistentFlags().String("server-url", "", "Base URL of the maintenance server")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-console", defaults.GetBool("log.console"), "Use console log encoding")
	cmd.PersistentFlags().Duration("poll-interval", defaults.GetDuration("sync.poll_interval"), "Connectivity poll interval")
	cmd.PersistentFlags().Duration("call-timeout", defaults.GetDuration("sync.call_timeout"), "Per-call network timeout")
	cmd.PersistentFlags().Int("retry-ceiling", defaults.GetInt("sync.retry_ceiling"), "Sync attempts before an item is parked")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "server.url", "server-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.console", "log-console")
	bindFlag(cmd, "sync.poll_interval", "poll-interval")
	bindFlag(cmd, "sync.call_timeout", "call-timeout")
	bindFlag(cmd, "sync.retry_ceiling", "retry-ceiling")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runAgent(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogConsole)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := localstore.NewStore(localstore.StoreConfig{
		Database:     db,
		Clock:        time.Now,
		Logger:       logger,
		RetryCeiling: appConfig.RetryCeiling,
	})
	if err != nil {
		return err
	}

	remoteClient, err := remote.NewHTTPClient(remote.HTTPClientConfig{
		BaseURL: appConfig.ServerURL,
		Timeout: appConfig.CallTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	offlineClient, err := offline.NewClient(offline.ClientConfig{
		Remote: remoteClient,
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	if err := offlineClient.RestoreSession(ctx); err != nil {
		logger.Warn("session restore failed", zap.Error(err))
	}

	monitor, err := connectivity.NewMonitor(connectivity.MonitorConfig{
		Prober:       remoteClient,
		Store:        store,
		PollInterval: appConfig.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	coordinator, err := syncer.NewCoordinator(syncer.CoordinatorConfig{
		Store:        store,
		Remote:       remoteClient,
		Connectivity: monitor,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	monitor.SetTrigger(func(triggerCtx context.Context) {
		coordinator.SyncAll(triggerCtx)
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:         store,
		Client:        offlineClient,
		Coordinator:   coordinator,
		AllowedOrigin: appConfig.AllowedOrigin,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go monitor.Run(signalCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("field agent starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("server", appConfig.ServerURL))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
