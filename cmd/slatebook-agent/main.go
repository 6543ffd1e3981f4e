package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/slatebook/slatebook/internal/cache"
	"github.com/slatebook/slatebook/internal/config"
	"github.com/slatebook/slatebook/internal/database"
	"github.com/slatebook/slatebook/internal/logging"
	"github.com/slatebook/slatebook/internal/store"
	"github.com/slatebook/slatebook/internal/sync"
	"github.com/slatebook/slatebook/internal/sync/connectivity"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "slatebook-agent",
		Short: "Slatebook device sync agent",
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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("server-base-url", defaults.GetString("server.base_url"), "Sync server base URL")
	cmd.PersistentFlags().String("device-id", defaults.GetString("device.id"), "Registered device identifier")
	cmd.PersistentFlags().String("device-token", "", "Device token (overrides env)")
	cmd.PersistentFlags().Int64("cache-max-bytes", defaults.GetInt64("cache.max_bytes"), "Payload cache size ceiling in bytes")
	cmd.PersistentFlags().Duration("sync-interval", defaults.GetDuration("sync.interval"), "Periodic push interval")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "server.base_url", "server-base-url")
	bindFlag(cmd, "device.id", "device-id")
	bindFlag(cmd, "device.token", "device-token")
	bindFlag(cmd, "cache.max_bytes", "cache-max-bytes")
	bindFlag(cmd, "sync.interval", "sync-interval")
	bindFlag(cmd, "log.level", "log-level")
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
	appConfig, err := config.LoadAgent(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger, database.Options{
		Models:     store.Models(),
		Migrations: []database.Migration{database.BackfillEventPersonKeys()},
	})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	replica, err := store.New(store.Config{
		Database:   db,
		Clock:      time.Now,
		IDProvider: store.NewUUIDProvider(),
	})
	if err != nil {
		return err
	}

	sweeper, err := cache.NewSweeper(cache.Config{
		Database: db,
		MaxBytes: appConfig.CacheMaxBytes,
		MaxAge:   appConfig.CacheMaxAge,
		Interval: appConfig.SweepInterval,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	client, err := sync.NewClient(sync.ClientConfig{
		BaseURL:     appConfig.ServerBaseURL,
		DeviceID:    appConfig.DeviceID,
		DeviceToken: appConfig.DeviceToken,
		Timeout:     appConfig.RequestTimeout,
	})
	if err != nil {
		return err
	}

	engine, err := sync.NewEngine(sync.EngineConfig{
		Store:   replica,
		Client:  client,
		Sweeper: sweeper,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Reconnects trigger a push only when dirty rows are waiting, so a
	// quiet replica does not hammer the server after every link flap.
	watcher, err := connectivity.NewWatcher(connectivity.Config{
		Prober:   client,
		Logger:   logger,
		Interval: appConfig.ProbeInterval,
		Settling: appConfig.ReconnectSettling,
		OnOnline: func(onlineCtx context.Context) {
			dirty, err := engine.HasDirty(onlineCtx)
			if err != nil {
				logger.Error("dirty check failed", zap.Error(err))
				return
			}
			if !dirty {
				return
			}
			if _, err := engine.Push(onlineCtx); err != nil {
				logger.Warn("reconnect push failed", zap.Error(err))
			}
		},
	})
	if err != nil {
		return err
	}

	go sweeper.Run(signalCtx)
	go watcher.Run(signalCtx)

	logger.Info("agent started",
		zap.String("server", appConfig.ServerBaseURL),
		zap.String("device_id", appConfig.DeviceID),
		zap.Duration("sync_interval", appConfig.SyncInterval))

	ticker := time.NewTicker(appConfig.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-signalCtx.Done():
			logger.Info("agent stopping")
			return nil
		case <-ticker.C:
			if !watcher.Online() {
				continue
			}
			report, err := engine.Push(signalCtx)
			if err != nil {
				logger.Warn("periodic push failed", zap.Error(err))
				watcher.Poke()
				continue
			}
			if len(report.Conflicts) > 0 {
				logger.Warn("push surfaced conflicts", zap.Int("count", len(report.Conflicts)))
			}
		}
	}
}
