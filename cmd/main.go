package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"imagevault/internal/cache"
	"imagevault/internal/codec"
	"imagevault/internal/events"
	"imagevault/internal/filestore"
	"imagevault/internal/history"
	"imagevault/internal/models"
	"imagevault/internal/processor"
	"imagevault/internal/server"
	"imagevault/internal/storage"
	"imagevault/internal/worker"
)

const shutdownTimeout = 30 * time.Second

// recordStore is everything the service needs from the record store.
type recordStore interface {
	server.ImageStore
	worker.ImageStore
	history.Store
}

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "imagevault",
	Short:        "Encrypted image storage with background processing",
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the processing worker",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := zap.NewProduction()
		if err != nil {
			return err
		}
		defer logger.Sync()

		cfg, err := models.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is not set")
		}
		return storage.RunMigrations(cfg.DatabaseURL, logger)
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <file.enc> [output]",
	Short: "Decrypt a stored file for inspection",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		hexKey, _ := cmd.Flags().GetString("key")

		var key []byte
		var err error
		if hexKey != "" {
			key, err = codec.ParseKey(hexKey)
		} else {
			var cfg *models.Config
			if cfg, err = models.LoadConfig(configPath); err == nil {
				key, err = cfg.Key()
			}
		}
		if err != nil {
			return fmt.Errorf("loading key: %w", err)
		}

		files := filestore.NewLocal()
		c, err := codec.New(key, files)
		if err != nil {
			return err
		}
		plaintext, err := c.Decrypt(args[0])
		if err != nil {
			return err
		}

		if len(args) == 2 {
			if err := files.WriteFile(args[1], plaintext); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes to %s\n", len(plaintext), args[1])
			return nil
		}
		_, err = cmd.OutOrStdout().Write(plaintext)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the yaml config file")
	decryptCmd.Flags().String("key", "", "hex encoded master key (defaults to MASTER_KEY_GCM)")

	rootCmd.AddCommand(serveCmd, migrateCmd, decryptCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := models.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	key, err := cfg.Key()
	if err != nil {
		logger.Fatal("invalid master key", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store recordStore
	if cfg.DatabaseURL != "" {
		db, err := storage.NewStorage(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("failed to init storage", zap.Error(err))
		}
		defer db.Close()
		store = db
	} else {
		logger.Warn("DATABASE_URL not set, records are kept in memory")
		store = storage.NewMemory()
	}

	var trackerOpts []history.Option
	if cfg.KafkaBroker != "" {
		publisher := events.NewPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
		defer publisher.Close()
		trackerOpts = append(trackerOpts, history.WithPublisher(publisher))
		logger.Info("publishing history events", zap.String("broker", cfg.KafkaBroker), zap.String("topic", cfg.KafkaTopic))
	}
	tracker := history.NewTracker(store, logger, trackerOpts...)

	var statusCache *cache.StatusCache
	var workerOpts []worker.Option
	if cfg.RedisAddr != "" {
		statusCache, err = cache.NewStatusCache(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer statusCache.Close()
		workerOpts = append(workerOpts, worker.WithStatusCache(statusCache))
	}

	files := filestore.NewLocal()
	c, err := codec.New(key, files)
	if err != nil {
		logger.Fatal("failed to init codec", zap.Error(err))
	}
	pipeline := processor.New(files, processor.OptionsFromConfig(cfg), logger)

	w := worker.New(pipeline, c, files, store, tracker, logger, workerOpts...)
	w.Start(ctx)

	deps := server.Deps{
		Store:   store,
		Files:   files,
		Queue:   w,
		Codec:   c,
		History: tracker,
	}
	if statusCache != nil {
		deps.Cache = statusCache
	}
	srv := server.NewServer(cfg, deps, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if err := w.Stop(shutdownCtx); err != nil {
		logger.Error("worker shutdown failed", zap.Error(err))
	}
	return nil
}
