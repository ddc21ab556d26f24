// Package main is the imagevault entry point: a cobra CLI with serve and
// worker subcommands sharing one configuration surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/dkoval/imagevault/internal/api"
	"github.com/dkoval/imagevault/internal/archive"
	"github.com/dkoval/imagevault/internal/config"
	"github.com/dkoval/imagevault/internal/logger"
	"github.com/dkoval/imagevault/internal/queue"
	"github.com/dkoval/imagevault/internal/storage"
	"github.com/dkoval/imagevault/internal/upload"
	"github.com/dkoval/imagevault/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:          "imagevault",
		Short:        "imagevault accepts validated image uploads over HTTP",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCmd(), newWorkerCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "imagevault: %v\n", err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the upload API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := logger.New(cfg.LogLevel, cfg.LogPretty)

			if err := cfg.EnsureStorageDir(); err != nil {
				return fmt.Errorf("create storage dir: %w", err)
			}
			resolver, err := upload.NewResolver(cfg.StorageDir)
			if err != nil {
				return fmt.Errorf("init resolver: %w", err)
			}
			registry := upload.ImageRegistry()
			pipeline := upload.NewPipeline(registry, resolver, cfg.MaxUploadBytes, cfg.PublicBase, log)
			index := storage.NewMemoryIndex()

			var queueClient *asynq.Client
			if cfg.QueueEnabled() {
				queueClient = asynq.NewClient(asynq.RedisClientOpt{
					Addr:     cfg.RedisAddr,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				})
				defer queueClient.Close()
				log.Info().Str("redis", cfg.RedisAddr).Msg("background queue enabled")
			}

			srv := api.New(cfg, pipeline, index, resolver, queueClient, log)
			return srv.Run(ctx)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the background archive/sweep worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := logger.New(cfg.LogLevel, cfg.LogPretty)
			if !cfg.QueueEnabled() {
				return fmt.Errorf("worker requires IMAGEVAULT_REDIS_ADDR")
			}

			if err := cfg.EnsureStorageDir(); err != nil {
				return fmt.Errorf("create storage dir: %w", err)
			}
			resolver, err := upload.NewResolver(cfg.StorageDir)
			if err != nil {
				return fmt.Errorf("init resolver: %w", err)
			}

			var archiver *archive.Archiver
			if cfg.S3Endpoint != "" {
				archiver, err = archive.New(cfg)
				if err != nil {
					return fmt.Errorf("init archive: %w", err)
				}
				if err := archiver.EnsureBucket(ctx); err != nil {
					return fmt.Errorf("ensure bucket: %w", err)
				}
			}

			redisOpt := asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}

			// Kick off one sweep immediately so crash leftovers from a
			// previous run are cleared, then keep re-running it on a schedule.
			client := asynq.NewClient(redisOpt)
			defer client.Close()
			if err := queue.EnqueueSweep(ctx, client); err != nil {
				log.Warn().Err(err).Msg("enqueue startup sweep failed")
			}
			scheduler := asynq.NewScheduler(redisOpt, nil)
			if _, err := scheduler.Register("@every "+cfg.SweepInterval.String(), queue.NewSweepTask()); err != nil {
				return fmt.Errorf("register sweep schedule: %w", err)
			}
			if err := scheduler.Start(); err != nil {
				return fmt.Errorf("start sweep scheduler: %w", err)
			}

			server := asynq.NewServer(redisOpt, asynq.Config{
				Concurrency: cfg.WorkerConcurrency,
			})
			processor := worker.NewProcessor(upload.ImageRegistry(), resolver, archiver, log)

			go func() {
				<-ctx.Done()
				scheduler.Shutdown()
				server.Shutdown()
			}()
			return server.Run(processor.Handler())
		},
	}
}
