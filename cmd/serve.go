package cmd

import (
	"context"
	"time"

	"github.com/Tutortoise/object-detection-service/jobs"
	"github.com/Tutortoise/object-detection-service/server"
	"github.com/Tutortoise/object-detection-service/service"
	"github.com/Tutortoise/object-detection-service/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const drainTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the detection web service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.String("app-host", "127.0.0.1", "listen host")
	flags.Int("app-port", 8080, "listen port")
	flags.String("service-mode", "all", "endpoints to serve: image, video or all")
	flags.Int("video-workers", 1, "videos processed concurrently")
	flags.Int("video-queue-size", 16, "videos waiting for a worker")
	flags.String("retention-max-age", "24h", "delete files and finished jobs older than this; 0 disables")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	store, err := storage.New(cfg.UploadDir, cfg.ResultDir)
	if err != nil {
		return err
	}

	loader := newLoader(cfg)
	loader.Start(ctx)
	defer func() {
		if err := loader.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to release model")
		}
	}()

	jobStore, err := newJobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer jobStore.Close()

	pipeline := newPipeline(cfg, loader)
	dispatcher := jobs.NewDispatcher(jobStore, pipeline.JobHandler(defaultParams(cfg)), cfg.VideoWorkers, cfg.VideoQueueSize)
	if err := dispatcher.Start(ctx); err != nil {
		return err
	}

	sweeper := storage.NewSweeper(store, jobStore, cfg.RetentionMaxAge, cfg.RetentionSweepInterval)
	if err := sweeper.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	srv := server.New(server.Options{
		Config:     cfg,
		Store:      store,
		Models:     loader,
		Images:     service.NewInferencer(loader, defaultParams(cfg), "image"),
		Jobs:       jobStore,
		Dispatcher: dispatcher,
	})
	runErr := srv.Run(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := closeAll(
		func() error { return dispatcher.Shutdown(drainCtx) },
		sweeper.Stop,
	); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	log.Info().Msg("server stopped")
	return runErr
}
