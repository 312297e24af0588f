package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tutortoise/object-detection-service/config"
	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/jobs"
	"github.com/Tutortoise/object-detection-service/service"
	"github.com/Tutortoise/object-detection-service/video"
)

func defaultParams(cfg config.Config) detections.Params {
	return detections.Params{ConfThreshold: cfg.ConfThreshold, IoUThreshold: cfg.IoUThreshold}
}

func newLoader(cfg config.Config) *detections.Loader {
	return detections.NewLoader(detections.NewOnnxFactory(detections.OnnxConfig{
		ModelPath:   cfg.ModelPath,
		LibraryPath: cfg.OnnxLibraryPath,
		LabelsPath:  cfg.ModelLabelsPath,
		PoolSize:    cfg.ModelPoolSize,
	}))
}

func newJobStore(ctx context.Context, cfg config.Config) (jobs.Store, error) {
	switch cfg.JobStore {
	case config.JobStorePostgres:
		return jobs.NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return jobs.NewMemoryStore(), nil
	}
}

func newPipeline(cfg config.Config, provider service.DetectorProvider) *video.Pipeline {
	codec := video.FFmpeg{Codec: cfg.VideoCodec, FourCC: cfg.VideoFourCC}
	inferencer := service.NewInferencer(provider, defaultParams(cfg), "video")
	return video.NewPipeline(codec, inferencer, cfg.ProgressEvery)
}

// waitForModel blocks until the loader is ready. Command line tools give up
// after timeout instead of retrying forever.
func waitForModel(ctx context.Context, loader *detections.Loader, timeout time.Duration) (detections.Detector, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	det, err := loader.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("model not available after %s: %w", timeout, err)
	}
	return det, nil
}

// closeAll runs closers in order and joins their errors.
func closeAll(closers ...func() error) error {
	var errList []error
	for _, c := range closers {
		if err := c(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
