package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/errs"
	"github.com/Tutortoise/object-detection-service/metric"
	"github.com/Tutortoise/object-detection-service/models"
	"github.com/rs/zerolog/log"
)

const DefaultProgressEvery = 10

// FrameSource yields decoded frames in presentation order. Next returns
// io.EOF after the last frame.
type FrameSource interface {
	Next() (image.Image, error)
	Close() error
}

type FrameSink interface {
	Write(img image.Image) error
	Close() error
}

// Codec opens video files for reading and writing.
type Codec interface {
	Open(ctx context.Context, path string) (FrameSource, models.VideoInfo, error)
	Create(ctx context.Context, path string, info models.VideoInfo) (FrameSink, error)
}

// Inferer runs detection on one frame and renders the result.
type Inferer interface {
	Infer(ctx context.Context, img image.Image, params detections.Params) (*models.DetectionResult, error)
}

// Pipeline annotates every frame of a video, one frame at a time.
type Pipeline struct {
	codec         Codec
	inferer       Inferer
	progressEvery int
}

func NewPipeline(codec Codec, inferer Inferer, progressEvery int) *Pipeline {
	if progressEvery <= 0 {
		progressEvery = DefaultProgressEvery
	}
	return &Pipeline{codec: codec, inferer: inferer, progressEvery: progressEvery}
}

// Process reads in, runs detection on every frame and writes the annotated
// frames to out with the same resolution and frame rate. Frames are handled
// strictly in order and none are dropped. progress, if set, is called every
// progressEvery frames and once at the end. On failure a partially written
// output may remain.
func (p *Pipeline) Process(ctx context.Context, in, out string, params detections.Params, progress func(models.Progress)) (*models.VideoResult, error) {
	src, info, err := p.codec.Open(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", errs.ErrVideoOpen, in, err)
	}
	defer src.Close()

	logger := log.With().Str("input", in).Logger()
	logger.Info().
		Int("width", info.Width).
		Int("height", info.Height).
		Float64("fps", info.FPS).
		Int("total_frames", info.TotalFrames).
		Msg("processing video")

	sink, err := p.codec.Create(ctx, out, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create output video: %w", err)
	}

	result := &models.VideoResult{Info: info}
	start := time.Now()
	report := func() models.Progress {
		elapsed := time.Since(start)
		pr := models.Progress{
			ProcessedFrames: result.ProcessedFrames,
			TotalFrames:     info.TotalFrames,
			Elapsed:         elapsed,
		}
		if result.ProcessedFrames > 0 && info.TotalFrames > 0 {
			perFrame := elapsed / time.Duration(result.ProcessedFrames)
			pr.EstimatedTotal = perFrame * time.Duration(info.TotalFrames)
		}
		if progress != nil {
			progress(pr)
		}
		return pr
	}

	loopErr := p.loop(ctx, src, sink, params, result, func() {
		pr := report()
		logger.Info().
			Int("processed_frames", pr.ProcessedFrames).
			Int("total_frames", pr.TotalFrames).
			Dur("elapsed", pr.Elapsed).
			Dur("estimated_total", pr.EstimatedTotal).
			Msg("video progress")
	})

	closeErr := sink.Close()
	result.Elapsed = time.Since(start)
	metric.Count(metric.FramesProcessed, int64(result.ProcessedFrames), nil)

	if loopErr != nil {
		return result, loopErr
	}
	if closeErr != nil {
		return result, fmt.Errorf("failed to finalize output video: %w", closeErr)
	}
	report()

	logger.Info().
		Int("processed_frames", result.ProcessedFrames).
		Dur("elapsed", result.Elapsed).
		Str("output", out).
		Msg("video processed")
	return result, nil
}

func (p *Pipeline) loop(ctx context.Context, src FrameSource, sink FrameSink, params detections.Params, result *models.VideoResult, tick func()) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read frame %d: %w", result.ProcessedFrames, err)
		}

		res, err := p.inferer.Infer(ctx, frame, params)
		if err != nil {
			return fmt.Errorf("failed to process frame %d: %w", result.ProcessedFrames, err)
		}
		if err := sink.Write(res.Rendered); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", result.ProcessedFrames, err)
		}

		result.ProcessedFrames++
		if result.ProcessedFrames%p.progressEvery == 0 {
			tick()
		}
	}
}
