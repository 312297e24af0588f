package detections

import (
	"context"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/Tutortoise/object-detection-service/models"
	"github.com/rs/zerolog/log"
)

type OnnxConfig struct {
	ModelPath   string
	LibraryPath string
	LabelsPath  string
	PoolSize    int
	// Threads is the intra-op thread count per session; 0 uses all CPUs.
	Threads int
}

// OnnxDetector runs a YOLO-family model exported to ONNX. It holds no
// per-request state: thresholds arrive with every call and each call runs on
// a session it owns exclusively until release.
type OnnxDetector struct {
	spec   ModelSpec
	labels Labels
	pool   *ModelSessionPool
}

func NewOnnxDetector(cfg OnnxConfig) (*OnnxDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	labels, err := LoadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}

	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, err
	}

	spec, err := inspectModel(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	if len(labels) > 0 && len(labels) != spec.NumClasses {
		log.Warn().Int("labels", len(labels)).Int("classes", spec.NumClasses).
			Msg("label count does not match model class count")
	}

	pool, err := NewModelSessionPool(func() (*ModelSession, error) {
		return initSession(spec, cfg.Threads)
	}, cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create model session pool: %w", err)
	}

	log.Info().
		Str("model", cfg.ModelPath).
		Str("layout", spec.Layout.String()).
		Int("input_width", spec.InputWidth).
		Int("input_height", spec.InputHeight).
		Int("classes", spec.NumClasses).
		Int("pool_size", pool.size).
		Msg("model loaded")

	return &OnnxDetector{spec: spec, labels: labels, pool: pool}, nil
}

func (d *OnnxDetector) Spec() ModelSpec {
	return d.spec
}

func (d *OnnxDetector) PoolMetrics() PoolSnapshot {
	return d.pool.GetMetrics()
}

func (d *OnnxDetector) Close() error {
	d.pool.Destroy()
	return destroyRuntime()
}

func (d *OnnxDetector) Detect(ctx context.Context, img image.Image, params Params, timings *models.ProcessingTimings) ([]models.Detection, error) {
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}

	session, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, &ProcessingError{Message: "acquire model session", Cause: err}
	}

	var lastErr error
	for attempt := 1; attempt <= RetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			d.pool.Release(session)
			return nil, err
		}

		dets, err := d.detect(img, session, params, timings)
		if err == nil {
			d.pool.Release(session)
			return dets, nil
		}
		lastErr = err

		if attempt < RetryAttempts {
			time.Sleep(time.Duration(attempt) * RetryDelayMs * time.Millisecond)
		}
	}

	// the session failed repeatedly; the pool health check replaces it
	d.pool.Discard(session)
	return nil, lastErr
}

func (d *OnnxDetector) detect(img image.Image, session *ModelSession, params Params, timings *models.ProcessingTimings) ([]models.Detection, error) {
	resizeStart := time.Now()
	canvas, lb := letterboxImage(img, d.spec.InputWidth, d.spec.InputHeight)
	timings.Resize = time.Since(resizeStart)

	prepStart := time.Now()
	fillTensor(canvas, session.Input.GetData())
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	if err := session.Session.Run(); err != nil {
		return nil, &ProcessingError{Message: "model inference", Cause: err}
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	cands, err := decodeOutput(session.Output.GetData(), d.spec, params.ConfThreshold)
	if err != nil {
		return nil, &ProcessingError{Message: "process predictions", Cause: err}
	}
	kept := nonMaxSuppression(cands, params.IoUThreshold)
	bounds := img.Bounds()
	dets := toDetections(kept, lb, bounds.Dx(), bounds.Dy(), d.labels)
	timings.Postprocess = time.Since(postStart)

	return dets, nil
}
