package service

import (
	"context"
	"fmt"
	"image"
	"io"
	"sort"
	"time"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/metric"
	"github.com/Tutortoise/object-detection-service/models"
	"github.com/Tutortoise/object-detection-service/render"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"
)

// DetectorProvider hands out the loaded detector, or an error while the
// model is unavailable.
type DetectorProvider interface {
	Ready() (detections.Detector, error)
}

// StaticProvider serves a detector that is always ready.
type StaticProvider struct {
	Detector detections.Detector
}

func (p StaticProvider) Ready() (detections.Detector, error) {
	return p.Detector, nil
}

// Inferencer runs one detection pass and renders the result.
type Inferencer struct {
	provider DetectorProvider
	defaults detections.Params
	source   string
}

func NewInferencer(provider DetectorProvider, defaults detections.Params, source string) *Inferencer {
	return &Inferencer{provider: provider, defaults: defaults, source: source}
}

// Defaults returns the thresholds used when a caller supplies none.
func (s *Inferencer) Defaults() detections.Params {
	return s.defaults
}

// Infer detects objects in img with the given thresholds. Detections are
// ordered by descending confidence and none scores below
// params.ConfThreshold.
func (s *Inferencer) Infer(ctx context.Context, img image.Image, params detections.Params) (*models.DetectionResult, error) {
	detector, err := s.provider.Ready()
	if err != nil {
		return nil, err
	}
	params = params.Normalize(s.defaults)

	timings := &models.ProcessingTimings{RequestID: RequestID(ctx)}
	start := time.Now()

	dets, err := detector.Detect(ctx, img, params, timings)
	inferenceTime := time.Since(start)
	tags := []string{metric.Tag(metric.TagSource, s.source)}
	if err != nil {
		metric.Incr(metric.InferenceCount, append(tags, metric.Tag(metric.TagOutcome, "error")))
		return nil, err
	}
	metric.Incr(metric.InferenceCount, append(tags, metric.Tag(metric.TagOutcome, "ok")))
	metric.Timing(metric.InferenceLatency, inferenceTime, tags)

	kept := dets[:0]
	for _, d := range dets {
		if d.Confidence >= params.ConfThreshold {
			kept = append(kept, d)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})

	renderStart := time.Now()
	rendered := render.Annotate(img, kept)
	timings.Render = time.Since(renderStart)
	timings.Total = time.Since(start)

	logTimings(timings)

	return &models.DetectionResult{
		Detections:    kept,
		InferenceTime: inferenceTime,
		Rendered:      rendered,
		Timings:       timings,
	}, nil
}

func logTimings(t *models.ProcessingTimings) {
	log.Debug().
		Str("request_id", t.RequestID).
		Dur("image_decode", t.ImageDecode).
		Dur("resize", t.Resize).
		Dur("preprocess", t.Preprocess).
		Dur("inference", t.Inference).
		Dur("postprocess", t.Postprocess).
		Dur("render", t.Render).
		Dur("total", t.Total).
		Msg("processing times")
}

// DecodeImage reads an image in any supported format, applying EXIF
// orientation.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// OpenImage decodes the image stored at path.
func OpenImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// SaveImage encodes img in the format implied by the extension of path.
func SaveImage(path string, img image.Image) error {
	if err := imaging.Save(img, path, imaging.JPEGQuality(95)); err != nil {
		return fmt.Errorf("failed to save result image: %w", err)
	}
	return nil
}
