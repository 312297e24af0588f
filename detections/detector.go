package detections

import (
	"context"
	"fmt"
	"image"

	"github.com/Tutortoise/object-detection-service/models"
)

// Params carries the per-call thresholds. Detectors never store them, so
// concurrent calls with different thresholds stay independent.
type Params struct {
	ConfThreshold float32
	IoUThreshold  float32
}

// DefaultParams returns the service defaults.
func DefaultParams() Params {
	return Params{ConfThreshold: DefaultConfThreshold, IoUThreshold: DefaultIoUThreshold}
}

// Normalize substitutes defaults for thresholds outside [0,1]. NaN counts as
// out of range.
func (p Params) Normalize(defaults Params) Params {
	if !(p.ConfThreshold >= 0 && p.ConfThreshold <= 1) {
		p.ConfThreshold = defaults.ConfThreshold
	}
	if !(p.IoUThreshold > 0 && p.IoUThreshold <= 1) {
		p.IoUThreshold = defaults.IoUThreshold
	}
	return p
}

// Detector runs object detection on a single image.
type Detector interface {
	Detect(ctx context.Context, img image.Image, params Params, timings *models.ProcessingTimings) ([]models.Detection, error)
}

type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}
