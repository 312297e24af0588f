package models

import (
	"image"
	"time"
)

// Detection is one predicted object. BBox is (xmin, ymin, xmax, ymax) in
// source image pixels.
type Detection struct {
	Class      string     `json:"class"`
	ClassID    int        `json:"class_id"`
	Confidence float32    `json:"confidence"`
	BBox       [4]float32 `json:"bbox"`
}

// Rect returns the bounding box rounded to integer pixels.
func (d Detection) Rect() image.Rectangle {
	return image.Rect(int(d.BBox[0]), int(d.BBox[1]), int(d.BBox[2]), int(d.BBox[3]))
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Render      time.Duration
	Total       time.Duration
}

// DetectionResult is the outcome of one inference call over a single image
// or video frame.
type DetectionResult struct {
	Detections    []Detection
	InferenceTime time.Duration
	Rendered      image.Image
	Timings       *ProcessingTimings
}

// VideoInfo is the container metadata needed to re-encode a video.
type VideoInfo struct {
	Width       int
	Height      int
	FPS         float64
	TotalFrames int
}

type VideoResult struct {
	Info            VideoInfo
	ProcessedFrames int
	Elapsed         time.Duration
}

// Progress is reported periodically while a video is being processed.
type Progress struct {
	ProcessedFrames int
	TotalFrames     int
	Elapsed         time.Duration
	EstimatedTotal  time.Duration
}
