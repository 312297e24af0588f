package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Tutortoise/object-detection-service/models"
	"github.com/rs/zerolog/log"
)

type DetectionJSON struct {
	Class      string     `json:"class"`
	ClassID    int        `json:"class_id"`
	Confidence float32    `json:"confidence"`
	BBox       [4]float32 `json:"bbox"`
}

type DetectResponse struct {
	Success        bool            `json:"success"`
	UploadPath     string          `json:"upload_path"`
	ResultPath     string          `json:"result_path"`
	Detections     []DetectionJSON `json:"detections"`
	InferenceTime  string          `json:"inference_time"`
	DetectionCount int             `json:"detection_count"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type UploadVideoResponse struct {
	Success       bool    `json:"success"`
	VideoID       string  `json:"video_id"`
	UploadPath    string  `json:"upload_path"`
	OutputPath    string  `json:"output_path"`
	ConfThreshold float32 `json:"conf_threshold"`
}

type ProcessVideoResponse struct {
	Success         bool    `json:"success"`
	Message         string  `json:"message"`
	OutputPath      *string `json:"output_path"`
	Status          string  `json:"status,omitempty"`
	ProcessedFrames *int    `json:"processed_frames,omitempty"`
	ElapsedTime     string  `json:"elapsed_time,omitempty"`
	Error           string  `json:"error,omitempty"`
}

const (
	StatusComplete   = "complete"
	StatusProcessing = "processing"
	StatusFailed     = "failed"
	StatusNotFound   = "not_found"
)

type CompleteStatus struct {
	Status      string  `json:"status"`
	OutputPath  string  `json:"output_path"`
	FileSize    int64   `json:"file_size"`
	TimeElapsed float64 `json:"time_elapsed"`
}

type ProcessingStatus struct {
	Status          string  `json:"status"`
	State           string  `json:"state"`
	ProcessedFrames int     `json:"processed_frames"`
	TotalFrames     int     `json:"total_frames"`
	Progress        float64 `json:"progress"`
}

type FailedStatus struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type NotFoundStatus struct {
	Status string `json:"status"`
}

func formatDetections(dets []models.Detection) []DetectionJSON {
	out := make([]DetectionJSON, 0, len(dets))
	for _, d := range dets {
		out = append(out, DetectionJSON{
			Class:      d.Class,
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			BBox:       d.BBox,
		})
	}
	return out
}

// formatSeconds renders a duration the way clients display it, e.g. "0.42s".
func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func sendErrorResponse(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: message})
}
