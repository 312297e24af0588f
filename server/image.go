package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/errs"
	"github.com/Tutortoise/object-detection-service/service"
	"github.com/rs/zerolog/log"
)

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.With().Str("request_id", service.RequestID(ctx)).Logger()

	asset, err := s.saveFormFile(w, r, "image")
	if err != nil {
		status, msg := uploadError(err, MsgNoImage, MsgNoImageSelected)
		sendErrorResponse(w, msg, status)
		return
	}

	defaults := s.images.Defaults()
	params := detections.Params{
		ConfThreshold: parseConfidence(r.FormValue("confidence"), defaults.ConfThreshold),
		IoUThreshold:  defaults.IoUThreshold,
	}

	decodeStart := time.Now()
	img, err := service.OpenImage(asset.Path)
	decodeTime := time.Since(decodeStart)
	if err != nil {
		logger.Warn().Err(err).Str("upload", asset.Path).Msg("failed to decode upload")
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	res, err := s.images.Infer(ctx, img, params)
	if err != nil {
		if errors.Is(err, errs.ErrModelNotReady) {
			sendErrorResponse(w, MsgModelNotReady, http.StatusServiceUnavailable)
			return
		}
		logger.Error().Err(err).Msg("detection failed")
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	res.Timings.ImageDecode = decodeTime

	resultPath := s.store.ImageResultPath(asset)
	if err := service.SaveImage(resultPath, res.Rendered); err != nil {
		logger.Error().Err(err).Msg("failed to save result")
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	dets := formatDetections(res.Detections)
	writeJSON(w, http.StatusOK, DetectResponse{
		Success:        true,
		UploadPath:     s.store.PublicPath(asset.Path),
		ResultPath:     s.store.PublicPath(resultPath),
		Detections:     dets,
		InferenceTime:  formatSeconds(res.InferenceTime),
		DetectionCount: len(dets),
	})
}
