package server

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/Tutortoise/object-detection-service/errs"
	"github.com/Tutortoise/object-detection-service/jobs"
	"github.com/Tutortoise/object-detection-service/service"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

func (s *Server) handleUploadVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	asset, err := s.saveFormFile(w, r, "video")
	if err != nil {
		status, msg := uploadError(err, MsgNoVideo, MsgNoVideoSelected)
		sendErrorResponse(w, msg, status)
		return
	}

	conf := parseConfidence(r.FormValue("confidence"), s.cfg.ConfThreshold)
	outputPath := s.store.VideoOutputPath(asset.ID)
	job := jobs.NewJob(asset.ID, asset.Path, outputPath, conf)
	if err := s.jobs.Create(ctx, job); err != nil {
		log.Error().Err(err).Str("video_id", asset.ID).Msg("failed to record upload")
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	log.Info().
		Str("request_id", service.RequestID(ctx)).
		Str("video_id", asset.ID).
		Float32("conf_threshold", conf).
		Msg("video uploaded")

	writeJSON(w, http.StatusOK, UploadVideoResponse{
		Success:       true,
		VideoID:       asset.ID,
		UploadPath:    s.store.PublicPath(asset.Path),
		OutputPath:    s.store.PublicPath(outputPath),
		ConfThreshold: conf,
	})
}

// lookupJob returns the job for id. Uploads that have a file but no record,
// for example after a restart with the memory store, get a record created.
func (s *Server) lookupJob(r *http.Request, id string) (jobs.Job, error) {
	ctx := r.Context()
	job, err := s.jobs.Get(ctx, id)
	if !errors.Is(err, errs.ErrJobNotFound) {
		return job, err
	}

	asset, err := s.store.FindUpload(id, r.URL.Query().Get("file_extension"))
	if err != nil {
		return jobs.Job{}, err
	}
	job = jobs.NewJob(id, asset.Path, s.store.VideoOutputPath(id), s.cfg.ConfThreshold)
	if err := s.jobs.Create(ctx, job); err != nil && !errors.Is(err, errs.ErrJobExists) {
		return jobs.Job{}, err
	}
	return s.jobs.Get(ctx, id)
}

func (s *Server) handleProcessVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["video_id"]
	query := r.URL.Query()

	job, err := s.lookupJob(r, id)
	switch {
	case errors.Is(err, errs.ErrInvalidID):
		sendErrorResponse(w, MsgInvalidVideoID, http.StatusBadRequest)
		return
	case errors.Is(err, errs.ErrJobNotFound):
		sendErrorResponse(w, MsgVideoNotFound, http.StatusNotFound)
		return
	case err != nil:
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if _, err := s.models.Ready(); err != nil {
		sendErrorResponse(w, MsgModelNotReady, http.StatusServiceUnavailable)
		return
	}

	conf := parseConfidence(query.Get("conf_threshold"), job.ConfThreshold)
	queued, err := s.dispatcher.Submit(ctx, id, conf)
	switch {
	case errors.Is(err, errs.ErrAlreadyQueued):
		writeJSON(w, http.StatusConflict, ProcessVideoResponse{
			Success: false,
			Message: MsgVideoBusy,
			Status:  string(job.State),
			Error:   err.Error(),
		})
		return
	case errors.Is(err, errs.ErrQueueFull):
		sendErrorResponse(w, MsgQueueFull, http.StatusServiceUnavailable)
		return
	case err != nil:
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	outputPath := s.store.PublicPath(queued.OutputPath)
	if wait, _ := strconv.ParseBool(query.Get("wait")); !wait {
		writeJSON(w, http.StatusOK, ProcessVideoResponse{
			Success:    true,
			Message:    MsgVideoQueued,
			OutputPath: &outputPath,
			Status:     string(queued.State),
		})
		return
	}

	done, err := s.dispatcher.Wait(ctx, id)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !done.State.Terminal() {
		// the worker finished but its outcome was not recorded
		log.Error().Str("video_id", id).Str("state", string(done.State)).Msg("video job outcome unknown")
		sendErrorResponse(w, MsgVideoFailed, http.StatusInternalServerError)
		return
	}
	processed := done.ProcessedFrames
	if done.State == jobs.StateFailed {
		writeJSON(w, http.StatusInternalServerError, ProcessVideoResponse{
			Success:         false,
			Message:         MsgVideoFailed,
			Status:          string(done.State),
			ProcessedFrames: &processed,
			ElapsedTime:     formatSeconds(done.Elapsed()),
			Error:           done.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, ProcessVideoResponse{
		Success:         true,
		Message:         MsgVideoProcessed,
		OutputPath:      &outputPath,
		Status:          string(done.State),
		ProcessedFrames: &processed,
		ElapsedTime:     formatSeconds(done.Elapsed()),
	})
}

func (s *Server) handleVideoStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["video_id"]
	if _, err := uuid.Parse(id); err != nil {
		writeJSON(w, http.StatusNotFound, NotFoundStatus{Status: StatusNotFound})
		return
	}

	job, err := s.jobs.Get(r.Context(), id)
	if errors.Is(err, errs.ErrJobNotFound) {
		// no record: fall back to the output file alone
		outputPath := s.store.VideoOutputPath(id)
		if info, statErr := os.Stat(outputPath); statErr == nil && info.Size() > 0 {
			writeJSON(w, http.StatusOK, CompleteStatus{
				Status:     StatusComplete,
				OutputPath: s.store.PublicPath(outputPath),
				FileSize:   info.Size(),
			})
			return
		}
		writeJSON(w, http.StatusNotFound, NotFoundStatus{Status: StatusNotFound})
		return
	}
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch job.State {
	case jobs.StateSucceeded:
		info, err := os.Stat(job.OutputPath)
		if err != nil {
			writeJSON(w, http.StatusOK, FailedStatus{Status: StatusFailed, Error: MsgOutputExpired})
			return
		}
		writeJSON(w, http.StatusOK, CompleteStatus{
			Status:      StatusComplete,
			OutputPath:  s.store.PublicPath(job.OutputPath),
			FileSize:    info.Size(),
			TimeElapsed: job.Elapsed().Seconds(),
		})
	case jobs.StateFailed:
		writeJSON(w, http.StatusOK, FailedStatus{Status: StatusFailed, Error: job.Error})
	default:
		writeJSON(w, http.StatusOK, ProcessingStatus{
			Status:          StatusProcessing,
			State:           string(job.State),
			ProcessedFrames: job.ProcessedFrames,
			TotalFrames:     job.TotalFrames,
			Progress:        job.Progress(),
		})
	}
}
