package server

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/Tutortoise/object-detection-service/config"
	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/jobs"
	"github.com/Tutortoise/object-detection-service/service"
	"github.com/Tutortoise/object-detection-service/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

const shutdownTimeout = 10 * time.Second

// Models exposes the model loader to handlers.
type Models interface {
	Ready() (detections.Detector, error)
	Status() detections.Status
}

type Options struct {
	Config     config.Config
	Store      *storage.Store
	Models     Models
	Images     *service.Inferencer
	Jobs       jobs.Store
	Dispatcher *jobs.Dispatcher
}

type Server struct {
	cfg        config.Config
	store      *storage.Store
	models     Models
	images     *service.Inferencer
	jobs       jobs.Store
	dispatcher *jobs.Dispatcher
	handler    http.Handler
	httpServer *http.Server
}

func New(opts Options) *Server {
	s := &Server{
		cfg:        opts.Config,
		store:      opts.Store,
		models:     opts.Models,
		images:     opts.Images,
		jobs:       opts.Jobs,
		dispatcher: opts.Dispatcher,
	}

	r := mux.NewRouter()
	r.Use(recoverMiddleware, metricsMiddleware)
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	if s.cfg.ServesImages() {
		r.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	}
	if s.cfg.ServesVideos() {
		r.HandleFunc("/upload_video", s.handleUploadVideo).Methods(http.MethodPost)
		r.HandleFunc("/process_video/{video_id}", s.handleProcessVideo).Methods(http.MethodGet)
		r.HandleFunc("/video_status/{video_id}", s.handleVideoStatus).Methods(http.MethodGet)
	}
	s.addStaticRoutes(r)
	s.addMonitoringRoutes(r)

	s.handler = corsMiddleware(requestIDMiddleware(r))
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		// process_video?wait=true holds the connection for the whole job
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) addStaticRoutes(r *mux.Router) {
	uploads := "/" + storage.UploadsURL + "/"
	results := "/" + storage.ResultsURL + "/"
	r.PathPrefix(uploads).Handler(http.StripPrefix(uploads, http.FileServer(http.Dir(s.store.UploadDir())))).
		Methods(http.MethodGet, http.MethodHead)
	r.PathPrefix(results).Handler(http.StripPrefix(results, http.FileServer(http.Dir(s.store.ResultDir())))).
		Methods(http.MethodGet, http.MethodHead)
}

// Run serves until ctx is cancelled, then shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Str("mode", s.cfg.ServiceMode).Msg("starting server")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down server")
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type pageData struct {
	Title  string
	Images bool
	Videos bool
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := pageData{Title: s.cfg.AppName, Images: s.cfg.ServesImages(), Videos: s.cfg.ServesVideos()}
	if err := pageTemplate.Execute(w, data); err != nil {
		log.Error().Err(err).Msg("failed to render page")
	}
}
