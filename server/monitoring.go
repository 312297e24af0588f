package server

import (
	"net/http"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/storage"
	"github.com/gorilla/mux"
)

type poolReporter interface {
	PoolMetrics() detections.PoolSnapshot
}

type QueueMetrics struct {
	Length   int `json:"length"`
	Capacity int `json:"capacity"`
}

type MetricsResponse struct {
	Model detections.Status            `json:"model"`
	Pool  *detections.PoolSnapshot     `json:"pool,omitempty"`
	Queue *QueueMetrics                `json:"queue,omitempty"`
	Jobs  map[string]int               `json:"jobs,omitempty"`
	Disk  map[string]storage.DiskStats `json:"disk,omitempty"`
}

func (s *Server) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status := s.models.Status()
	code := http.StatusOK
	if status.State != detections.StateReady {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	resp := MetricsResponse{Model: s.models.Status()}

	if det, err := s.models.Ready(); err == nil {
		if pr, ok := det.(poolReporter); ok {
			snapshot := pr.PoolMetrics()
			resp.Pool = &snapshot
		}
	}

	if s.dispatcher != nil {
		resp.Queue = &QueueMetrics{Length: s.dispatcher.QueueLength(), Capacity: s.dispatcher.QueueCapacity()}
	}
	if s.jobs != nil {
		if all, err := s.jobs.List(r.Context()); err == nil {
			resp.Jobs = make(map[string]int)
			for _, job := range all {
				resp.Jobs[string(job.State)]++
			}
		}
	}

	resp.Disk = make(map[string]storage.DiskStats)
	for name, dir := range map[string]string{"uploads": s.store.UploadDir(), "results": s.store.ResultDir()} {
		if stats, err := storage.DiskUsage(dir); err == nil {
			resp.Disk[name] = stats
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
