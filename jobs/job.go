package jobs

import (
	"context"
	"time"
)

type State string

const (
	StateUploaded  State = "uploaded"
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Pending reports whether the job is waiting for or held by a worker.
func (s State) Pending() bool {
	return s == StateQueued || s == StateRunning
}

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Job tracks one uploaded video through processing. Its state is kept
// independently of whether the output file exists.
type Job struct {
	ID              string     `json:"id"`
	State           State      `json:"state"`
	InputPath       string     `json:"input_path"`
	OutputPath      string     `json:"output_path"`
	ConfThreshold   float32    `json:"conf_threshold"`
	TotalFrames     int        `json:"total_frames"`
	ProcessedFrames int        `json:"processed_frames"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// NewJob returns a job in the uploaded state.
func NewJob(id, inputPath, outputPath string, conf float32) Job {
	return Job{
		ID:            id,
		State:         StateUploaded,
		InputPath:     inputPath,
		OutputPath:    outputPath,
		ConfThreshold: conf,
		CreatedAt:     time.Now().UTC(),
	}
}

// Progress is the completed share of frames in percent, or 0 while the
// frame count is unknown.
func (j Job) Progress() float64 {
	if j.TotalFrames <= 0 {
		return 0
	}
	p := float64(j.ProcessedFrames) / float64(j.TotalFrames) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Elapsed is the processing time of a started job.
func (j Job) Elapsed() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.FinishedAt != nil {
		return j.FinishedAt.Sub(*j.StartedAt)
	}
	return time.Since(*j.StartedAt)
}

// Store persists job records.
type Store interface {
	// Create inserts a new job; it fails with errs.ErrJobExists on duplicate ids.
	Create(ctx context.Context, job Job) error
	// Get fails with errs.ErrJobNotFound for unknown ids.
	Get(ctx context.Context, id string) (Job, error)
	// Update applies fn to the stored job atomically and returns the result.
	// An error from fn aborts the update.
	Update(ctx context.Context, id string, fn func(*Job) error) (Job, error)
	List(ctx context.Context) ([]Job, error)
	// DeleteFinishedBefore removes terminal jobs finished before t and
	// uploaded jobs created before t that were never submitted.
	DeleteFinishedBefore(ctx context.Context, t time.Time) (int, error)
	Close() error
}
