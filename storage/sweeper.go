package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/Tutortoise/object-detection-service/jobs"
	"github.com/Tutortoise/object-detection-service/metric"
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// JobIndex is the part of the job store the sweeper needs.
type JobIndex interface {
	List(ctx context.Context) ([]jobs.Job, error)
	DeleteFinishedBefore(ctx context.Context, t time.Time) (int, error)
}

type SweepResult struct {
	FilesRemoved int
	BytesFreed   int64
	JobsPruned   int
}

// Sweeper deletes uploads, results and job records older than maxAge.
// Files of queued or running jobs are kept regardless of age.
type Sweeper struct {
	store     *Store
	jobs      JobIndex
	maxAge    time.Duration
	interval  time.Duration
	scheduler gocron.Scheduler
}

func NewSweeper(store *Store, index JobIndex, maxAge, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, jobs: index, maxAge: maxAge, interval: interval}
}

// Enabled reports whether a retention age is configured.
func (s *Sweeper) Enabled() bool {
	return s.maxAge > 0
}

// Sweep runs one retention pass relative to now.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	if !s.Enabled() {
		return res, nil
	}
	cutoff := now.Add(-s.maxAge)

	protected := make(map[string]struct{})
	if s.jobs != nil {
		all, err := s.jobs.List(ctx)
		if err != nil {
			return res, err
		}
		for _, job := range all {
			if job.State.Pending() {
				protected[filepath.Clean(job.InputPath)] = struct{}{}
				protected[filepath.Clean(job.OutputPath)] = struct{}{}
			}
		}
	}

	var errList []error
	for _, dir := range []string{s.store.UploadDir(), s.store.ResultDir()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			errList = append(errList, err)
			continue
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			p := filepath.Join(dir, entry.Name())
			if _, ok := protected[p]; ok {
				continue
			}
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(p); err != nil {
				errList = append(errList, err)
				continue
			}
			res.FilesRemoved++
			res.BytesFreed += info.Size()
		}
	}

	if s.jobs != nil {
		n, err := s.jobs.DeleteFinishedBefore(ctx, cutoff)
		if err != nil {
			errList = append(errList, err)
		}
		res.JobsPruned = n
	}

	metric.Count(metric.SweptFiles, int64(res.FilesRemoved), nil)
	log.Info().
		Int("files_removed", res.FilesRemoved).
		Int64("bytes_freed", res.BytesFreed).
		Int("jobs_pruned", res.JobsPruned).
		Msg("retention sweep finished")

	return res, errors.Join(errList...)
}

// Start schedules Sweep every interval. It does nothing when retention is
// disabled.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.Enabled() || s.interval <= 0 {
		log.Info().Msg("retention sweeper disabled")
		return nil
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			if _, err := s.Sweep(ctx, time.Now()); err != nil {
				log.Warn().Err(err).Msg("retention sweep incomplete")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}
	s.scheduler = scheduler
	scheduler.Start()
	log.Info().Dur("max_age", s.maxAge).Dur("interval", s.interval).Msg("retention sweeper started")
	return nil
}

func (s *Sweeper) Stop() error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.Shutdown()
}
