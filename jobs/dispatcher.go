package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Tutortoise/object-detection-service/errs"
	"github.com/Tutortoise/object-detection-service/metric"
	"github.com/Tutortoise/object-detection-service/models"
	"github.com/rs/zerolog/log"
)

// Handler processes one job. report may be called any number of times while
// the job runs.
type Handler func(ctx context.Context, job Job, report func(models.Progress)) (*models.VideoResult, error)

// Dispatcher feeds submitted jobs to a fixed set of workers through a
// bounded queue.
type Dispatcher struct {
	store   Store
	handler Handler
	workers int
	queue   chan string

	mu      sync.Mutex
	closed  bool
	started bool
	done    map[string]chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(store Store, handler Handler, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:   store,
		handler: handler,
		workers: workers,
		queue:   make(chan string, queueSize),
		done:    make(map[string]chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start marks jobs left pending by a previous process as failed and launches
// the workers.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	if err := d.recover(ctx); err != nil {
		return err
	}
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(i)
	}
	log.Info().Int("workers", d.workers).Int("queue_size", cap(d.queue)).Msg("video dispatcher started")
	return nil
}

func (d *Dispatcher) recover(ctx context.Context) error {
	all, err := d.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	for _, job := range all {
		if !job.State.Pending() {
			continue
		}
		_, err := d.store.Update(ctx, job.ID, func(j *Job) error {
			finish(j, 0, errors.New("interrupted by service restart"))
			return nil
		})
		if err != nil {
			return err
		}
		log.Warn().Str("job_id", job.ID).Msg("marked interrupted job as failed")
	}
	return nil
}

// Submit queues a job for processing with the given confidence threshold.
// It fails with errs.ErrAlreadyQueued while the job is pending and with
// errs.ErrQueueFull when no queue slot is free.
func (d *Dispatcher) Submit(ctx context.Context, id string, conf float32) (Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Job{}, errs.ErrQueueFull
	}
	if len(d.queue) == cap(d.queue) {
		if job, err := d.store.Get(ctx, id); err == nil && job.State.Pending() {
			return Job{}, errs.ErrAlreadyQueued
		}
		return Job{}, errs.ErrQueueFull
	}

	job, err := d.store.Update(ctx, id, func(j *Job) error {
		if j.State.Pending() {
			return errs.ErrAlreadyQueued
		}
		j.State = StateQueued
		j.ConfThreshold = conf
		j.ProcessedFrames = 0
		j.Error = ""
		j.StartedAt = nil
		j.FinishedAt = nil
		return nil
	})
	if err != nil {
		return Job{}, err
	}

	if _, ok := d.done[id]; !ok {
		d.done[id] = make(chan struct{})
	}
	d.queue <- id
	metric.Incr(metric.JobCount, []string{metric.Tag(metric.TagOutcome, string(StateQueued))})
	log.Info().Str("job_id", id).Float32("conf_threshold", conf).Msg("video job queued")
	return job, nil
}

// Wait blocks until the job leaves the pending states or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context, id string) (Job, error) {
	d.mu.Lock()
	ch, ok := d.done[id]
	d.mu.Unlock()

	job, err := d.store.Get(ctx, id)
	if err != nil || !job.State.Pending() || !ok {
		return job, err
	}

	select {
	case <-ch:
		return d.store.Get(ctx, id)
	case <-ctx.Done():
		return job, ctx.Err()
	}
}

// QueueLength is the number of jobs waiting for a worker.
func (d *Dispatcher) QueueLength() int {
	return len(d.queue)
}

func (d *Dispatcher) QueueCapacity() int {
	return cap(d.queue)
}

// Shutdown stops accepting jobs and waits for queued work to drain. When ctx
// ends first, running jobs are cancelled.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-drained
		return ctx.Err()
	}
}

func (d *Dispatcher) work(n int) {
	defer d.wg.Done()
	for id := range d.queue {
		d.run(id)
	}
	log.Debug().Int("worker", n).Msg("video worker stopped")
}

func (d *Dispatcher) run(id string) {
	defer d.notify(id)
	ctx := d.ctx

	job, err := d.store.Update(ctx, id, func(j *Job) error {
		now := time.Now().UTC()
		j.State = StateRunning
		j.StartedAt = &now
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("failed to start video job")
		return
	}

	logger := log.With().Str("job_id", id).Logger()
	logger.Info().Str("input", job.InputPath).Msg("video job started")

	report := func(p models.Progress) {
		_, err := d.store.Update(ctx, id, func(j *Job) error {
			j.ProcessedFrames = p.ProcessedFrames
			j.TotalFrames = p.TotalFrames
			return nil
		})
		if err != nil {
			logger.Warn().Err(err).Msg("failed to record progress")
		}
	}

	result, runErr := d.handler(ctx, job, report)

	processed := 0
	total := 0
	if result != nil {
		processed = result.ProcessedFrames
		total = result.Info.TotalFrames
	}

	// record the outcome even when the worker context was cancelled
	finished, err := d.store.Update(context.WithoutCancel(ctx), id, func(j *Job) error {
		if total > 0 {
			j.TotalFrames = total
		}
		finish(j, processed, runErr)
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to record video job outcome")
		return
	}

	tags := []string{metric.Tag(metric.TagOutcome, string(finished.State))}
	metric.Incr(metric.JobCount, tags)
	metric.Timing(metric.JobLatency, finished.Elapsed(), tags)

	if runErr != nil {
		logger.Error().Err(runErr).Msg("video job failed")
		return
	}
	logger.Info().
		Int("processed_frames", finished.ProcessedFrames).
		Dur("elapsed", finished.Elapsed()).
		Msg("video job succeeded")
}

func finish(j *Job, processed int, err error) {
	now := time.Now().UTC()
	j.FinishedAt = &now
	if processed > 0 || err == nil {
		j.ProcessedFrames = processed
	}
	if err != nil {
		j.State = StateFailed
		j.Error = err.Error()
		return
	}
	j.State = StateSucceeded
	j.Error = ""
}

func (d *Dispatcher) notify(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.done[id]; ok {
		close(ch)
		delete(d.done, id)
	}
}
