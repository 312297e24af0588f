package detections

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Tutortoise/object-detection-service/errs"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateUnready State = "unready"
)

// Factory builds a detector. It is retried by the Loader until it succeeds.
type Factory func(ctx context.Context) (Detector, error)

// NewOnnxFactory returns a Factory building an OnnxDetector from cfg.
func NewOnnxFactory(cfg OnnxConfig) Factory {
	return func(context.Context) (Detector, error) {
		return NewOnnxDetector(cfg)
	}
}

type Status struct {
	State     State  `json:"state"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

// Loader builds the detector once in the background. Until the build
// succeeds the service stays up and reports itself unready.
type Loader struct {
	factory    Factory
	newBackOff func() backoff.BackOff

	mu       sync.RWMutex
	detector Detector
	state    State
	lastErr  error
	attempts int
	ready    chan struct{}
	done     chan struct{}
}

type LoaderOption func(*Loader)

// WithBackOff overrides the retry policy.
func WithBackOff(newBackOff func() backoff.BackOff) LoaderOption {
	return func(l *Loader) {
		l.newBackOff = newBackOff
	}
}

func NewLoader(factory Factory, opts ...LoaderOption) *Loader {
	l := &Loader{
		factory:    factory,
		newBackOff: defaultBackOff,
		state:      StateLoading,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	return b
}

// Start launches the load loop. It returns immediately.
func (l *Loader) Start(ctx context.Context) {
	go l.run(ctx)
}

func (l *Loader) run(ctx context.Context) {
	defer close(l.done)

	op := func() error {
		det, err := l.factory(ctx)

		l.mu.Lock()
		defer l.mu.Unlock()
		l.attempts++
		if err != nil {
			l.state = StateUnready
			l.lastErr = err
			log.Warn().Err(err).Int("attempt", l.attempts).Msg("model load failed, retrying")
			return err
		}
		l.detector = det
		l.state = StateReady
		l.lastErr = nil
		close(l.ready)
		log.Info().Int("attempt", l.attempts).Msg("model ready")
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(l.newBackOff(), ctx)); err != nil {
		log.Error().Err(err).Msg("model loader stopped before the model became ready")
	}
}

// Ready returns the detector, or ErrModelNotReady while it is unavailable.
func (l *Loader) Ready() (Detector, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state == StateReady {
		return l.detector, nil
	}
	if l.lastErr != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrModelNotReady, l.lastErr)
	}
	return nil, errs.ErrModelNotReady
}

// Wait blocks until the detector is ready or ctx ends.
func (l *Loader) Wait(ctx context.Context) (Detector, error) {
	select {
	case <-l.ready:
		return l.Ready()
	case <-l.done:
		return l.Ready()
	case <-ctx.Done():
		if _, err := l.Ready(); err != nil {
			return nil, fmt.Errorf("%w: %v", err, ctx.Err())
		}
		return l.Ready()
	}
}

func (l *Loader) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := Status{State: l.state, Attempts: l.attempts}
	if l.lastErr != nil {
		s.LastError = l.lastErr.Error()
	}
	return s
}

// Close releases the detector if it holds resources.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if closer, ok := l.detector.(io.Closer); ok {
		l.detector = nil
		l.state = StateUnready
		return closer.Close()
	}
	return nil
}
