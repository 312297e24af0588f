package errs

import "errors"

var (
	ErrNoFile         = errors.New("no file provided")
	ErrEmptyFilename  = errors.New("no file selected")
	ErrInvalidID      = errors.New("invalid identifier")
	ErrModelNotReady  = errors.New("model is not ready")
	ErrJobNotFound    = errors.New("job not found")
	ErrJobExists      = errors.New("job already exists")
	ErrQueueFull      = errors.New("processing queue is full")
	ErrAlreadyQueued  = errors.New("job is already queued or running")
	ErrVideoOpen      = errors.New("could not open video")
	ErrPoolClosed     = errors.New("pool is closed")
	ErrAcquireTimeout = errors.New("timeout waiting for available session")
)
