package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Job lifecycle errors
	ErrUnknownJobType  = errors.New("unknown job type")
	ErrAlreadyRunning  = errors.New("job type already has an active run")
	ErrNotCancellable  = errors.New("job is not cancellable in its current status")
	ErrJobFinished     = errors.New("job has already reached a terminal status")
	ErrDispatchFailed  = errors.New("job dispatch failed")
	ErrQueueFull       = errors.New("worker queue full")
	ErrDuplicateJobKey = errors.New("duplicate job type key")
)
