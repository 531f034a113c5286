package jobs

import "errors"

// Sentinel errors surfaced by the store/service; the HTTP boundary maps
// these to status codes per the error-kind table (validation->400,
// not-found->404, invalid-state->409).
var (
	ErrNoJobsAvailable = errors.New("jobs: no jobs available")
	ErrJobNotFound     = errors.New("jobs: job not found")
	ErrInvalidState    = errors.New("jobs: invalid state transition")
	ErrNotDeletable    = errors.New("jobs: job is not deletable")
	ErrInvalidRequest  = errors.New("jobs: invalid request")
)
