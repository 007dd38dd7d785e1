package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidBatchSize  = errors.New("batch must contain between 1 and 10 images")
	ErrInvalidJobState   = errors.New("job is not in the required state")
	ErrNoImagesUploaded  = errors.New("no images could be uploaded")
	ErrProviderFailure   = errors.New("provider failure")
	ErrPollTimeout       = errors.New("poll attempt ceiling exceeded")
	ErrStitchFailure     = errors.New("stitch failure")
	ErrInsufficientFunds = errors.New("insufficient credits")
)

// InsufficientCreditsError rejects a submission at admission time. It carries
// the caller's current balance so the client can surface a top-up hint.
type InsufficientCreditsError struct {
	Required int64
	Balance  int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Required, e.Balance)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientFunds }

// StageError wraps a per-item failure in either inference stage with the
// provider's error detail.
type StageError struct {
	Stage  string
	Detail string
	Err    error
}

func (e *StageError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s stage: %s: %v", e.Stage, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
