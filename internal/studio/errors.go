package studio

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingAPIKey = errors.New("missing Kie.ai API key, add it in settings")
	ErrMissingImage  = errors.New("please upload an image first")
	ErrImageTooLarge = errors.New("image must be smaller than 10MB")
	ErrNotAnImage    = errors.New("upload must be an image")
	ErrInvalidCount  = fmt.Errorf("image count must be between 1 and %d", MaxCount)
	ErrNoCurrentJob  = errors.New("no active job, generate images first")
	ErrNoSelection   = errors.New("select at least one image before generating videos")
	ErrNoVideoPrompt = errors.New("video prompt is missing, generate images again")
	ErrNoAnalysis    = errors.New("image analysis is missing, generate images again")
	ErrUnknownImage  = errors.New("image does not belong to the current job")
	ErrNotReady      = errors.New("images are not ready yet")
	ErrBusy          = errors.New("a generation is already running")
	ErrRunStarted    = errors.New("run was already executed")
)

// ValidationError is returned before any remote call is made.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error) error {
	return &ValidationError{Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

type SlotFailure struct {
	Index   int
	Message string
}

// SlotFailuresError is returned when every image slot failed.
type SlotFailuresError struct {
	Failures []SlotFailure
}

func (e *SlotFailuresError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("image %d: %s", f.Index+1, f.Message))
	}
	return fmt.Sprintf("all %d image generations failed: %s", len(e.Failures), strings.Join(parts, "; "))
}
