package kie

import (
	"fmt"
	"time"
)

// SubmissionError reports a createTask call that did not yield a task id.
type SubmissionError struct {
	StatusCode int
	// Code is the envelope code when the HTTP call itself succeeded.
	Code    int
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("kie: createTask failed: %s: %v", e.Message, e.Err)
	}
	return "kie: createTask failed: " + e.Message
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TransportError reports a status request that failed or returned a
// malformed envelope.
type TransportError struct {
	TaskID     string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("kie: recordInfo failed for task %s: %s: %v", e.TaskID, e.Message, e.Err)
	}
	return fmt.Sprintf("kie: recordInfo failed for task %s: %s", e.TaskID, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TaskFailedError carries the provider's failure message verbatim.
type TaskFailedError struct {
	TaskID  string
	Message string
}

func (e *TaskFailedError) Error() string {
	if e.Message == "" {
		return "kie: task failed"
	}
	return e.Message
}

type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for task %s to complete", e.Timeout, e.TaskID)
}
