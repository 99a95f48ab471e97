package convert

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout reports a conversion that exceeded its estimated budget.
	// Callers treat it differently from other failures: the sender gets a
	// "still processing" notice instead of an error reply.
	ErrTimeout = errors.New("convert: conversion timed out")

	// ErrEmptyResult reports a backend that answered success with no body.
	ErrEmptyResult = errors.New("convert: backend returned empty result")

	// ErrOutputNotFound reports a subprocess run that exited cleanly but
	// produced no recognizable output file.
	ErrOutputNotFound = errors.New("convert: no output file produced")
)

// BackendError carries diagnostic detail from a failed backend attempt.
// Exactly one of Status (remote) or ExitCode (local) is meaningful,
// indicated by which backend name it carries.
type BackendError struct {
	Backend  string
	Status   int    // HTTP status for the remote backend, 0 otherwise
	ExitCode int    // process exit code for the local backend, 0 otherwise
	Stderr   string // captured subprocess stderr, truncated
	Body     string // remote response body, truncated
	Err      error
}

func (e *BackendError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("convert: backend %s: status %d: %s", e.Backend, e.Status, e.Body)
	case e.Stderr != "":
		return fmt.Sprintf("convert: backend %s: exit %d: %s", e.Backend, e.ExitCode, e.Stderr)
	case e.Err != nil:
		return fmt.Sprintf("convert: backend %s: %v", e.Backend, e.Err)
	default:
		return fmt.Sprintf("convert: backend %s failed", e.Backend)
	}
}

func (e *BackendError) Unwrap() error { return e.Err }
