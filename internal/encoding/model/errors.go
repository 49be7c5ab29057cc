// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is checks. The typed errors below match them.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrSpawn             = errors.New("transcoder spawn failed")
	ErrTranscode         = errors.New("transcode failed")
	ErrMissingInput      = errors.New("input missing")
	ErrCancelled         = errors.New("cancelled")
	ErrQueueFull         = errors.New("job queue full")
	ErrConflict          = errors.New("conflict")
)

// ValidationError reports bad input shape at an intake boundary.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a missing Job or Profile.
type NotFoundError struct {
	Kind string // "job", "profile", "profile detail"
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// UnsupportedFormatError reports a source container other than MP4.
type UnsupportedFormatError struct {
	Filename  string
	Extension string
}

func (e *UnsupportedFormatError) Error() string {
	ext := e.Extension
	if ext == "" {
		ext = "(none)"
	}
	return "unsupported format: " + ext
}

func (e *UnsupportedFormatError) Is(target error) bool { return target == ErrUnsupportedFormat }

// InvalidTransitionError reports an illegal edge or a failed From constraint.
type InvalidTransitionError struct {
	JobID int64
	From  JobStatus
	To    JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: job=%d state=%s target=%s", e.JobID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// SpawnError reports that the transcoder process could not be started.
type SpawnError struct {
	Bin string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Bin, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// TranscodeError reports a nonzero exit, or a zero exit that left no usable
// output (EmptyOutput).
type TranscodeError struct {
	ExitCode    int
	Stderr      []string
	EmptyOutput bool
}

func (e *TranscodeError) Error() string {
	if e.EmptyOutput {
		return "transcode produced empty output"
	}
	msg := fmt.Sprintf("transcoder exited with code %d", e.ExitCode)
	if n := len(e.Stderr); n > 0 {
		msg += ": " + strings.TrimSpace(e.Stderr[n-1])
	}
	return msg
}

func (e *TranscodeError) Is(target error) bool { return target == ErrTranscode }

// MissingInputError reports that the stored upload vanished before execution.
type MissingInputError struct {
	Path string
}

func (e *MissingInputError) Error() string {
	return "input missing: " + e.Path
}

func (e *MissingInputError) Is(target error) bool { return target == ErrMissingInput }

// ReasonFor maps an execution error onto its reason code.
func ReasonFor(err error) ReasonCode {
	var te *TranscodeError
	switch {
	case err == nil:
		return RNone
	case errors.Is(err, ErrCancelled):
		return RCancelled
	case errors.Is(err, ErrUnsupportedFormat):
		return RUnsupportedFormat
	case errors.Is(err, ErrMissingInput):
		return RMissingInput
	case errors.Is(err, ErrSpawn):
		return RSpawnFailed
	case errors.As(err, &te) && te.EmptyOutput:
		return REmptyOutput
	case errors.Is(err, ErrTranscode):
		return RTranscodeFailed
	default:
		return RInternal
	}
}
