// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model defines the records shared by the encoding subsystem:
// jobs, profiles, their detail records and the error taxonomy.
package model

import "time"

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// IsTerminal reports whether no transition can leave s.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobRunning, JobCompleted, JobFailed:
		return true
	}
	return false
}

// ReasonCode is a stable machine-readable failure classification. The
// human-readable counterpart lives in Job.Detail.
type ReasonCode string

const (
	RNone              ReasonCode = ""
	RProfileNotFound   ReasonCode = "R_PROFILE_NOT_FOUND"
	RProfileNoDetails  ReasonCode = "R_PROFILE_NO_DETAILS"
	RDetailIncomplete  ReasonCode = "R_DETAIL_INCOMPLETE"
	RUnsupportedFormat ReasonCode = "R_UNSUPPORTED_FORMAT"
	RMissingInput      ReasonCode = "R_MISSING_INPUT"
	RSpawnFailed       ReasonCode = "R_SPAWN_FAILED"
	RTranscodeFailed   ReasonCode = "R_TRANSCODE_FAILED"
	REmptyOutput       ReasonCode = "R_EMPTY_OUTPUT"
	RCancelled         ReasonCode = "R_CANCELLED"
	RTimeout           ReasonCode = "R_TIMEOUT"
	RShutdown          ReasonCode = "R_SHUTDOWN"
	RInterrupted       ReasonCode = "R_INTERRUPTED"
	RQueueFull         ReasonCode = "R_QUEUE_FULL"
	RPublishFailed     ReasonCode = "R_PUBLISH_FAILED"
	RInternal          ReasonCode = "R_INTERNAL"
)

// Job is one submitted upload and its encoding outcome.
type Job struct {
	ID               int64      `json:"id"`
	SourceFilename   string     `json:"video_filename"`
	OriginalFilename string     `json:"original_filename"`
	ProfileID        int64      `json:"encoding_profile"`
	Status           JobStatus  `json:"status"`
	Reason           ReasonCode `json:"reason,omitempty"`
	Detail           string     `json:"detail,omitempty"`
	OutputFilename   string     `json:"output_filename,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}

// JobFilter narrows job listings. Zero values match everything.
type JobFilter struct {
	Status    JobStatus
	ProfileID int64
	Limit     int
}

// Match reports whether j satisfies the filter (Limit is applied by callers).
func (f JobFilter) Match(j *Job) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.ProfileID > 0 && j.ProfileID != f.ProfileID {
		return false
	}
	return true
}

// JobEvent is published after every committed transition.
type JobEvent struct {
	JobID     int64      `json:"job_id"`
	From      JobStatus  `json:"from"`
	To        JobStatus  `json:"to"`
	Reason    ReasonCode `json:"reason,omitempty"`
	Detail    string     `json:"detail,omitempty"`
	Job       Job        `json:"job"`
	Timestamp time.Time  `json:"ts"`
}
