// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package registry is the only writer of Job records after creation. It
// enforces the job state machine and publishes every committed transition.
package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ManuGH/vencode/internal/encoding/bus"
	"github.com/ManuGH/vencode/internal/encoding/fsm"
	"github.com/ManuGH/vencode/internal/encoding/model"
	"github.com/ManuGH/vencode/internal/encoding/store"
	"github.com/ManuGH/vencode/internal/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vencode_job_transitions_total",
		Help: "Committed job state transitions",
	}, []string{"from", "to"})

	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vencode_job_transitions_rejected_total",
		Help: "Job transitions rejected by the state machine",
	}, []string{"from", "to"})

	jobsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vencode_jobs_ended_total",
		Help: "Jobs reaching a terminal state, by status and reason",
	}, []string{"status", "reason"})
)

const defaultPublishTimeout = 2 * time.Second

// Transition requests a move to To. When From is set the move only happens
// if the job is currently in From. Output is recorded on completion.
type Transition struct {
	To     model.JobStatus
	From   model.JobStatus
	Reason model.ReasonCode
	Detail string
	Output string
}

// Registry creates, mutates and reads jobs.
type Registry struct {
	store          store.JobStore
	publisher      bus.Publisher
	now            func() time.Time
	publishTimeout time.Duration
	locks          *keyedMutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithPublisher publishes a model.JobEvent for every committed transition.
func WithPublisher(p bus.Publisher) Option {
	return func(r *Registry) { r.publisher = p }
}

// WithPublishTimeout bounds how long a transition waits on slow subscribers.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Registry) { r.publishTimeout = d }
}

// New returns a Registry over s.
func New(s store.JobStore, opts ...Option) *Registry {
	r := &Registry{
		store:          s,
		now:            time.Now,
		publishTimeout: defaultPublishTimeout,
		locks:          newKeyedMutex(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// CreateJob stores a new queued job. Profile existence is not checked here.
func (r *Registry) CreateJob(ctx context.Context, sourceFilename, originalFilename string, profileID int64) (*model.Job, error) {
	if strings.TrimSpace(sourceFilename) == "" {
		return nil, &model.ValidationError{Field: "filename", Msg: "must not be empty"}
	}
	if profileID <= 0 {
		return nil, &model.ValidationError{Field: "profile_id", Msg: "must be a positive identifier"}
	}
	now := r.now().UTC()
	j, err := r.store.CreateJob(ctx, &model.Job{
		SourceFilename:   sourceFilename,
		OriginalFilename: originalFilename,
		ProfileID:        profileID,
		Status:           model.JobQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return nil, err
	}
	logger := log.WithComponentFromContext(log.ContextWithJobID(ctx, j.ID), "registry")
	logger.Info().
		Str(log.FieldEvent, "job.created").
		Int64(log.FieldProfileID, profileID).
		Str("video_filename", sourceFilename).
		Msg("job created")
	return j, nil
}

// Get returns the current job record.
func (r *Registry) Get(ctx context.Context, id int64) (*model.Job, error) {
	return r.store.GetJob(ctx, id)
}

// List returns jobs matching filter ordered by id.
func (r *Registry) List(ctx context.Context, filter model.JobFilter) ([]*model.Job, error) {
	return r.store.ListJobs(ctx, filter)
}

// Transition applies t to job id. At most one transition per job is in
// flight; a rejected transition leaves the job unchanged and returns an
// *model.InvalidTransitionError.
func (r *Registry) Transition(ctx context.Context, id int64, t Transition) (*model.Job, error) {
	release := r.locks.Lock(id)
	defer release()

	var from model.JobStatus
	updated, err := r.store.UpdateJob(ctx, id, func(cur *model.Job) error {
		from = cur.Status
		if t.From != "" && cur.Status != t.From {
			return &model.InvalidTransitionError{JobID: id, From: cur.Status, To: t.To}
		}
		if err := fsm.Jobs.Check(cur.Status, t.To); err != nil {
			return &model.InvalidTransitionError{JobID: id, From: cur.Status, To: t.To}
		}
		now := r.now().UTC()
		if now.Before(cur.UpdatedAt) {
			now = cur.UpdatedAt
		}
		cur.Status = t.To
		cur.UpdatedAt = now
		cur.Reason = t.Reason
		cur.Detail = t.Detail
		if t.To == model.JobCompleted {
			cur.OutputFilename = t.Output
		}
		return nil
	})

	logger := log.WithComponentFromContext(log.ContextWithJobID(ctx, id), "registry")
	if err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			rejectedTotal.WithLabelValues(string(from), string(t.To)).Inc()
			logger.Warn().
				Str(log.FieldEvent, "job.transition_rejected").
				Str(log.FieldOldState, string(from)).
				Str(log.FieldNewState, string(t.To)).
				Msg("job transition rejected")
		}
		return nil, err
	}

	transitionsTotal.WithLabelValues(string(from), string(t.To)).Inc()
	if t.To.IsTerminal() {
		jobsEndedTotal.WithLabelValues(string(t.To), string(t.Reason)).Inc()
	}
	level := zerolog.InfoLevel
	if t.To == model.JobFailed {
		level = zerolog.WarnLevel
	}
	logger.WithLevel(level).Str(log.FieldEvent, "job.transition").
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(t.To)).
		Str(log.FieldReason, string(t.Reason)).
		Str("detail", t.Detail).
		Msg("job transitioned")

	r.publish(ctx, from, updated)
	return updated, nil
}

// publish runs under the job lock so subscribers observe per-job order. A
// stalled bus therefore delays the job's next transition by at most
// publishTimeout; the committed state is never rolled back.
func (r *Registry) publish(ctx context.Context, from model.JobStatus, j *model.Job) {
	if r.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.publishTimeout)
	defer cancel()
	evt := model.JobEvent{
		JobID:     j.ID,
		From:      from,
		To:        j.Status,
		Reason:    j.Reason,
		Detail:    j.Detail,
		Job:       *j,
		Timestamp: j.UpdatedAt,
	}
	if err := r.publisher.Publish(pctx, bus.TopicJobTransition, evt); err != nil {
		logger := log.WithComponentFromContext(log.ContextWithJobID(ctx, j.ID), "registry")
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "job.publish_failed").
			Msg("job event not delivered")
	}
}
