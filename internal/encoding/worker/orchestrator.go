// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package worker accepts uploads, queues jobs and runs them on a bounded
// pool of transcoder workers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/vencode/internal/encoding/ffmpeg"
	"github.com/ManuGH/vencode/internal/encoding/model"
	"github.com/ManuGH/vencode/internal/encoding/registry"
	"github.com/ManuGH/vencode/internal/log"
	"github.com/ManuGH/vencode/internal/telemetry"
	"github.com/ManuGH/vencode/internal/uploads"
)

const (
	defaultQueueSize = 256
	cancelAttempts   = 5
)

var (
	errCancelRequested = errors.New("cancel requested")
	errJobTimeout      = errors.New("job timeout")
)

// Transcoder runs one encode to completion. *ffmpeg.Executor implements it.
type Transcoder interface {
	Execute(ctx context.Context, input, output string, args ffmpeg.Args) (ffmpeg.Result, error)
}

// ProfileLookup resolves a profile with its details.
type ProfileLookup interface {
	GetProfile(ctx context.Context, id int64) (*model.Profile, error)
}

// UploadStore persists raw uploads. *uploads.Store implements it.
type UploadStore interface {
	Save(ctx context.Context, body io.Reader, original string) (string, error)
	Path(stored string) (string, error)
	Remove(stored string) error
}

// OutputSink receives a finished output before the job is marked completed.
type OutputSink interface {
	Publish(ctx context.Context, job *model.Job, localPath string) error
}

// Config sizes the pool and locates outputs.
type Config struct {
	Workers    int
	QueueSize  int
	OutputDir  string
	JobTimeout time.Duration
}

// Deps are the collaborators injected at construction.
type Deps struct {
	Registry   *registry.Registry
	Profiles   ProfileLookup
	Uploads    UploadStore
	Transcoder Transcoder
	Sink       OutputSink // optional
}

type activeJob struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Orchestrator is the only component that coordinates job execution.
type Orchestrator struct {
	deps  Deps
	cfg   Config
	queue chan int64

	mu     sync.Mutex
	active map[int64]*activeJob

	started atomic.Bool
}

// New validates deps and applies defaults: Workers defaults to NumCPU.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("worker: registry is required")
	case deps.Profiles == nil:
		return nil, errors.New("worker: profile lookup is required")
	case deps.Uploads == nil:
		return nil, errors.New("worker: upload store is required")
	case deps.Transcoder == nil:
		return nil, errors.New("worker: transcoder is required")
	case strings.TrimSpace(cfg.OutputDir) == "":
		return nil, errors.New("worker: output dir is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		queue:  make(chan int64, cfg.QueueSize),
		active: make(map[int64]*activeJob),
	}, nil
}

// Submit stores the upload, creates a queued job and enqueues it. It
// returns as soon as the job is queued; execution outcomes are observed via
// Status. A full queue fails the job with R_QUEUE_FULL and returns an error
// matching model.ErrQueueFull together with the failed job.
func (o *Orchestrator) Submit(ctx context.Context, body io.Reader, filename string, profileID int64) (*model.Job, error) {
	if strings.TrimSpace(filename) == "" {
		submitTotal.WithLabelValues("invalid").Inc()
		return nil, &model.ValidationError{Field: "filename", Msg: "must not be empty"}
	}
	if profileID <= 0 {
		submitTotal.WithLabelValues("invalid").Inc()
		return nil, &model.ValidationError{Field: "profile_id", Msg: "must be positive"}
	}
	original, err := uploads.SanitizeFilename(filename)
	if err != nil {
		submitTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	stored, err := o.deps.Uploads.Save(ctx, body, original)
	if err != nil {
		submitTotal.WithLabelValues("upload_failed").Inc()
		return nil, fmt.Errorf("store upload: %w", err)
	}

	job, err := o.deps.Registry.CreateJob(ctx, stored, original, profileID)
	if err != nil {
		if rmErr := o.deps.Uploads.Remove(stored); rmErr != nil {
			logger := log.WithContext(ctx, log.WithComponent("worker"))
			logger.Warn().Err(rmErr).
				Str(log.FieldPath, stored).Msg("failed to remove orphaned upload")
		}
		submitTotal.WithLabelValues("create_failed").Inc()
		return nil, err
	}

	select {
	case o.queue <- job.ID:
		queueDepth.Set(float64(len(o.queue)))
		submitTotal.WithLabelValues("queued").Inc()
		return job, nil
	default:
	}

	submitTotal.WithLabelValues("queue_full").Inc()
	failed, err := o.deps.Registry.Transition(context.WithoutCancel(ctx), job.ID, registry.Transition{
		To:     model.JobFailed,
		From:   model.JobQueued,
		Reason: model.RQueueFull,
		Detail: "job queue full",
	})
	if err != nil {
		return nil, fmt.Errorf("fail job %d on full queue: %w", job.ID, err)
	}
	return failed, fmt.Errorf("job %d: %w", job.ID, model.ErrQueueFull)
}

// Status returns the current job record.
func (o *Orchestrator) Status(ctx context.Context, id int64) (*model.Job, error) {
	return o.deps.Registry.Get(ctx, id)
}

// List returns jobs matching filter.
func (o *Orchestrator) List(ctx context.Context, filter model.JobFilter) ([]*model.Job, error) {
	return o.deps.Registry.List(ctx, filter)
}

// Cancel stops a job. Terminal jobs are returned unchanged. A queued job is
// failed without spawning; a running job's process group is terminated and
// Cancel waits until the worker has committed the failed state.
func (o *Orchestrator) Cancel(ctx context.Context, id int64) (*model.Job, error) {
	for attempt := 0; attempt < cancelAttempts; attempt++ {
		job, err := o.deps.Registry.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}

		if entry := o.lookupActive(id); entry != nil {
			entry.cancel(errCancelRequested)
			select {
			case <-entry.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return o.deps.Registry.Get(ctx, id)
		}

		if job.Status == model.JobQueued {
			failed, err := o.deps.Registry.Transition(ctx, id, registry.Transition{
				To:     model.JobFailed,
				From:   model.JobQueued,
				Reason: model.RCancelled,
				Detail: "cancelled",
			})
			if err == nil {
				return failed, nil
			}
			if !errors.Is(err, model.ErrInvalidTransition) {
				return nil, err
			}
		}

		// A worker claimed the job between our reads; look again.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("cancel job %d: state kept changing", id)
}

// Run performs the recovery sweep and serves the queue with the worker pool
// until ctx is done. Jobs still running at shutdown fail with R_SHUTDOWN.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return errors.New("worker: orchestrator already running")
	}
	logger := log.WithComponent("worker")

	if err := o.failOrphans(ctx); err != nil {
		return fmt.Errorf("recovery sweep: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < o.cfg.Workers; i++ {
		g.Go(func() error {
			o.loop(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return o.requeuePending(gctx)
	})

	logger.Info().
		Str(log.FieldEvent, "worker.pool_started").
		Int("workers", o.cfg.Workers).
		Int("queue_size", o.cfg.QueueSize).
		Msg("worker pool started")

	err := g.Wait()
	logger.Info().Str(log.FieldEvent, "worker.pool_stopped").Msg("worker pool stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (o *Orchestrator) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-o.queue:
			queueDepth.Set(float64(len(o.queue)))
			o.process(ctx, id)
		}
	}
}

// failOrphans marks jobs left running by a previous process as failed.
// Nothing can be running in this process before Run.
func (o *Orchestrator) failOrphans(ctx context.Context) error {
	logger := log.WithComponent("worker")
	running, err := o.deps.Registry.List(ctx, model.JobFilter{Status: model.JobRunning})
	if err != nil {
		return err
	}
	for _, j := range running {
		_, err := o.deps.Registry.Transition(ctx, j.ID, registry.Transition{
			To:     model.JobFailed,
			From:   model.JobRunning,
			Reason: model.RInterrupted,
			Detail: "interrupted by service restart",
		})
		if err != nil && !errors.Is(err, model.ErrInvalidTransition) {
			return fmt.Errorf("fail orphaned job %d: %w", j.ID, err)
		}
		o.removeOutput(j.ID)
		recoveredTotal.WithLabelValues("interrupted").Inc()
		logger.Warn().
			Str(log.FieldEvent, "worker.recovered").
			Int64(log.FieldJobID, j.ID).
			Msg("failed job interrupted by restart")
	}
	return nil
}

// requeuePending re-enqueues jobs persisted as queued. Duplicates of ids
// submitted concurrently are harmless: process skips claimed or settled jobs.
func (o *Orchestrator) requeuePending(ctx context.Context) error {
	queued, err := o.deps.Registry.List(ctx, model.JobFilter{Status: model.JobQueued})
	if err != nil {
		logger := log.WithComponent("worker")
		logger.Error().Err(err).Msg("failed to list queued jobs for recovery")
		return nil
	}
	for _, j := range queued {
		select {
		case <-ctx.Done():
			return nil
		case o.queue <- j.ID:
			queueDepth.Set(float64(len(o.queue)))
			recoveredTotal.WithLabelValues("requeued").Inc()
		}
	}
	return nil
}

func (o *Orchestrator) lookupActive(id int64) *activeJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[id]
}

func (o *Orchestrator) claim(id int64, entry *activeJob) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[id]; busy {
		return false
	}
	o.active[id] = entry
	return true
}

func (o *Orchestrator) release(id int64) {
	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
}

func (o *Orchestrator) jobOutputDir(id int64) string {
	return filepath.Join(o.cfg.OutputDir, strconv.FormatInt(id, 10))
}

func (o *Orchestrator) removeOutput(id int64) {
	if err := os.RemoveAll(o.jobOutputDir(id)); err != nil {
		logger := log.WithComponent("worker")
		logger.Warn().Err(err).Int64(log.FieldJobID, id).Msg("failed to remove partial output")
	}
}

// OutputPath returns where a completed job's output lives on local disk.
func (o *Orchestrator) OutputPath(job *model.Job) string {
	if job == nil || job.OutputFilename == "" {
		return ""
	}
	return filepath.Join(o.jobOutputDir(job.ID), job.OutputFilename)
}

func (o *Orchestrator) process(parent context.Context, id int64) {
	jobCtx, cancel := context.WithCancelCause(parent)
	entry := &activeJob{cancel: cancel, done: make(chan struct{})}
	if !o.claim(id, entry) {
		cancel(nil)
		return
	}
	busyWorkers.Inc()
	defer func() {
		o.release(id)
		cancel(nil)
		busyWorkers.Dec()
		close(entry.done)
	}()

	jobCtx = log.ContextWithJobID(jobCtx, id)
	jobCtx, span := telemetry.Tracer("vencode/worker").Start(jobCtx, "job.process")
	defer span.End()

	// Registry writes must land even when jobCtx is cancelled.
	commitCtx := context.WithoutCancel(jobCtx)
	logger := log.WithContext(jobCtx, log.WithComponent("worker"))
	start := time.Now()

	job, err := o.deps.Registry.Get(commitCtx, id)
	if err != nil {
		logger.Error().Err(err).Msg("dequeued job could not be loaded")
		return
	}
	if job.Status != model.JobQueued {
		logger.Debug().Str("status", string(job.Status)).Msg("skipping job no longer queued")
		return
	}
	span.SetAttributes(telemetry.JobAttributes(id, job.ProfileID)...)

	profile, detail, reason, msg := o.resolve(jobCtx, job)
	if reason == model.RNone {
		if err := ffmpeg.ValidateInput(job.OriginalFilename); err != nil {
			reason, msg = model.RUnsupportedFormat, err.Error()
		}
	}
	if reason == model.RNone && jobCtx.Err() != nil {
		reason, msg = cancelReason(context.Cause(jobCtx), o.cfg.JobTimeout)
	}
	if reason != model.RNone {
		o.finish(commitCtx, id, model.JobQueued, registry.Transition{To: model.JobFailed, Reason: reason, Detail: msg}, start)
		return
	}

	input, err := o.deps.Uploads.Path(job.SourceFilename)
	if err != nil {
		o.finish(commitCtx, id, model.JobQueued, registry.Transition{To: model.JobFailed, Reason: model.RMissingInput, Detail: err.Error()}, start)
		return
	}
	outName := ffmpeg.ResolveOutputPath(job.OriginalFilename, profile.Name)
	outPath := filepath.Join(o.jobOutputDir(id), outName)

	if _, err := o.deps.Registry.Transition(commitCtx, id, registry.Transition{To: model.JobRunning, From: model.JobQueued}); err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			logger.Debug().Err(err).Msg("job left queued state before start")
			return
		}
		logger.Error().Err(err).Msg("failed to mark job running")
		return
	}

	execCtx := jobCtx
	if o.cfg.JobTimeout > 0 {
		var stop context.CancelFunc
		execCtx, stop = context.WithTimeoutCause(jobCtx, o.cfg.JobTimeout, errJobTimeout)
		defer stop()
	}

	_, err = o.deps.Transcoder.Execute(execCtx, input, outPath, ffmpeg.BuildArgs(detail))
	if err == nil && o.deps.Sink != nil {
		published := job.Clone()
		published.OutputFilename = outName
		if perr := o.deps.Sink.Publish(execCtx, published, outPath); perr != nil {
			err = &publishError{err: perr}
		}
	}

	if err != nil {
		o.removeOutput(id)
		reason, msg := failureReason(err, o.cfg.JobTimeout)
		span.RecordError(err)
		o.finish(commitCtx, id, model.JobRunning, registry.Transition{To: model.JobFailed, Reason: reason, Detail: msg}, start)
		return
	}
	o.finish(commitCtx, id, model.JobRunning, registry.Transition{To: model.JobCompleted, Output: outName}, start)
}

// resolve loads the profile and its active detail, reporting why the job
// cannot run when either is unusable.
func (o *Orchestrator) resolve(ctx context.Context, job *model.Job) (*model.Profile, model.ProfileDetail, model.ReasonCode, string) {
	profile, err := o.deps.Profiles.GetProfile(ctx, job.ProfileID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.ProfileDetail{}, model.RProfileNotFound, "profile not found"
		}
		return nil, model.ProfileDetail{}, model.RInternal, fmt.Sprintf("load profile: %v", err)
	}
	detail, ok := profile.ActiveDetail()
	if !ok {
		return profile, detail, model.RProfileNoDetails, "profile has no details"
	}
	if err := detail.Executable(); err != nil {
		return profile, detail, model.RDetailIncomplete, "profile detail incomplete"
	}
	return profile, detail, model.RNone, ""
}

func (o *Orchestrator) finish(ctx context.Context, id int64, from model.JobStatus, t registry.Transition, start time.Time) {
	t.From = from
	logger := log.WithContext(ctx, log.WithComponent("worker"))
	job, err := o.deps.Registry.Transition(ctx, id, t)
	if err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			// Cancel won the race for a job that was still queued.
			logger.Warn().Err(err).Str(log.FieldNewState, string(t.To)).Msg("job state changed concurrently")
			return
		}
		logger.Error().Err(err).Str(log.FieldNewState, string(t.To)).Msg("failed to commit final job state")
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(telemetry.OutcomeAttributes(string(job.Status), string(job.Reason))...)
	jobRunSeconds.WithLabelValues(string(job.Status)).Observe(time.Since(start).Seconds())
}

type publishError struct{ err error }

func (e *publishError) Error() string { return "publish output: " + e.err.Error() }
func (e *publishError) Unwrap() error { return e.err }

func failureReason(err error, timeout time.Duration) (model.ReasonCode, string) {
	var pe *publishError
	switch {
	case errors.Is(err, model.ErrCancelled):
		return cancelReason(err, timeout)
	case errors.As(err, &pe):
		return model.RPublishFailed, pe.Error()
	default:
		return model.ReasonFor(err), err.Error()
	}
}

func cancelReason(cause error, timeout time.Duration) (model.ReasonCode, string) {
	switch {
	case errors.Is(cause, errCancelRequested):
		return model.RCancelled, "cancelled"
	case errors.Is(cause, errJobTimeout):
		return model.RTimeout, fmt.Sprintf("timed out after %s", timeout)
	default:
		return model.RShutdown, "service shutting down"
	}
}
