// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/vencode/internal/encoding/model"
	"github.com/ManuGH/vencode/internal/log"
	"github.com/ManuGH/vencode/internal/procgroup"
	"github.com/ManuGH/vencode/internal/telemetry"
)

var (
	startTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vencode_ffmpeg_start_total",
		Help: "Transcoder process starts by result",
	}, []string{"result"})

	exitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vencode_ffmpeg_exit_total",
		Help: "Transcoder process exits by classification",
	}, []string{"reason"})

	activeProcs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vencode_ffmpeg_active_processes",
		Help: "Transcoder processes currently running",
	})

	runSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vencode_ffmpeg_run_seconds",
		Help:    "Wall time of transcoder runs",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})
)

const (
	defaultBin         = "ffmpeg"
	defaultKillGrace   = 5 * time.Second
	defaultStderrLines = 50
)

// Result describes a finished transcoder run.
type Result struct {
	ExitCode    int
	OutputBytes int64
	Duration    time.Duration
	Stderr      []string
}

// Executor runs one transcoder process per Execute call.
type Executor struct {
	Bin         string
	KillGrace   time.Duration
	StderrLines int
}

// NewExecutor returns an Executor with defaults filled in for zero values.
func NewExecutor(bin string, killGrace time.Duration, stderrLines int) *Executor {
	if bin == "" {
		bin = defaultBin
	}
	if killGrace <= 0 {
		killGrace = defaultKillGrace
	}
	if stderrLines <= 0 {
		stderrLines = defaultStderrLines
	}
	return &Executor{Bin: bin, KillGrace: killGrace, StderrLines: stderrLines}
}

// Execute runs `<bin> -i input args... output` in its own process group and
// blocks until it exits or ctx ends. On ctx end the group is terminated and
// the returned error matches model.ErrCancelled and wraps the context cause.
func (e *Executor) Execute(ctx context.Context, input, output string, args Args) (Result, error) {
	logger := log.WithContext(ctx, log.WithComponent("ffmpeg"))
	ctx, span := telemetry.Tracer("vencode/ffmpeg").Start(ctx, "ffmpeg.execute",
		trace.WithAttributes(telemetry.TranscodeAttributes(input, output)...))
	defer span.End()

	res, err := e.run(ctx, input, output, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Int(telemetry.TranscodeExit, res.ExitCode))
		exitTotal.WithLabelValues(string(model.ReasonFor(err))).Inc()
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "ffmpeg.failed").
			Int(log.FieldExitCode, res.ExitCode).
			Strs("stderr", res.Stderr).
			Msg("transcode failed")
		return res, err
	}
	span.SetAttributes(attribute.Int64(telemetry.TranscodeBytes, res.OutputBytes))
	exitTotal.WithLabelValues("ok").Inc()
	logger.Info().
		Str(log.FieldEvent, "ffmpeg.completed").
		Dur("duration", res.Duration).
		Int64("output_bytes", res.OutputBytes).
		Msg("transcode completed")
	return res, nil
}

func (e *Executor) run(ctx context.Context, input, output string, args Args) (Result, error) {
	var res Result

	if _, err := os.Stat(input); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res, &model.MissingInputError{Path: input}
		}
		return res, fmt.Errorf("stat input: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("%w: %w", model.ErrCancelled, context.Cause(ctx))
	}
	// #nosec G301
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return res, fmt.Errorf("create output dir: %w", err)
	}

	ring := NewLineRing(e.StderrLines)
	cmd := exec.Command(e.Bin, Command(input, output, args)...) // #nosec G204
	cmd.Stderr = ring
	cmd.WaitDelay = e.KillGrace
	procgroup.Set(cmd)

	logger := log.WithContext(ctx, log.WithComponent("ffmpeg"))
	start := time.Now()
	if err := cmd.Start(); err != nil {
		startTotal.WithLabelValues("error").Inc()
		return res, &model.SpawnError{Bin: e.Bin, Err: err}
	}
	startTotal.WithLabelValues("ok").Inc()
	activeProcs.Inc()
	defer activeProcs.Dec()

	logger.Info().
		Str(log.FieldEvent, "ffmpeg.started").
		Int(log.FieldPID, cmd.Process.Pid).
		Str("args", args.String()).
		Msg("transcoder started")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var (
		waitErr   error
		cancelled bool
	)
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		cancelled = true
		waitErr = procgroup.Terminate(cmd, waitCh, e.KillGrace)
	}

	res.Duration = time.Since(start)
	runSeconds.Observe(res.Duration.Seconds())
	ring.Flush()
	res.Stderr = ring.LastN(e.StderrLines)
	res.ExitCode = exitCode(waitErr)

	if cancelled {
		return res, fmt.Errorf("%w: %w", model.ErrCancelled, context.Cause(ctx))
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("wait transcoder: %w", waitErr)
		}
		return res, &model.TranscodeError{ExitCode: res.ExitCode, Stderr: res.Stderr}
	}

	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		return res, &model.TranscodeError{ExitCode: 0, Stderr: res.Stderr, EmptyOutput: true}
	}
	res.OutputBytes = info.Size()
	return res, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
