// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/vencode/internal/encoding/bus"
	"github.com/ManuGH/vencode/internal/encoding/ffmpeg"
	"github.com/ManuGH/vencode/internal/encoding/model"
	"github.com/ManuGH/vencode/internal/encoding/registry"
	"github.com/ManuGH/vencode/internal/encoding/store"
	"github.com/ManuGH/vencode/internal/uploads"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubTranscoder records calls and concurrency. With block set it runs
// until block is closed or ctx ends.
type stubTranscoder struct {
	mu         sync.Mutex
	calls      int
	running    int
	maxRunning int
	lastArgs   ffmpeg.Args

	started chan string
	block   chan struct{}
	err     error
}

func newStub() *stubTranscoder {
	return &stubTranscoder{started: make(chan string, 64)}
}

func (s *stubTranscoder) Execute(ctx context.Context, input, output string, args ffmpeg.Args) (ffmpeg.Result, error) {
	s.mu.Lock()
	s.calls++
	s.running++
	if s.running > s.maxRunning {
		s.maxRunning = s.running
	}
	s.lastArgs = args
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running--
		s.mu.Unlock()
	}()

	if _, err := os.Stat(input); err != nil {
		return ffmpeg.Result{}, &model.MissingInputError{Path: input}
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return ffmpeg.Result{}, err
	}
	if err := os.WriteFile(output, []byte("partial"), 0o600); err != nil {
		return ffmpeg.Result{}, err
	}
	s.started <- output

	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ffmpeg.Result{ExitCode: -1}, fmt.Errorf("%w: %w", model.ErrCancelled, context.Cause(ctx))
		}
	}
	if s.err != nil {
		return ffmpeg.Result{ExitCode: 1}, s.err
	}
	return ffmpeg.Result{OutputBytes: 7}, nil
}

func (s *stubTranscoder) snapshot() (calls, maxRunning int, args ffmpeg.Args) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.maxRunning, s.lastArgs
}

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, *model.Job, string) error { return f.err }

type harness struct {
	orch    *Orchestrator
	store   *store.MemoryStore
	reg     *registry.Registry
	bus     *bus.MemoryBus
	uploads *uploads.Store
	outDir  string
}

func newHarness(t *testing.T, tc Transcoder, cfg Config, sink OutputSink) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	b := bus.NewMemoryBus()
	reg := registry.New(st, registry.WithPublisher(b))

	up, err := uploads.New(t.TempDir(), 0)
	require.NoError(t, err)

	if cfg.OutputDir == "" {
		cfg.OutputDir = t.TempDir()
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	orch, err := New(Deps{Registry: reg, Profiles: st, Uploads: up, Transcoder: tc, Sink: sink}, cfg)
	require.NoError(t, err)
	return &harness{orch: orch, store: st, reg: reg, bus: b, uploads: up, outDir: cfg.OutputDir}
}

func (h *harness) profile(t *testing.T, name string, d *model.ProfileDetail) int64 {
	t.Helper()
	p, err := h.store.CreateProfile(context.Background(), name)
	require.NoError(t, err)
	if d != nil {
		_, err = h.store.AddDetail(context.Background(), p.ID, *d)
		require.NoError(t, err)
	}
	return p.ID
}

func hd1080() *model.ProfileDetail {
	d := model.ProfileDetail{Width: 1920, Height: 1080, VideoBitrateK: 5000, AudioBitrateK: 128, VideoCodec: "libx264", AudioCodec: "aac"}
	d.ApplyDefaults()
	return &d
}

// start runs the pool in the background; the returned func stops it and
// waits for Run to return.
func (h *harness) start(t *testing.T) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Error("Run did not return after cancel")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func (h *harness) submit(t *testing.T, name string, profileID int64) *model.Job {
	t.Helper()
	job, err := h.orch.Submit(context.Background(), strings.NewReader("video-bytes"), name, profileID)
	require.NoError(t, err)
	return job
}

func (h *harness) waitTerminal(t *testing.T, id int64) *model.Job {
	t.Helper()
	var job *model.Job
	require.Eventually(t, func() bool {
		j, err := h.orch.Status(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond, "job %d never reached a terminal state", id)
	return job
}

func TestSubmit_ValidationHasNoSideEffects(t *testing.T) {
	h := newHarness(t, newStub(), Config{}, nil)
	tests := []struct {
		name     string
		filename string
		profile  int64
	}{
		{"empty filename", "", 1},
		{"blank filename", "   ", 1},
		{"zero profile", "a.mp4", 0},
		{"negative profile", "a.mp4", -3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.Submit(context.Background(), strings.NewReader("x"), tt.filename, tt.profile)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrValidation))
		})
	}

	entries, err := os.ReadDir(h.uploads.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	jobs, err := h.orch.List(context.Background(), model.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

type failingCreate struct{ *store.MemoryStore }

func (failingCreate) CreateJob(context.Context, *model.Job) (*model.Job, error) {
	return nil, errors.New("disk full")
}

func TestSubmit_CreateFailureRemovesUpload(t *testing.T) {
	up, err := uploads.New(t.TempDir(), 0)
	require.NoError(t, err)
	st := store.NewMemoryStore()
	orch, err := New(Deps{
		Registry:   registry.New(failingCreate{st}),
		Profiles:   st,
		Uploads:    up,
		Transcoder: newStub(),
	}, Config{OutputDir: t.TempDir()})
	require.NoError(t, err)

	_, err = orch.Submit(context.Background(), strings.NewReader("x"), "a.mp4", 1)
	require.Error(t, err)

	entries, err := os.ReadDir(up.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubmit_QueuedImmediately(t *testing.T) {
	h := newHarness(t, newStub(), Config{}, nil)
	job := h.submit(t, "sample.mp4", 1)

	assert.Equal(t, model.JobQueued, job.Status)
	assert.Equal(t, "sample.mp4", job.OriginalFilename)
	assert.True(t, strings.HasSuffix(job.SourceFilename, "_sample.mp4"))
	assert.NotEqual(t, job.OriginalFilename, job.SourceFilename)
}

func TestSubmit_QueueFull(t *testing.T) {
	h := newHarness(t, newStub(), Config{QueueSize: 1}, nil)
	pid := h.profile(t, "1080p", hd1080())

	first := h.submit(t, "a.mp4", pid)
	assert.Equal(t, model.JobQueued, first.Status)

	second, err := h.orch.Submit(context.Background(), strings.NewReader("x"), "b.mp4", pid)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrQueueFull))
	require.NotNil(t, second)
	assert.Equal(t, model.JobFailed, second.Status)
	assert.Equal(t, model.RQueueFull, second.Reason)
}

func TestEndToEnd_Completes(t *testing.T) {
	stub := newStub()
	h := newHarness(t, stub, Config{Workers: 1}, nil)
	pid := h.profile(t, "1080p", hd1080())

	sub, err := h.bus.Subscribe(context.Background(), bus.TopicJobTransition)
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	h.start(t)
	job := h.submit(t, "sample.mp4", pid)
	final := h.waitTerminal(t, job.ID)

	require.Equal(t, model.JobCompleted, final.Status, final.Detail)
	assert.Equal(t, "sample_1080p_encoded.mp4", final.OutputFilename)
	assert.FileExists(t, h.orch.OutputPath(final))
	assert.False(t, final.UpdatedAt.Before(final.CreatedAt))

	_, _, args := stub.snapshot()
	assert.Equal(t, ffmpeg.BuildArgs(*hd1080()), args)

	var seen []model.JobStatus
	for len(seen) < 2 {
		select {
		case msg := <-sub.C():
			evt := msg.(model.JobEvent)
			if evt.JobID == job.ID {
				seen = append(seen, evt.To)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing transition events, saw %v", seen)
		}
	}
	assert.Equal(t, []model.JobStatus{model.JobRunning, model.JobCompleted}, seen)
}

func TestWorker_PreExecutionFailuresNeverSpawn(t *testing.T) {
	tests := []struct {
		name       string
		filename   string
		detail     *model.ProfileDetail
		missing    bool
		wantReason model.ReasonCode
		wantDetail string
	}{
		{"unsupported format", "clip.avi", hd1080(), false, model.RUnsupportedFormat, "unsupported format: .avi"},
		{"profile not found", "sample.mp4", nil, true, model.RProfileNotFound, "profile not found"},
		{"profile without details", "sample.mp4", nil, false, model.RProfileNoDetails, "profile has no details"},
		{"detail without codecs", "sample.mp4", &model.ProfileDetail{Width: 640, Height: 360}, false, model.RDetailIncomplete, "profile detail incomplete"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newStub()
			h := newHarness(t, stub, Config{Workers: 1}, nil)
			pid := int64(9999)
			if !tt.missing {
				pid = h.profile(t, "1080p", tt.detail)
			}
			h.start(t)

			job := h.submit(t, tt.filename, pid)
			final := h.waitTerminal(t, job.ID)

			assert.Equal(t, model.JobFailed, final.Status)
			assert.Equal(t, tt.wantReason, final.Reason)
			assert.Equal(t, tt.wantDetail, final.Detail)
			calls, _, _ := stub.snapshot()
			assert.Zero(t, calls, "transcoder must not be invoked")
		})
	}
}

func TestWorker_TranscodeFailureRemovesPartialOutput(t *testing.T) {
	stub := newStub()
	stub.err = &model.TranscodeError{ExitCode: 1, Stderr: []string{"Unknown encoder"}}
	h := newHarness(t, stub, Config{Workers: 1}, nil)
	pid := h.profile(t, "1080p", hd1080())
	h.start(t)

	job := h.submit(t, "sample.mp4", pid)
	final := h.waitTerminal(t, job.ID)

	assert.Equal(t, model.JobFailed, final.Status)
	assert.Equal(t, model.RTranscodeFailed, final.Reason)
	assert.Contains(t, final.Detail, "Unknown encoder")
	assert.Empty(t, final.OutputFilename)
	assert.NoDirExists(t, filepath.Join(h.outDir, fmt.Sprint(job.ID)))
}

func TestWorker_SinkFailure(t *testing.T) {
	h := newHarness(t, newStub(), Config{Workers: 1}, failingSink{err: errors.New("bucket unreachable")})
	pid := h.profile(t, "720p", hd1080())
	h.start(t)

	job := h.submit(t, "sample.mp4", pid)
	final := h.waitTerminal(t, job.ID)

	assert.Equal(t, model.JobFailed, final.Status)
	assert.Equal(t, model.RPublishFailed, final.Reason)
	assert.Contains(t, final.Detail, "bucket unreachable")
	assert.NoDirExists(t, filepath.Join(h.outDir, fmt.Sprint(job.ID)))
}

func TestCancel_RunningJob(t *testing.T) {
	stub := newStub()
	stub.block = make(chan struct{})
	h := newHarness(t, stub, Config{Workers: 1}, nil)
	pid := h.profile(t, "1080p", hd1080())

	sub, err := h.bus.Subscribe(context.Background(), bus.TopicJobTransition)
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()
	h.start(t)

	job := h.submit(t, "sample.mp4", pid)
	select {
	case <-stub.started:
	case <-time.After(5 * time.Second):
		t.Fatal("transcoder never started")
	}

	final, err := h.orch.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, final.Status)
	assert.Equal(t, model.RCancelled, final.Reason)
	assert.Equal(t, "cancelled", final.Detail)
	assert.NoDirExists(t, filepath.Join(h.outDir, fmt.Sprint(job.ID)))

	close(stub.block)
	again, err := h.orch.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, final, again, "cancel of a terminal job is a no-op")

	drain := time.After(200 * time.Millisecond)
	for {
		select {
		case msg := <-sub.C():
			assert.NotEqual(t, model.JobCompleted, msg.(model.JobEvent).To)
		case <-drain:
			return
		}
	}
}

func TestCancel_QueuedJobNeverSpawns(t *testing.T) {
	stub := newStub()
	h := newHarness(t, stub, Config{Workers: 1}, nil)
	pid := h.profile(t, "1080p", hd1080())

	job := h.submit(t, "sample.mp4", pid)
	final, err := h.orch.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, final.Status)
	assert.Equal(t, model.RCancelled, final.Reason)

	h.start(t)
	other := h.submit(t, "other.mp4", pid)
	h.waitTerminal(t, other.ID)

	calls, _, _ := stub.snapshot()
	assert.Equal(t, 1, calls, "only the second job may run")
	got, err := h.orch.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, final, got)
}

func TestCancel_NotFound(t *testing.T) {
	h := newHarness(t, newStub(), Config{}, nil)
	_, err := h.orch.Cancel(context.Background(), 404)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestPool_NeverExceedsWorkerCount(t *testing.T) {
	stub := newStub()
	stub.block = make(chan struct{})
	const workers = 2
	h := newHarness(t, stub, Config{Workers: workers}, nil)
	pid := h.profile(t, "1080p", hd1080())
	h.start(t)

	var ids []int64
	for i := 0; i < 6; i++ {
		ids = append(ids, h.submit(t, fmt.Sprintf("v%d.mp4", i), pid).ID)
	}

	for i := 0; i < workers; i++ {
		select {
		case <-stub.started:
		case <-time.After(5 * time.Second):
			t.Fatal("workers did not start")
		}
	}
	select {
	case <-stub.started:
		t.Fatal("a third transcoder started while the pool was saturated")
	case <-time.After(100 * time.Millisecond):
	}

	close(stub.block)
	for _, id := range ids {
		assert.Equal(t, model.JobCompleted, h.waitTerminal(t, id).Status)
	}
	calls, maxRunning, _ := stub.snapshot()
	assert.Equal(t, 6, calls)
	assert.Equal(t, workers, maxRunning)
}

func TestWorker_Timeout(t *testing.T) {
	stub := newStub()
	stub.block = make(chan struct{})
	defer close(stub.block)
	h := newHarness(t, stub, Config{Workers: 1, JobTimeout: 50 * time.Millisecond}, nil)
	pid := h.profile(t, "1080p", hd1080())
	h.start(t)

	job := h.submit(t, "sample.mp4", pid)
	final := h.waitTerminal(t, job.ID)
	assert.Equal(t, model.RTimeout, final.Reason)
	assert.Contains(t, final.Detail, "timed out")
}

func TestRun_ShutdownFailsRunningJobs(t *testing.T) {
	stub := newStub()
	stub.block = make(chan struct{})
	defer close(stub.block)
	h := newHarness(t, stub, Config{Workers: 1}, nil)
	pid := h.profile(t, "1080p", hd1080())
	stop := h.start(t)

	job := h.submit(t, "sample.mp4", pid)
	<-stub.started
	stop()

	got, err := h.orch.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, got.Status)
	assert.Equal(t, model.RShutdown, got.Reason)
}

func TestRun_RecoverySweep(t *testing.T) {
	stub := newStub()
	h := newHarness(t, stub, Config{Workers: 1}, nil)
	pid := h.profile(t, "1080p", hd1080())
	ctx := context.Background()

	up, err := h.uploads.Save(ctx, strings.NewReader("x"), "left.mp4")
	require.NoError(t, err)
	orphan, err := h.reg.CreateJob(ctx, up, "left.mp4", pid)
	require.NoError(t, err)
	_, err = h.reg.Transition(ctx, orphan.ID, registry.Transition{To: model.JobRunning})
	require.NoError(t, err)

	up2, err := h.uploads.Save(ctx, strings.NewReader("x"), "pending.mp4")
	require.NoError(t, err)
	pending, err := h.reg.CreateJob(ctx, up2, "pending.mp4", pid)
	require.NoError(t, err)

	h.start(t)

	got := h.waitTerminal(t, orphan.ID)
	assert.Equal(t, model.JobFailed, got.Status)
	assert.Equal(t, model.RInterrupted, got.Reason)

	done := h.waitTerminal(t, pending.ID)
	assert.Equal(t, model.JobCompleted, done.Status)
	assert.Equal(t, "pending_1080p_encoded.mp4", done.OutputFilename)
}

func TestRun_OnlyOnce(t *testing.T) {
	h := newHarness(t, newStub(), Config{}, nil)
	h.start(t)
	require.Eventually(t, func() bool { return h.orch.started.Load() }, time.Second, time.Millisecond)
	assert.Error(t, h.orch.Run(context.Background()))
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Config{})
	assert.Error(t, err)
}
