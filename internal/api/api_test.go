// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/vencode/internal/auth"
	"github.com/ManuGH/vencode/internal/encoding/bus"
	"github.com/ManuGH/vencode/internal/encoding/ffmpeg"
	"github.com/ManuGH/vencode/internal/encoding/model"
	"github.com/ManuGH/vencode/internal/encoding/registry"
	"github.com/ManuGH/vencode/internal/encoding/store"
	"github.com/ManuGH/vencode/internal/encoding/worker"
	"github.com/ManuGH/vencode/internal/health"
	"github.com/ManuGH/vencode/internal/profiles"
	"github.com/ManuGH/vencode/internal/uploads"
)

// copyTranscoder "encodes" by copying the input.
type copyTranscoder struct{}

func (copyTranscoder) Execute(_ context.Context, input, output string, _ ffmpeg.Args) (ffmpeg.Result, error) {
	data, err := os.ReadFile(input)
	if err != nil {
		return ffmpeg.Result{}, &model.MissingInputError{Path: input}
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o750); err != nil {
		return ffmpeg.Result{}, err
	}
	if err := os.WriteFile(output, data, 0o600); err != nil {
		return ffmpeg.Result{}, err
	}
	return ffmpeg.Result{OutputBytes: int64(len(data))}, nil
}

type testEnv struct {
	handler http.Handler
	store   *store.MemoryStore
}

func newTestEnv(t *testing.T, resolver auth.Resolver, cfg Config) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	reg := registry.New(st, registry.WithPublisher(bus.NewMemoryBus()))
	up, err := uploads.New(t.TempDir(), 0)
	require.NoError(t, err)

	orch, err := worker.New(worker.Deps{
		Registry:   reg,
		Profiles:   st,
		Uploads:    up,
		Transcoder: copyTranscoder{},
	}, worker.Config{Workers: 2, QueueSize: 8, OutputDir: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	hm := health.NewManager("test")
	hm.Register(health.NewFuncChecker("store", true, st.Ping))

	srv, err := New(Deps{
		Jobs:     orch,
		Profiles: profiles.NewManager(st),
		Health:   hm,
		Resolver: resolver,
	}, cfg)
	require.NoError(t, err)
	return &testEnv{handler: srv.Handler(), store: st}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, path, token string, v any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if v != nil {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return e.do(t, method, path, token, body, "application/json")
}

func multipartUpload(t *testing.T, filename, content string, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("video", filename)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func (e *testEnv) seedProfile(t *testing.T, token, name string) int64 {
	t.Helper()
	rec := e.doJSON(t, http.MethodPost, "/encode-profile", token, map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[model.Profile](t, rec)

	rec = e.doJSON(t, http.MethodPost, "/encode-profile-details", token, map[string]any{
		"profile_id":    p.ID,
		"width":         1920,
		"height":        1080,
		"video_bitrate": 5000,
		"audio_bitrate": 128,
		"vcodec":        "libx264",
		"acodec":        "aac",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return p.ID
}

func (e *testEnv) waitJob(t *testing.T, id int64, token string) model.Job {
	t.Helper()
	var job model.Job
	require.Eventually(t, func() bool {
		rec := e.do(t, http.MethodGet, fmt.Sprintf("/jobs/%d", id), token, nil, "")
		if rec.Code != http.StatusOK {
			return false
		}
		job = decode[model.Job](t, rec)
		return job.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestUploadAndPoll_Completed(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	pid := env.seedProfile(t, "", "1080p")

	body, ct := multipartUpload(t, "sample.mp4", "frames", map[string]string{"profile_id": fmt.Sprint(pid)})
	rec := env.do(t, http.MethodPut, "/upload_video", "", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	accepted := decode[uploadResponse](t, rec)
	assert.Equal(t, model.JobQueued, accepted.Status)
	assert.Positive(t, accepted.JobID)

	job := env.waitJob(t, accepted.JobID, "")
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Equal(t, "sample_1080p_encoded.mp4", job.OutputFilename)
	assert.Equal(t, "sample.mp4", job.OriginalFilename)
	assert.True(t, strings.HasSuffix(job.SourceFilename, "_sample.mp4"))

	// Status polling is idempotent.
	again := decode[model.Job](t, env.do(t, http.MethodGet, fmt.Sprintf("/jobs/%d", job.ID), "", nil, ""))
	assert.Equal(t, job, again)

	rec = env.do(t, http.MethodGet, "/jobs?status=completed", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Job](t, rec), 1)
}

func TestUpload_UnsupportedFormatAndUnknownProfile(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	pid := env.seedProfile(t, "", "720p")

	body, ct := multipartUpload(t, "clip.avi", "x", map[string]string{"profile_id": fmt.Sprint(pid)})
	rec := env.do(t, http.MethodPut, "/upload_video", "", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code)
	job := env.waitJob(t, decode[uploadResponse](t, rec).JobID, "")
	assert.Equal(t, model.JobFailed, job.Status)
	assert.Equal(t, "unsupported format: .avi", job.Detail)

	body, ct = multipartUpload(t, "sample.mp4", "x", map[string]string{"profile_id": "9999"})
	rec = env.do(t, http.MethodPut, "/upload_video", "", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code)
	job = env.waitJob(t, decode[uploadResponse](t, rec).JobID, "")
	assert.Equal(t, model.JobFailed, job.Status)
	assert.Equal(t, "profile not found", job.Detail)
}

func TestUpload_DefaultProfile(t *testing.T) {
	env := newTestEnv(t, nil, Config{DefaultProfileID: 1})
	require.Equal(t, int64(1), env.seedProfile(t, "", "default"))

	body, ct := multipartUpload(t, "movie.mp4", "x", nil)
	rec := env.do(t, http.MethodPut, "/upload_video", "", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code)
	job := env.waitJob(t, decode[uploadResponse](t, rec).JobID, "")
	assert.Equal(t, int64(1), job.ProfileID)
	assert.Equal(t, model.JobCompleted, job.Status)
}

func TestUpload_BadRequests(t *testing.T) {
	env := newTestEnv(t, nil, Config{MaxUploadBytes: 1024})

	noFile, ct := multipartUpload(t, "", "", map[string]string{"profile_id": "1"})
	badID, ct2 := multipartUpload(t, "a.mp4", "x", map[string]string{"profile_id": "one"})
	zeroID, ct3 := multipartUpload(t, "a.mp4", "x", nil)

	tests := []struct {
		name string
		body io.Reader
		ct   string
		want int
	}{
		{"not multipart", strings.NewReader("{}"), "application/json", http.StatusBadRequest},
		{"missing video part", noFile, ct, http.StatusBadRequest},
		{"non-numeric profile", badID, ct2, http.StatusBadRequest},
		{"no profile and no default", zeroID, ct3, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, "/upload_video", "", tt.body, tt.ct)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		})
	}

	big, ctBig := multipartUpload(t, "big.mp4", strings.Repeat("x", 3<<20), map[string]string{"profile_id": "1"})
	rec := env.do(t, http.MethodPut, "/upload_video", "", big, ctBig)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestJobs_Errors(t *testing.T) {
	env := newTestEnv(t, nil, Config{})

	rec := env.do(t, http.MethodGet, "/jobs/abc", "", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/jobs/77", "", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	p := decode[Problem](t, rec)
	assert.Equal(t, 404, p.Status)
	assert.NotEmpty(t, p.RequestID)

	rec = env.do(t, http.MethodPost, "/jobs/77/cancel", "", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/jobs?status=paused", "", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/jobs", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestCancel_TerminalJobIsNoop(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	pid := env.seedProfile(t, "", "1080p")
	body, ct := multipartUpload(t, "sample.mp4", "x", map[string]string{"profile_id": fmt.Sprint(pid)})
	rec := env.do(t, http.MethodPut, "/upload_video", "", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code)
	job := env.waitJob(t, decode[uploadResponse](t, rec).JobID, "")

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/jobs/%d/cancel", job.ID), "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.JobCompleted, decode[model.Job](t, rec).Status)
}

func TestProfiles_CRUD(t *testing.T) {
	env := newTestEnv(t, nil, Config{})

	rec := env.doJSON(t, http.MethodPost, "/encode-profile", "", map[string]string{"name": "480p"})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decode[model.Profile](t, rec)

	rec = env.doJSON(t, http.MethodPost, "/encode-profile", "", map[string]string{"name": "480p"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.doJSON(t, http.MethodPost, "/encode-profile", "", map[string]string{"name": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.doJSON(t, http.MethodPost, "/encode-profile", "", map[string]any{"name": "x", "extra": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/encode-profile/%d/details", p.ID), "", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "no detail yet")

	rec = env.doJSON(t, http.MethodPost, "/encode-profile-details", "", map[string]any{"profile_id": 999, "vcodec": "libx264", "acodec": "aac"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.doJSON(t, http.MethodPost, "/encode-profile-details", "", map[string]any{"profile_id": p.ID, "width": -5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.doJSON(t, http.MethodPost, "/encode-profile-details", "", map[string]any{
		"profile_id": p.ID, "width": 854, "height": 480, "vcodec": "libx264", "acodec": "aac",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	d := decode[model.ProfileDetail](t, rec)
	assert.Equal(t, p.ID, d.ProfileID)
	assert.Equal(t, model.DefaultPixelFormat, d.PixelFormat, "defaults applied")

	rec = env.doJSON(t, http.MethodPost, "/encode-profile-details", "", map[string]any{
		"profile_id": p.ID, "width": 640, "height": 360, "vcodec": "libx264", "acodec": "aac",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/encode-profile/%d/details", p.ID), "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 640, decode[model.ProfileDetail](t, rec).Width, "latest detail is active")

	rec = env.do(t, http.MethodGet, "/encode-profile", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Profile](t, rec), 1)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/encode-profile/%d", p.ID), "", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/encode-profile/%d", p.ID), "", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/encode-profile/%d", p.ID), "", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuth_Roles(t *testing.T) {
	resolver := auth.NewStaticResolver([]auth.StaticToken{
		{Token: "user-token", User: "u1", Role: auth.RoleUser},
		{Token: "admin-token", User: "a1", Role: auth.RoleAdmin},
	})
	env := newTestEnv(t, resolver, Config{})

	rec := env.do(t, http.MethodGet, "/jobs", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	rec = env.do(t, http.MethodGet, "/jobs", "wrong", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/jobs", "user-token", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.doJSON(t, http.MethodPost, "/encode-profile", "user-token", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.doJSON(t, http.MethodPost, "/encode-profile", "admin-token", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/encode-profile", "user-token", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, path := range []string{"/healthz", "/readyz", "/openapi.yaml"} {
		rec = env.do(t, http.MethodGet, path, "", nil, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

type brokenResolver struct{}

func (brokenResolver) Resolve(context.Context, string) (auth.Principal, error) {
	return auth.Principal{}, errors.New("redis: connection refused")
}

func TestAuth_BackendFailureIs503(t *testing.T) {
	env := newTestEnv(t, brokenResolver{}, Config{})
	rec := env.do(t, http.MethodGet, "/jobs", "tok", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// stubJobs drives error paths the orchestrator does not reach easily.
type stubJobs struct {
	job *model.Job
	err error
}

func (s stubJobs) Submit(context.Context, io.Reader, string, int64) (*model.Job, error) {
	return s.job, s.err
}
func (s stubJobs) Status(context.Context, int64) (*model.Job, error) { return s.job, s.err }
func (s stubJobs) List(context.Context, model.JobFilter) ([]*model.Job, error) {
	return nil, s.err
}
func (s stubJobs) Cancel(context.Context, int64) (*model.Job, error) { return s.job, s.err }

func newStubServer(t *testing.T, jobs JobService) http.Handler {
	t.Helper()
	srv, err := New(Deps{
		Jobs:     jobs,
		Profiles: profiles.NewManager(store.NewMemoryStore()),
		Health:   health.NewManager("test"),
	}, Config{})
	require.NoError(t, err)
	return srv.Handler()
}

func TestUpload_QueueFullIs503WithJobID(t *testing.T) {
	h := newStubServer(t, stubJobs{
		job: &model.Job{ID: 12, Status: model.JobFailed, Reason: model.RQueueFull},
		err: fmt.Errorf("submit: %w", model.ErrQueueFull),
	})
	body, ct := multipartUpload(t, "a.mp4", "x", map[string]string{"profile_id": "1"})
	req := httptest.NewRequest(http.MethodPut, "/upload_video", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, int64(12), decode[Problem](t, rec).JobID)
}

func TestInternalErrorsAreNotEchoed(t *testing.T) {
	h := newStubServer(t, stubJobs{err: errors.New("sqlite: database is locked")})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/1", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	p := decode[Problem](t, rec)
	assert.Equal(t, "internal error", p.Detail)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Config{})
	assert.Error(t, err)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&model.ValidationError{Field: "x", Msg: "y"}, 400},
		{&model.UnsupportedFormatError{Extension: ".avi"}, 400},
		{&model.NotFoundError{Kind: "job", ID: 1}, 404},
		{fmt.Errorf("x: %w", model.ErrConflict), 409},
		{model.ErrQueueFull, 503},
		{auth.ErrUnauthenticated, 401},
		{auth.ErrForbidden, 403},
		{&http.MaxBytesError{Limit: 1}, 413},
		{&model.InvalidTransitionError{}, 500},
		{errors.New("boom"), 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
