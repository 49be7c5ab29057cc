// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the job and profile operations over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/vencode/internal/api/middleware"
	"github.com/ManuGH/vencode/internal/auth"
	"github.com/ManuGH/vencode/internal/encoding/model"
	"github.com/ManuGH/vencode/internal/health"
)

// JobService is implemented by *worker.Orchestrator.
type JobService interface {
	Submit(ctx context.Context, body io.Reader, filename string, profileID int64) (*model.Job, error)
	Status(ctx context.Context, id int64) (*model.Job, error)
	List(ctx context.Context, filter model.JobFilter) ([]*model.Job, error)
	Cancel(ctx context.Context, id int64) (*model.Job, error)
}

// ProfileService is implemented by *profiles.Manager.
type ProfileService interface {
	Create(ctx context.Context, name string) (*model.Profile, error)
	GetProfile(ctx context.Context, id int64) (*model.Profile, error)
	List(ctx context.Context) ([]*model.Profile, error)
	Delete(ctx context.Context, id int64) error
	AddDetail(ctx context.Context, profileID int64, d model.ProfileDetail) (*model.ProfileDetail, error)
	ActiveDetail(ctx context.Context, profileID int64) (*model.ProfileDetail, error)
}

// Config tunes the HTTP surface.
type Config struct {
	MaxUploadBytes   int64
	DefaultProfileID int64
	RateLimitRPM     int
	// TracingService names the server spans; empty disables tracing.
	TracingService string
	// ServeMetrics mounts /metrics on this router.
	ServeMetrics bool
}

// Deps are the services behind the handlers. Resolver may be nil to
// disable authentication.
type Deps struct {
	Jobs     JobService
	Profiles ProfileService
	Health   *health.Manager
	Resolver auth.Resolver
}

// Server holds the handlers. Build the router with Handler.
type Server struct {
	deps Deps
	cfg  Config
}

func New(deps Deps, cfg Config) (*Server, error) {
	switch {
	case deps.Jobs == nil:
		return nil, errors.New("api: job service is required")
	case deps.Profiles == nil:
		return nil, errors.New("api: profile service is required")
	case deps.Health == nil:
		return nil, errors.New("api: health manager is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 2 << 30
	}
	return &Server{deps: deps, cfg: cfg}, nil
}

// Handler returns the routed handler with the ingress stack applied.
func (s *Server) Handler() *chi.Mux {
	r := chi.NewRouter()
	middleware.ApplyStack(r, middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
		RateLimitRPM:   s.cfg.RateLimitRPM,
	})

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Get("/openapi.yaml", serveOpenAPI)
	if s.cfg.ServeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(authenticate(s.deps.Resolver))

		r.Put("/upload_video", s.handleUpload)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)

		r.Get("/encode-profile", s.handleListProfiles)
		r.Get("/encode-profile/{profileID}", s.handleGetProfile)
		r.Get("/encode-profile/{profileID}/details", s.handleGetActiveDetail)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/encode-profile", s.handleCreateProfile)
			r.Delete("/encode-profile/{profileID}", s.handleDeleteProfile)
			r.Post("/encode-profile-details", s.handleAddDetail)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, Problem{Status: http.StatusNotFound, Detail: "no route for " + r.URL.Path})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, Problem{Status: http.StatusMethodNotAllowed})
	})
	return r
}
