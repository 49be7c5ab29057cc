// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package health provides liveness and readiness endpoints with per
// component status.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/vencode/internal/log"
	"golang.org/x/sync/errgroup"
)

// Status represents the overall health/readiness status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a component health check
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager runs registered checkers for the readiness probe.
type Manager struct {
	version  string
	timeout  time.Duration
	checkers []Checker
}

// NewManager creates a manager; each check gets at most 2s.
func NewManager(version string) *Manager {
	return &Manager{version: version, timeout: 2 * time.Second}
}

func (m *Manager) Register(c ...Checker) {
	m.checkers = append(m.checkers, c...)
}

// Health is the liveness answer. It never consults dependencies.
func (m *Manager) Health() HealthResponse {
	return HealthResponse{Status: StatusHealthy, Version: m.version, Timestamp: time.Now()}
}

// Ready runs all checkers concurrently. Any unhealthy result makes the
// service not ready; degraded results are reported but keep it ready.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{Ready: true, Status: StatusHealthy, Timestamp: time.Now()}
	if len(m.checkers) == 0 {
		return resp
	}

	var mu sync.Mutex
	resp.Checks = make(map[string]CheckResult, len(m.checkers))
	var g errgroup.Group
	for _, c := range m.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			res := c.Check(cctx)
			mu.Lock()
			resp.Checks[c.Name()] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range resp.Checks {
		switch res.Status {
		case StatusUnhealthy:
			resp.Ready = false
			resp.Status = StatusUnhealthy
		case StatusDegraded:
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}
	}
	return resp
}

// ServeHealth always answers 200 while the process runs.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r, w, http.StatusOK, m.Health())
}

// ServeReady answers 503 when a critical dependency is down.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	resp := m.Ready(r.Context())
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(r, w, code, resp)

	logger := log.WithComponentFromContext(r.Context(), "health")
	logger.Debug().
		Str(log.FieldEvent, "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Msg("readiness check performed")
}

func writeJSON(r *http.Request, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "health")
		logger.Error().Err(err).
			Str(log.FieldEvent, "health.encode_error").Msg("failed to encode health response")
	}
}
