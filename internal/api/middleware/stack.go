// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package middleware holds the HTTP ingress stack shared by every route.
package middleware

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/vencode/internal/log"
)

// StackConfig configures the canonical ingress middleware stack.
type StackConfig struct {
	EnableMetrics  bool
	TracingService string // empty disables tracing
	EnableLogging  bool
	// RateLimitRPM caps requests per client IP per minute. Zero disables.
	RateLimitRPM int
}

// ApplyStack applies the middleware stack to r, outermost first.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.TracingService != "" {
		r.Use(OTelHTTP(cfg.TracingService))
	}
	if cfg.EnableLogging {
		r.Use(log.Middleware())
	}
	if cfg.RateLimitRPM > 0 {
		r.Use(RateLimit(RateLimitConfig{RequestLimit: cfg.RateLimitRPM, WindowSize: time.Minute}))
	}
}
