// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ManuGH/vencode/internal/auth"
	"github.com/ManuGH/vencode/internal/log"
)

// authenticate resolves the caller. A nil resolver means authentication is
// disabled and every caller acts as auth.Anonymous.
func authenticate(resolver auth.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), auth.Anonymous)))
				return
			}
			p, err := resolver.Resolve(r.Context(), auth.ExtractToken(r))
			if err != nil {
				if errors.Is(err, auth.ErrUnauthenticated) {
					w.Header().Set("WWW-Authenticate", `Bearer realm="vencode"`)
					writeError(w, r, err)
					return
				}
				logger := log.WithComponentFromContext(r.Context(), "auth")
				logger.Error().
					Str(log.FieldEvent, "auth.resolver_error").Err(err).Msg("token resolution failed")
				writeProblem(w, r, Problem{Status: http.StatusServiceUnavailable, Detail: "authentication backend unavailable"})
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), p)))
		})
	}
}

// requireAdmin rejects principals without the admin or super_admin role.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok || !p.IsAdmin() {
			logger := log.WithComponentFromContext(r.Context(), "auth")
			logger.Warn().
				Str(log.FieldEvent, "auth.forbidden").
				Str("principal", p.ID).
				Str("role", p.Role).
				Msg("admin role required")
			writeError(w, r, fmt.Errorf("%w: admin role required", auth.ErrForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}
