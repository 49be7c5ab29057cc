// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package auth resolves bearer tokens to principals and carries them
// through request contexts.
package auth

import "context"

// Roles known to the service. Profile management needs admin or above.
const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// Principal is the authenticated caller.
type Principal struct {
	ID   string
	Role string
}

// Anonymous is used when authentication is disabled. It may do everything.
var Anonymous = Principal{ID: "anonymous", Role: RoleSuperAdmin}

// HasRole reports whether p holds one of roles.
func (p Principal) HasRole(roles ...string) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// IsAdmin reports admin or super_admin.
func (p Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin, RoleSuperAdmin)
}

type principalKey struct{}

func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
