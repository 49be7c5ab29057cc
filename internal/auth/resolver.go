// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnauthenticated means the token is missing, unknown or revoked.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the principal lacks the required role.
	ErrForbidden = errors.New("forbidden")
)

// Resolver maps a bearer token to a principal.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Principal, error)
}

// StaticToken is a token configured in the service config.
type StaticToken struct {
	Token string `yaml:"token"`
	User  string `yaml:"user"`
	Role  string `yaml:"role"`
}

// StaticResolver serves tokens from configuration.
type StaticResolver struct {
	tokens []StaticToken
}

func NewStaticResolver(tokens []StaticToken) *StaticResolver {
	return &StaticResolver{tokens: append([]StaticToken(nil), tokens...)}
}

func (s *StaticResolver) Resolve(_ context.Context, token string) (Principal, error) {
	// Compare against every entry so timing does not reveal position.
	var (
		match Principal
		found bool
	)
	for _, t := range s.tokens {
		if AuthorizeToken(token, t.Token) && !found {
			role := t.Role
			if role == "" {
				role = RoleUser
			}
			match, found = Principal{ID: t.User, Role: role}, true
		}
	}
	if !found {
		return Principal{}, ErrUnauthenticated
	}
	return match, nil
}

// RedisResolver implements the token bookkeeping shared with the account
// service: token:<token> holds the user id, blacklist:<token> revokes it and
// the user:<id> hash carries the role.
type RedisResolver struct {
	client redis.Cmdable
}

func NewRedisResolver(client redis.Cmdable) *RedisResolver {
	return &RedisResolver{client: client}
}

func (r *RedisResolver) Resolve(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrUnauthenticated
	}

	revoked, err := r.client.Exists(ctx, "blacklist:"+token).Result()
	if err != nil {
		return Principal{}, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked > 0 {
		return Principal{}, ErrUnauthenticated
	}

	userID, err := r.client.Get(ctx, "token:"+token).Result()
	if errors.Is(err, redis.Nil) {
		return Principal{}, ErrUnauthenticated
	}
	if err != nil {
		return Principal{}, fmt.Errorf("lookup token: %w", err)
	}

	role, err := r.client.HGet(ctx, "user:"+userID, "role").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Principal{}, fmt.Errorf("lookup role: %w", err)
	}
	if role == "" {
		role = RoleUser
	}
	return Principal{ID: userID, Role: role}, nil
}

// ChainResolver tries resolvers in order until one recognises the token.
type ChainResolver []Resolver

func (c ChainResolver) Resolve(ctx context.Context, token string) (Principal, error) {
	for _, r := range c {
		p, err := r.Resolve(ctx, token)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrUnauthenticated) {
			return Principal{}, err
		}
	}
	return Principal{}, ErrUnauthenticated
}
