// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists encoding profiles and jobs. Every backend returns
// copies: callers never share memory with the store.
package store

import (
	"context"

	"github.com/ManuGH/vencode/internal/encoding/model"
)

// ProfileStore holds named profiles and their detail records.
type ProfileStore interface {
	// CreateProfile fails with model.ErrConflict when the name is taken.
	CreateProfile(ctx context.Context, name string) (*model.Profile, error)
	GetProfile(ctx context.Context, id int64) (*model.Profile, error)
	FindProfileByName(ctx context.Context, name string) (*model.Profile, error)
	ListProfiles(ctx context.Context) ([]*model.Profile, error)
	// DeleteProfile removes the profile and all of its details.
	DeleteProfile(ctx context.Context, id int64) error
	// AddDetail appends a detail record; the newest record is the active one.
	AddDetail(ctx context.Context, profileID int64, d model.ProfileDetail) (*model.ProfileDetail, error)
}

// JobStore holds job records. UpdateJob is an atomic read-modify-write: fn
// sees the current record and its mutation is persisted only if fn returns nil.
type JobStore interface {
	CreateJob(ctx context.Context, j *model.Job) (*model.Job, error)
	GetJob(ctx context.Context, id int64) (*model.Job, error)
	UpdateJob(ctx context.Context, id int64, fn func(*model.Job) error) (*model.Job, error)
	ListJobs(ctx context.Context, filter model.JobFilter) ([]*model.Job, error)
}

// Store is the full persistence surface used by the daemon.
type Store interface {
	ProfileStore
	JobStore
	Ping(ctx context.Context) error
	Close() error
}

func jobNotFound(id int64) error     { return &model.NotFoundError{Kind: "job", ID: id} }
func profileNotFound(id int64) error { return &model.NotFoundError{Kind: "profile", ID: id} }
