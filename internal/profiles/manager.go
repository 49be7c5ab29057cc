// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package profiles manages encoding profiles: validated CRUD over the
// profile store plus seeding from a YAML file that can be hot reloaded.
package profiles

import (
	"context"
	"errors"
	"strings"

	"github.com/ManuGH/vencode/internal/encoding/model"
	"github.com/ManuGH/vencode/internal/encoding/store"
	"github.com/ManuGH/vencode/internal/log"
)

const maxNameLen = 64

// Manager validates profile mutations before they reach the store.
type Manager struct {
	store store.ProfileStore
}

func NewManager(s store.ProfileStore) *Manager {
	return &Manager{store: s}
}

// Create adds a profile. Names are trimmed and must be unique.
func (m *Manager) Create(ctx context.Context, name string) (*model.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &model.ValidationError{Field: "name", Msg: "must not be empty"}
	}
	if len(name) > maxNameLen {
		return nil, &model.ValidationError{Field: "name", Msg: "too long"}
	}
	if strings.ContainsAny(name, "/\\") {
		return nil, &model.ValidationError{Field: "name", Msg: "must not contain path separators"}
	}
	p, err := m.store.CreateProfile(ctx, name)
	if err != nil {
		return nil, err
	}
	logger := log.WithContext(ctx, log.WithComponent("profiles"))
	logger.Info().
		Str(log.FieldEvent, "profile.created").
		Int64(log.FieldProfileID, p.ID).
		Str("name", p.Name).
		Msg("profile created")
	return p, nil
}

// GetProfile returns a profile with all of its details.
func (m *Manager) GetProfile(ctx context.Context, id int64) (*model.Profile, error) {
	return m.store.GetProfile(ctx, id)
}

func (m *Manager) List(ctx context.Context) ([]*model.Profile, error) {
	return m.store.ListProfiles(ctx)
}

// Delete removes a profile and its details. Jobs referencing it fail with
// "profile not found" when they reach a worker.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	if err := m.store.DeleteProfile(ctx, id); err != nil {
		return err
	}
	logger := log.WithContext(ctx, log.WithComponent("profiles"))
	logger.Info().
		Str(log.FieldEvent, "profile.deleted").
		Int64(log.FieldProfileID, id).
		Msg("profile deleted")
	return nil
}

// AddDetail applies defaults, validates and stores d as the profile's new
// active detail.
func (m *Manager) AddDetail(ctx context.Context, profileID int64, d model.ProfileDetail) (*model.ProfileDetail, error) {
	if profileID <= 0 {
		return nil, &model.ValidationError{Field: "profile_id", Msg: "must be positive"}
	}
	d.ApplyDefaults()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return m.store.AddDetail(ctx, profileID, d)
}

// ActiveDetail returns the detail used for execution.
func (m *Manager) ActiveDetail(ctx context.Context, profileID int64) (*model.ProfileDetail, error) {
	p, err := m.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	d, ok := p.ActiveDetail()
	if !ok {
		return nil, &model.NotFoundError{Kind: "profile detail", ID: profileID}
	}
	return &d, nil
}

// Ping reports whether the backing store answers, when it can.
func (m *Manager) Ping(ctx context.Context) error {
	if p, ok := m.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return errors.New("profiles: store does not support ping")
}
