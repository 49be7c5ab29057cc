// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/vencode/internal/encoding/model"
)

// MemoryStore is an in-memory Store intended for tests and local iteration.
// Not durable.
type MemoryStore struct {
	mu sync.RWMutex

	profiles map[int64]*model.Profile
	jobs     map[int64]*model.Job

	nextProfileID int64
	nextDetailID  int64
	nextJobID     int64

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[int64]*model.Profile),
		jobs:     make(map[int64]*model.Job),
		now:      time.Now,
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }

func (m *MemoryStore) CreateProfile(_ context.Context, name string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.Name == name {
			return nil, fmt.Errorf("profile %q: %w", name, model.ErrConflict)
		}
	}
	m.nextProfileID++
	p := &model.Profile{ID: m.nextProfileID, Name: name, CreatedAt: m.now().UTC()}
	m.profiles[p.ID] = p
	return p.Clone(), nil
}

func (m *MemoryStore) GetProfile(_ context.Context, id int64) (*model.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, profileNotFound(id)
	}
	return p.Clone(), nil
}

func (m *MemoryStore) FindProfileByName(_ context.Context, name string) (*model.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.profiles {
		if p.Name == name {
			return p.Clone(), nil
		}
	}
	return nil, fmt.Errorf("profile %q: %w", name, model.ErrNotFound)
}

func (m *MemoryStore) ListProfiles(context.Context) ([]*model.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteProfile(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[id]; !ok {
		return profileNotFound(id)
	}
	delete(m.profiles, id)
	return nil
}

func (m *MemoryStore) AddDetail(_ context.Context, profileID int64, d model.ProfileDetail) (*model.ProfileDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[profileID]
	if !ok {
		return nil, profileNotFound(profileID)
	}
	m.nextDetailID++
	d.ID = m.nextDetailID
	d.ProfileID = profileID
	d.CreatedAt = m.now().UTC()
	p.Details = append(p.Details, d)
	out := d
	return &out, nil
}

func (m *MemoryStore) CreateJob(_ context.Context, j *model.Job) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextJobID++
	c := j.Clone()
	c.ID = m.nextJobID
	m.jobs[c.ID] = c
	return c.Clone(), nil
}

func (m *MemoryStore) GetJob(_ context.Context, id int64) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, jobNotFound(id)
	}
	return j.Clone(), nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, id int64, fn func(*model.Job) error) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[id]
	if !ok {
		return nil, jobNotFound(id)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = id
	m.jobs[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) ListJobs(_ context.Context, filter model.JobFilter) ([]*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if filter.Match(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
