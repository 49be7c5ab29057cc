// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"time"

	"github.com/ManuGH/vencode/internal/encoding/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vencode_store_ops_total",
			Help: "Total store operations",
		},
		[]string{"backend", "op", "result"}, // result=success/error
	)
	storeLat = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vencode_store_op_seconds",
			Help:    "Store operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)
)

// instrumentedStore wraps any Store to capture metrics.
type instrumentedStore struct {
	inner   Store
	backend string
}

func NewInstrumentedStore(inner Store, backend string) Store {
	return &instrumentedStore{inner: inner, backend: backend}
}

func (i *instrumentedStore) observe(op string, start time.Time, err error) {
	res := "success"
	if err != nil {
		res = "error"
	}
	storeOps.WithLabelValues(i.backend, op, res).Inc()
	storeLat.WithLabelValues(i.backend, op).Observe(time.Since(start).Seconds())
}

func (i *instrumentedStore) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { i.observe("ping", start, err) }()
	return i.inner.Ping(ctx)
}

func (i *instrumentedStore) Close() error { return i.inner.Close() }

func (i *instrumentedStore) CreateProfile(ctx context.Context, name string) (p *model.Profile, err error) {
	start := time.Now()
	defer func() { i.observe("create_profile", start, err) }()
	return i.inner.CreateProfile(ctx, name)
}

func (i *instrumentedStore) GetProfile(ctx context.Context, id int64) (p *model.Profile, err error) {
	start := time.Now()
	defer func() { i.observe("get_profile", start, err) }()
	return i.inner.GetProfile(ctx, id)
}

func (i *instrumentedStore) FindProfileByName(ctx context.Context, name string) (p *model.Profile, err error) {
	start := time.Now()
	defer func() { i.observe("find_profile", start, err) }()
	return i.inner.FindProfileByName(ctx, name)
}

func (i *instrumentedStore) ListProfiles(ctx context.Context) (list []*model.Profile, err error) {
	start := time.Now()
	defer func() { i.observe("list_profiles", start, err) }()
	return i.inner.ListProfiles(ctx)
}

func (i *instrumentedStore) DeleteProfile(ctx context.Context, id int64) (err error) {
	start := time.Now()
	defer func() { i.observe("delete_profile", start, err) }()
	return i.inner.DeleteProfile(ctx, id)
}

func (i *instrumentedStore) AddDetail(ctx context.Context, profileID int64, d model.ProfileDetail) (out *model.ProfileDetail, err error) {
	start := time.Now()
	defer func() { i.observe("add_detail", start, err) }()
	return i.inner.AddDetail(ctx, profileID, d)
}

func (i *instrumentedStore) CreateJob(ctx context.Context, j *model.Job) (out *model.Job, err error) {
	start := time.Now()
	defer func() { i.observe("create_job", start, err) }()
	return i.inner.CreateJob(ctx, j)
}

func (i *instrumentedStore) GetJob(ctx context.Context, id int64) (out *model.Job, err error) {
	start := time.Now()
	defer func() { i.observe("get_job", start, err) }()
	return i.inner.GetJob(ctx, id)
}

func (i *instrumentedStore) UpdateJob(ctx context.Context, id int64, fn func(*model.Job) error) (out *model.Job, err error) {
	start := time.Now()
	defer func() { i.observe("update_job", start, err) }()
	return i.inner.UpdateJob(ctx, id, fn)
}

func (i *instrumentedStore) ListJobs(ctx context.Context, filter model.JobFilter) (list []*model.Job, err error) {
	start := time.Now()
	defer func() { i.observe("list_jobs", start, err) }()
	return i.inner.ListJobs(ctx, filter)
}
