// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/vencode/internal/encoding/model"
)

const defaultStatusTTL = 24 * time.Hour

// RedisMirror keeps a hash job:<id> with the latest status so other
// services can poll without touching the database.
type RedisMirror struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisMirror wraps an existing client. ttl <= 0 uses 24h.
func NewRedisMirror(client redis.Cmdable, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	return &RedisMirror{client: client, ttl: ttl}
}

func (m *RedisMirror) Name() string { return "redis" }

// StatusKey is the hash key holding a job's mirrored status.
func StatusKey(jobID int64) string {
	return "job:" + strconv.FormatInt(jobID, 10)
}

func (m *RedisMirror) Notify(ctx context.Context, evt model.JobEvent) error {
	key := StatusKey(evt.JobID)
	_, err := m.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"status", string(evt.To),
			"reason", string(evt.Reason),
			"detail", evt.Detail,
			"output_filename", evt.Job.OutputFilename,
			"profile_id", evt.Job.ProfileID,
			"updated_at", evt.Timestamp.UTC().Format(time.RFC3339Nano),
		)
		p.Expire(ctx, key, m.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror %s: %w", key, err)
	}
	return nil
}

// MirroredStatus is the Redis view of a job.
type MirroredStatus struct {
	Status         model.JobStatus
	Reason         model.ReasonCode
	Detail         string
	OutputFilename string
	UpdatedAt      time.Time
}

// Lookup reads a mirrored status. It returns model.ErrNotFound when the
// hash is absent or expired.
func (m *RedisMirror) Lookup(ctx context.Context, jobID int64) (MirroredStatus, error) {
	vals, err := m.client.HGetAll(ctx, StatusKey(jobID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return MirroredStatus{}, err
	}
	if len(vals) == 0 {
		return MirroredStatus{}, &model.NotFoundError{Kind: "job status", ID: jobID}
	}
	ts, _ := time.Parse(time.RFC3339Nano, vals["updated_at"])
	return MirroredStatus{
		Status:         model.JobStatus(vals["status"]),
		Reason:         model.ReasonCode(vals["reason"]),
		Detail:         vals["detail"],
		OutputFilename: vals["output_filename"],
		UpdatedAt:      ts,
	}, nil
}
