// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package outputs publishes finished encodes to S3-compatible object storage.
package outputs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ManuGH/vencode/internal/encoding/model"
	"github.com/ManuGH/vencode/internal/log"
)

// Config locates the bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	Prefix    string
}

// ObjectClient is the subset of *minio.Client used here.
type ObjectClient interface {
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// NewMinioClient dials nothing; minio clients connect lazily.
func NewMinioClient(cfg Config) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("outputs: endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("outputs: minio client: %w", err)
	}
	return client, nil
}

// MinioSink uploads completed outputs before the job is marked completed.
type MinioSink struct {
	client ObjectClient
	bucket string
	prefix string
}

func NewMinioSink(client ObjectClient, bucket, prefix string) (*MinioSink, error) {
	if client == nil {
		return nil, errors.New("outputs: client is required")
	}
	if bucket == "" {
		return nil, errors.New("outputs: bucket is required")
	}
	return &MinioSink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// ObjectKey is <prefix>/<job id>/<output filename>.
func (s *MinioSink) ObjectKey(job *model.Job) string {
	return path.Join(s.prefix, strconv.FormatInt(job.ID, 10), job.OutputFilename)
}

// Publish uploads localPath under the job's object key.
func (s *MinioSink) Publish(ctx context.Context, job *model.Job, localPath string) error {
	if job == nil || job.OutputFilename == "" {
		return errors.New("outputs: job has no output filename")
	}
	key := s.ObjectKey(job)
	info, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "video/mp4",
		UserMetadata: map[string]string{
			"job-id":     strconv.FormatInt(job.ID, 10),
			"profile-id": strconv.FormatInt(job.ProfileID, 10),
		},
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", s.bucket, key, err)
	}
	logger := log.WithContext(ctx, log.WithComponent("outputs"))
	logger.Info().
		Str(log.FieldEvent, "output.published").
		Str("bucket", s.bucket).
		Str("object", key).
		Int64("bytes", info.Size).
		Msg("output uploaded")
	return nil
}

// Check verifies the bucket is reachable.
func (s *MinioSink) Check(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	return nil
}
