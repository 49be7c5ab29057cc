// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"

	"github.com/ManuGH/vencode/internal/auth"
	"github.com/ManuGH/vencode/internal/encoding/store"
	"github.com/ManuGH/vencode/internal/validate"
)

const maxPoolSize = 256

// Validate reports every problem in cfg at once. Storage directories are
// created when missing.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.OneOf("logLevel", cfg.LogLevel, "trace", "debug", "info", "warn", "error")

	v.ListenAddr("api.listenAddr", cfg.API.ListenAddr)
	if cfg.API.MetricsAddr != "" {
		v.ListenAddr("api.metricsAddr", cfg.API.MetricsAddr)
	}
	v.NonNegative("api.rateLimitRPM", cfg.API.RateLimitRPM)
	if cfg.API.MaxUploadBytes <= 0 {
		v.AddError("api.maxUploadBytes", "must be positive", cfg.API.MaxUploadBytes)
	}
	v.NonNegativeDuration("api.shutdownTimeout", cfg.API.ShutdownTimeout)

	v.OneOf("storage.backend", cfg.Storage.Backend, store.BackendSQLite, store.BackendMemory, store.BackendPostgres)
	switch cfg.Storage.Backend {
	case store.BackendSQLite:
		v.NotEmpty("storage.sqlitePath", cfg.Storage.SQLitePath)
	case store.BackendPostgres:
		v.NotEmpty("storage.postgresDSN", cfg.Storage.PostgresDSN)
	}
	v.Directory("storage.uploadDir", cfg.Storage.UploadDir, false)
	v.Directory("storage.outputDir", cfg.Storage.OutputDir, false)

	v.NotEmpty("ffmpeg.bin", cfg.FFmpeg.Bin)
	v.NonNegativeDuration("ffmpeg.killGrace", cfg.FFmpeg.KillGrace)
	v.Positive("ffmpeg.stderrLines", cfg.FFmpeg.StderrLines)
	v.NonNegativeDuration("ffmpeg.jobTimeout", cfg.FFmpeg.JobTimeout)

	v.Range("workers.poolSize", cfg.Workers.PoolSize, 1, maxPoolSize)
	v.Positive("workers.queueSize", cfg.Workers.QueueSize)

	if cfg.Profiles.DefaultProfileID < 0 {
		v.AddError("profiles.defaultProfileId", "cannot be negative", cfg.Profiles.DefaultProfileID)
	}
	if cfg.Profiles.Watch && cfg.Profiles.SeedFile == "" {
		v.AddError("profiles.watch", "requires profiles.seedFile", cfg.Profiles.Watch)
	}

	if cfg.Auth.Enabled && len(cfg.Auth.Tokens) == 0 && cfg.Redis.Addr == "" {
		v.AddError("auth.enabled", "needs auth.tokens or redis.addr to resolve callers", cfg.Auth.Enabled)
	}
	for i, t := range cfg.Auth.Tokens {
		field := fmt.Sprintf("auth.tokens[%d]", i)
		v.NotEmpty(field+".token", t.Token)
		v.NotEmpty(field+".user", t.User)
		v.OneOf(field+".role", t.Role, auth.RoleUser, auth.RoleAdmin, auth.RoleSuperAdmin)
	}

	v.Range("redis.db", cfg.Redis.DB, 0, 15)
	v.NonNegativeDuration("redis.statusTTL", cfg.Redis.StatusTTL)

	if len(cfg.Kafka.Brokers) > 0 {
		v.NotEmpty("kafka.topic", cfg.Kafka.Topic)
	}

	if cfg.ObjectStore.Endpoint != "" {
		v.NotEmpty("objectStore.bucket", cfg.ObjectStore.Bucket)
		v.NotEmpty("objectStore.accessKey", cfg.ObjectStore.AccessKey)
		v.NotEmpty("objectStore.secretKey", cfg.ObjectStore.SecretKey)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, "grpc", "http")
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.Fraction("telemetry.samplingRate", cfg.Telemetry.SamplingRate)
	}

	return v.Err()
}
