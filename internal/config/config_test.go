// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/vencode/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_DefaultsUnderDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VENCODE_DATA_DIR", dir)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, filepath.Join(dir, "vencode.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, filepath.Join(dir, "uploads"), cfg.Storage.UploadDir)
	assert.DirExists(t, cfg.Storage.OutputDir)
	assert.GreaterOrEqual(t, cfg.Workers.PoolSize, 1)
	assert.Equal(t, int64(1), cfg.Profiles.DefaultProfileID)
	assert.Equal(t, 5*time.Second, cfg.FFmpeg.KillGrace)
}

func TestLoad_PrecedenceEnvOverFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
dataDir: `+dir+`
workers:
  poolSize: 3
  queueSize: 9
ffmpeg:
  jobTimeout: 2m
kafka:
  brokers: [a:9092]
`)
	t.Setenv("VENCODE_WORKERS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Workers.PoolSize, "env wins over file")
	assert.Equal(t, 9, cfg.Workers.QueueSize, "file wins over defaults")
	assert.Equal(t, 2*time.Minute, cfg.FFmpeg.JobTimeout)
	assert.Equal(t, []string{"a:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "vencode.jobs", cfg.Kafka.Topic)
}

func TestLoad_StrictYAML(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(writeFile(t, dir, "unknown.yaml", "workerz:\n  poolSize: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict config parse error")

	_, err = Load(writeFile(t, dir, "multi.yaml", "logLevel: info\n---\nlogLevel: debug\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple documents")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_EnvToken(t *testing.T) {
	t.Setenv("VENCODE_DATA_DIR", t.TempDir())
	t.Setenv("VENCODE_AUTH_ENABLED", "yes")
	t.Setenv("VENCODE_API_TOKEN", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Auth.Enabled)
	require.Len(t, cfg.Auth.Tokens, 1)
	assert.Equal(t, "admin", cfg.Auth.Tokens[0].Role)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := Defaults()
	cfg.DataDir = dir
	resolvePaths(&cfg)

	cfg.Workers.PoolSize = 0
	cfg.Storage.Backend = "badger"
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Exporter = "zipkin"
	cfg.Auth.Enabled = true
	cfg.ObjectStore.Endpoint = "minio:9000"

	err := Validate(cfg)
	require.Error(t, err)
	var ve validate.ValidationError
	require.True(t, errors.As(err, &ve))

	fields := map[string]bool{}
	for _, e := range ve.Errors() {
		fields[e.Field] = true
	}
	for _, f := range []string{"workers.poolSize", "storage.backend", "telemetry.exporter", "auth.enabled", "objectStore.bucket"} {
		assert.True(t, fields[f], "missing error for %s", f)
	}
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	cfg := Defaults()
	cfg.DataDir = t.TempDir()
	resolvePaths(&cfg)
	cfg.Storage.Backend = "postgres"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.postgresDSN")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env")))

	t.Setenv("VENCODE_QUEUE_SIZE", "")
	require.NoError(t, os.Unsetenv("VENCODE_QUEUE_SIZE"))
	path := writeFile(t, dir, ".env", "VENCODE_QUEUE_SIZE=42\n")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, 42, ParseInt("VENCODE_QUEUE_SIZE", 1))
}
