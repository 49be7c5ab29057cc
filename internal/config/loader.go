// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config resolves the daemon configuration. Precedence is
// environment over YAML file over built-in defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ManuGH/vencode/internal/auth"
	"github.com/ManuGH/vencode/internal/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:    "data",
		LogLevel:   "info",
		LogService: "vencoded",
		API: APIConfig{
			ListenAddr:      ":8080",
			RateLimitRPM:    600,
			MaxUploadBytes:  2 << 30,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{Backend: "sqlite"},
		FFmpeg: FFmpegConfig{
			Bin:         "ffmpeg",
			KillGrace:   5 * time.Second,
			StderrLines: 50,
		},
		Workers: WorkersConfig{
			PoolSize:  max(runtime.NumCPU(), 1),
			QueueSize: 256,
		},
		Profiles: ProfilesConfig{DefaultProfileID: 1},
		Redis:    RedisConfig{StatusTTL: 24 * time.Hour},
		Kafka:    KafkaConfig{Topic: "vencode.jobs"},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
			Environment:  "production",
		},
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		logger := log.WithComponent("config")
		logger.Info().Str("path", path).Msg("loaded dotenv file")
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

// Load resolves defaults, then the YAML file at path (optional), then the
// environment, fills derived paths and validates the result.
func Load(path string) (AppConfig, error) {
	cfg := Defaults()
	if path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return AppConfig{}, err
		}
	}
	mergeEnv(&cfg)
	resolvePaths(&cfg)
	if err := Validate(cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func mergeFile(cfg *AppConfig, path string) error {
	// #nosec G304 -- operator supplied path
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return decodeStrict(data, cfg)
}

// decodeStrict overlays YAML onto cfg. Unknown keys and multi-document files
// are rejected.
func decodeStrict(data []byte, cfg *AppConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func env(name string) string { return EnvPrefix + name }

func mergeEnv(cfg *AppConfig) {
	cfg.DataDir = ParseString(env("DATA_DIR"), cfg.DataDir)
	cfg.LogLevel = ParseString(env("LOG_LEVEL"), cfg.LogLevel)
	cfg.LogService = ParseString(env("LOG_SERVICE"), cfg.LogService)

	cfg.API.ListenAddr = ParseString(env("LISTEN_ADDR"), cfg.API.ListenAddr)
	cfg.API.MetricsAddr = ParseString(env("METRICS_ADDR"), cfg.API.MetricsAddr)
	cfg.API.RateLimitRPM = ParseInt(env("RATE_LIMIT_RPM"), cfg.API.RateLimitRPM)
	cfg.API.MaxUploadBytes = ParseInt64(env("MAX_UPLOAD_BYTES"), cfg.API.MaxUploadBytes)
	cfg.API.ShutdownTimeout = ParseDuration(env("SHUTDOWN_TIMEOUT"), cfg.API.ShutdownTimeout)

	cfg.Storage.Backend = ParseString(env("STORAGE_BACKEND"), cfg.Storage.Backend)
	cfg.Storage.SQLitePath = ParseString(env("SQLITE_PATH"), cfg.Storage.SQLitePath)
	cfg.Storage.PostgresDSN = ParseString(env("POSTGRES_DSN"), cfg.Storage.PostgresDSN)
	cfg.Storage.UploadDir = ParseString(env("UPLOAD_DIR"), cfg.Storage.UploadDir)
	cfg.Storage.OutputDir = ParseString(env("OUTPUT_DIR"), cfg.Storage.OutputDir)

	cfg.FFmpeg.Bin = ParseString(env("FFMPEG_BIN"), cfg.FFmpeg.Bin)
	cfg.FFmpeg.KillGrace = ParseDuration(env("FFMPEG_KILL_GRACE"), cfg.FFmpeg.KillGrace)
	cfg.FFmpeg.StderrLines = ParseInt(env("FFMPEG_STDERR_LINES"), cfg.FFmpeg.StderrLines)
	cfg.FFmpeg.JobTimeout = ParseDuration(env("JOB_TIMEOUT"), cfg.FFmpeg.JobTimeout)

	cfg.Workers.PoolSize = ParseInt(env("WORKERS"), cfg.Workers.PoolSize)
	cfg.Workers.QueueSize = ParseInt(env("QUEUE_SIZE"), cfg.Workers.QueueSize)

	cfg.Profiles.SeedFile = ParseString(env("PROFILE_SEED_FILE"), cfg.Profiles.SeedFile)
	cfg.Profiles.Watch = ParseBool(env("PROFILE_WATCH"), cfg.Profiles.Watch)
	cfg.Profiles.DefaultProfileID = ParseInt64(env("DEFAULT_PROFILE_ID"), cfg.Profiles.DefaultProfileID)

	cfg.Auth.Enabled = ParseBool(env("AUTH_ENABLED"), cfg.Auth.Enabled)
	if tok := ParseString(env("API_TOKEN"), ""); tok != "" {
		cfg.Auth.Tokens = append(cfg.Auth.Tokens, auth.StaticToken{
			Token: tok,
			User:  ParseString(env("API_TOKEN_USER"), "env"),
			Role:  ParseString(env("API_TOKEN_ROLE"), auth.RoleAdmin),
		})
	}

	cfg.Redis.Addr = ParseString(env("REDIS_ADDR"), cfg.Redis.Addr)
	cfg.Redis.Password = ParseString(env("REDIS_PASSWORD"), cfg.Redis.Password)
	cfg.Redis.DB = ParseInt(env("REDIS_DB"), cfg.Redis.DB)
	cfg.Redis.StatusTTL = ParseDuration(env("REDIS_STATUS_TTL"), cfg.Redis.StatusTTL)

	cfg.Kafka.Brokers = ParseList(env("KAFKA_BROKERS"), cfg.Kafka.Brokers)
	cfg.Kafka.Topic = ParseString(env("KAFKA_TOPIC"), cfg.Kafka.Topic)

	cfg.ObjectStore.Endpoint = ParseString(env("S3_ENDPOINT"), cfg.ObjectStore.Endpoint)
	cfg.ObjectStore.AccessKey = ParseString(env("S3_ACCESS_KEY"), cfg.ObjectStore.AccessKey)
	cfg.ObjectStore.SecretKey = ParseString(env("S3_SECRET_KEY"), cfg.ObjectStore.SecretKey)
	cfg.ObjectStore.Bucket = ParseString(env("S3_BUCKET"), cfg.ObjectStore.Bucket)
	cfg.ObjectStore.Prefix = ParseString(env("S3_PREFIX"), cfg.ObjectStore.Prefix)
	cfg.ObjectStore.UseSSL = ParseBool(env("S3_USE_SSL"), cfg.ObjectStore.UseSSL)
	cfg.ObjectStore.Region = ParseString(env("S3_REGION"), cfg.ObjectStore.Region)

	cfg.Telemetry.Enabled = ParseBool(env("TELEMETRY_ENABLED"), cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = ParseString(env("TELEMETRY_EXPORTER"), cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = ParseString(env("TELEMETRY_ENDPOINT"), cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat(env("TELEMETRY_SAMPLING_RATE"), cfg.Telemetry.SamplingRate)
	cfg.Telemetry.Environment = ParseString(env("TELEMETRY_ENVIRONMENT"), cfg.Telemetry.Environment)
}

// resolvePaths places unset storage paths under DataDir.
func resolvePaths(cfg *AppConfig) {
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.DataDir, "vencode.db")
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = filepath.Join(cfg.DataDir, "uploads")
	}
	if cfg.Storage.OutputDir == "" {
		cfg.Storage.OutputDir = filepath.Join(cfg.DataDir, "outputs")
	}
}
