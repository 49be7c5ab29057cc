// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/vencode/internal/auth"
)

// AppConfig is the fully resolved daemon configuration.
type AppConfig struct {
	DataDir     string            `yaml:"dataDir"`
	LogLevel    string            `yaml:"logLevel"`
	LogService  string            `yaml:"logService"`
	API         APIConfig         `yaml:"api"`
	Storage     StorageConfig     `yaml:"storage"`
	FFmpeg      FFmpegConfig      `yaml:"ffmpeg"`
	Workers     WorkersConfig     `yaml:"workers"`
	Profiles    ProfilesConfig    `yaml:"profiles"`
	Auth        AuthConfig        `yaml:"auth"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	ObjectStore ObjectStoreConfig `yaml:"objectStore"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// MetricsAddr serves /metrics on a separate listener. Empty mounts it on the API router.
	MetricsAddr     string        `yaml:"metricsAddr"`
	RateLimitRPM    int           `yaml:"rateLimitRPM"`
	MaxUploadBytes  int64         `yaml:"maxUploadBytes"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend"`
	SQLitePath  string `yaml:"sqlitePath"`
	PostgresDSN string `yaml:"postgresDSN"`
	UploadDir   string `yaml:"uploadDir"`
	OutputDir   string `yaml:"outputDir"`
}

type FFmpegConfig struct {
	Bin         string        `yaml:"bin"`
	KillGrace   time.Duration `yaml:"killGrace"`
	StderrLines int           `yaml:"stderrLines"`
	// JobTimeout bounds a single transcode. Zero disables the limit.
	JobTimeout time.Duration `yaml:"jobTimeout"`
}

type WorkersConfig struct {
	PoolSize  int `yaml:"poolSize"`
	QueueSize int `yaml:"queueSize"`
}

type ProfilesConfig struct {
	SeedFile string `yaml:"seedFile"`
	Watch    bool   `yaml:"watch"`
	// DefaultProfileID is used when an upload names no profile. Zero makes profile_id mandatory.
	DefaultProfileID int64 `yaml:"defaultProfileId"`
}

type AuthConfig struct {
	Enabled bool               `yaml:"enabled"`
	Tokens  []auth.StaticToken `yaml:"tokens"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	StatusTTL time.Duration `yaml:"statusTTL"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"useSSL"`
	Region    string `yaml:"region"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}
