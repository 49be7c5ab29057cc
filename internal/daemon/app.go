// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon assembles the service from configuration and runs it.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/vencode/internal/api"
	"github.com/ManuGH/vencode/internal/auth"
	"github.com/ManuGH/vencode/internal/config"
	"github.com/ManuGH/vencode/internal/encoding/bus"
	"github.com/ManuGH/vencode/internal/encoding/ffmpeg"
	"github.com/ManuGH/vencode/internal/encoding/notify"
	"github.com/ManuGH/vencode/internal/encoding/registry"
	"github.com/ManuGH/vencode/internal/encoding/store"
	"github.com/ManuGH/vencode/internal/encoding/worker"
	"github.com/ManuGH/vencode/internal/health"
	"github.com/ManuGH/vencode/internal/log"
	"github.com/ManuGH/vencode/internal/outputs"
	"github.com/ManuGH/vencode/internal/profiles"
	"github.com/ManuGH/vencode/internal/telemetry"
	"github.com/ManuGH/vencode/internal/uploads"
)

const (
	sinkFailureThreshold = 5
	sinkCooldown         = 30 * time.Second
)

// closeHook releases one resource at shutdown. Hooks run in reverse
// registration order.
type closeHook struct {
	name string
	fn   func(ctx context.Context) error
}

// App is the assembled daemon.
type App struct {
	cfg    config.AppConfig
	logger zerolog.Logger

	orch       *worker.Orchestrator
	dispatcher *notify.Dispatcher
	watcher    *profiles.Watcher
	apiServer  *http.Server
	metrics    *http.Server

	listeners listeners
	hooks     []closeHook
}

// New builds every component. On error, resources opened so far are
// released.
func New(ctx context.Context, cfg config.AppConfig, version string) (app *App, err error) {
	a := &App{cfg: cfg, logger: log.WithComponent("daemon")}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.LogService,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, err
	}
	a.onClose("telemetry", tp.Shutdown)

	st, err := store.Open(store.Options{
		Backend:     cfg.Storage.Backend,
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.onClose("store", func(context.Context) error { return st.Close() })

	hm := health.NewManager(version)
	hm.Register(
		health.NewFuncChecker("store", true, st.Ping),
		health.BinaryChecker{Bin: cfg.FFmpeg.Bin},
	)

	pm := profiles.NewManager(st)
	if cfg.Profiles.SeedFile != "" {
		seed, err := profiles.LoadSeed(cfg.Profiles.SeedFile)
		if err != nil {
			return nil, err
		}
		res, err := pm.ApplySeed(ctx, seed)
		if err != nil {
			return nil, fmt.Errorf("apply profile seed: %w", err)
		}
		a.logger.Info().
			Str(log.FieldEvent, "profiles.seeded").
			Int("created", res.Created).
			Int("updated", res.Updated).
			Int("unchanged", res.Unchanged).
			Msg("profile seed applied")
		if cfg.Profiles.Watch {
			a.watcher = profiles.NewWatcher(cfg.Profiles.SeedFile, pm, nil)
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.onClose("redis", func(context.Context) error { return rdb.Close() })
		hm.Register(health.NewFuncChecker("redis", cfg.Auth.Enabled, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	sinks := []notify.Sink{notify.LogSink{}}
	if rdb != nil {
		sinks = append(sinks, notify.NewBreakerSink(notify.NewRedisMirror(rdb, cfg.Redis.StatusTTL), sinkFailureThreshold, sinkCooldown))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		w, err := notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		ks := notify.NewKafkaSink(w)
		a.onClose("kafka", func(context.Context) error { return ks.Close() })
		sinks = append(sinks, notify.NewBreakerSink(ks, sinkFailureThreshold, sinkCooldown))
	}

	var sink worker.OutputSink
	if cfg.ObjectStore.Endpoint != "" {
		mc, err := outputs.NewMinioClient(outputs.Config{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Bucket:    cfg.ObjectStore.Bucket,
			UseSSL:    cfg.ObjectStore.UseSSL,
			Region:    cfg.ObjectStore.Region,
		})
		if err != nil {
			return nil, err
		}
		ms, err := outputs.NewMinioSink(mc, cfg.ObjectStore.Bucket, cfg.ObjectStore.Prefix)
		if err != nil {
			return nil, err
		}
		hm.Register(health.NewFuncChecker("object_store", true, ms.Check))
		sink = ms
	}

	b := bus.NewMemoryBus()
	reg := registry.New(st, registry.WithPublisher(b))
	if a.dispatcher, err = notify.NewDispatcher(ctx, b, sinks...); err != nil {
		return nil, err
	}

	up, err := uploads.New(cfg.Storage.UploadDir, cfg.API.MaxUploadBytes)
	if err != nil {
		return nil, err
	}

	a.orch, err = worker.New(worker.Deps{
		Registry:   reg,
		Profiles:   pm,
		Uploads:    up,
		Transcoder: ffmpeg.NewExecutor(cfg.FFmpeg.Bin, cfg.FFmpeg.KillGrace, cfg.FFmpeg.StderrLines),
		Sink:       sink,
	}, worker.Config{
		Workers:    cfg.Workers.PoolSize,
		QueueSize:  cfg.Workers.QueueSize,
		OutputDir:  cfg.Storage.OutputDir,
		JobTimeout: cfg.FFmpeg.JobTimeout,
	})
	if err != nil {
		return nil, err
	}

	tracing := ""
	if cfg.Telemetry.Enabled {
		tracing = cfg.LogService
	}
	srv, err := api.New(api.Deps{
		Jobs:     a.orch,
		Profiles: pm,
		Health:   hm,
		Resolver: buildResolver(cfg, rdb),
	}, api.Config{
		MaxUploadBytes:   cfg.API.MaxUploadBytes,
		DefaultProfileID: cfg.Profiles.DefaultProfileID,
		RateLimitRPM:     cfg.API.RateLimitRPM,
		TracingService:   tracing,
		ServeMetrics:     cfg.API.MetricsAddr == "",
	})
	if err != nil {
		return nil, err
	}
	a.apiServer = newHTTPServer(srv.Handler())
	if cfg.API.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.metrics = newHTTPServer(mux)
	}
	return a, nil
}

// buildResolver returns nil when authentication is disabled.
func buildResolver(cfg config.AppConfig, rdb *redis.Client) auth.Resolver {
	if !cfg.Auth.Enabled {
		return nil
	}
	var chain auth.ChainResolver
	if len(cfg.Auth.Tokens) > 0 {
		chain = append(chain, auth.NewStaticResolver(cfg.Auth.Tokens))
	}
	if rdb != nil {
		chain = append(chain, auth.NewRedisResolver(rdb))
	}
	return chain
}

func (a *App) onClose(name string, fn func(ctx context.Context) error) {
	a.hooks = append(a.hooks, closeHook{name: name, fn: fn})
}

// Close releases resources in reverse order of acquisition. It is safe to
// call more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.hooks) - 1; i >= 0; i-- {
		h := a.hooks[i]
		if err := h.fn(ctx); err != nil {
			a.logger.Warn().Err(err).Str("resource", h.name).Msg("close failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	a.hooks = nil
	return errors.Join(errs...)
}

func newHTTPServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
