// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package notify fans job transition events out to external sinks: the log,
// a Redis status mirror and a Kafka topic.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ManuGH/vencode/internal/encoding/bus"
	"github.com/ManuGH/vencode/internal/encoding/model"
	"github.com/ManuGH/vencode/internal/log"
)

var deliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vencode_notify_delivered_total",
	Help: "Job events handed to notification sinks, by sink and result",
}, []string{"sink", "result"})

const defaultSinkTimeout = 5 * time.Second

// Sink receives committed job transitions.
type Sink interface {
	Name() string
	Notify(ctx context.Context, evt model.JobEvent) error
}

// Source is the subscribing half of a bus.Bus.
type Source interface {
	Subscribe(ctx context.Context, topic string) (bus.Subscriber, error)
}

// Dispatcher delivers bus events to every sink. Sink failures are logged and
// counted; they never affect the job.
type Dispatcher struct {
	sub     bus.Subscriber
	sinks   []Sink
	timeout time.Duration
}

// NewDispatcher subscribes to job transitions.
func NewDispatcher(ctx context.Context, b Source, sinks ...Sink) (*Dispatcher, error) {
	if b == nil {
		return nil, errors.New("notify: bus is required")
	}
	sub, err := b.Subscribe(ctx, bus.TopicJobTransition)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{sub: sub, sinks: sinks, timeout: defaultSinkTimeout}, nil
}

// Run delivers events until ctx is done or the subscription closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer func() { _ = d.sub.Close() }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-d.sub.C():
			if !ok {
				return nil
			}
			evt, ok := msg.(model.JobEvent)
			if !ok {
				continue
			}
			d.deliver(ctx, evt)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, evt model.JobEvent) {
	ctx = log.ContextWithJobID(context.WithoutCancel(ctx), evt.JobID)
	for _, s := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := s.Notify(sctx, evt)
		cancel()
		if err != nil {
			deliveredTotal.WithLabelValues(s.Name(), "error").Inc()
			logger := log.WithContext(ctx, log.WithComponent("notify"))
			logger.Warn().
				Err(err).
				Str("sink", s.Name()).
				Str(log.FieldNewState, string(evt.To)).
				Msg("job notification failed")
			continue
		}
		deliveredTotal.WithLabelValues(s.Name(), "ok").Inc()
	}
}

// LogSink reports terminal outcomes in the service log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Notify(ctx context.Context, evt model.JobEvent) error {
	logger := log.WithContext(ctx, log.WithComponent("notify"))
	switch evt.To {
	case model.JobCompleted:
		logger.Info().
			Str(log.FieldEvent, "job.completed").
			Str(log.FieldOutputPath, evt.Job.OutputFilename).
			Msg("encoding completed")
	case model.JobFailed:
		logger.Warn().
			Str(log.FieldEvent, "job.failed").
			Str(log.FieldReason, string(evt.Reason)).
			Str("detail", evt.Detail).
			Msg("encoding failed")
	}
	return nil
}
