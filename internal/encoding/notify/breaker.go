// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ManuGH/vencode/internal/encoding/model"
	"github.com/ManuGH/vencode/internal/log"
)

// ErrSinkOpen is returned while a sink's breaker is open.
var ErrSinkOpen = errors.New("notify: sink circuit open")

type breakerState string

const (
	breakerClosed   breakerState = "closed"
	breakerOpen     breakerState = "open"
	breakerHalfOpen breakerState = "half-open"
)

var breakerStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "vencode_notify_breaker_open",
	Help: "1 while the sink's circuit breaker is open or probing",
}, []string{"sink"})

// BreakerSink stops calling a sink after threshold consecutive failures and
// lets one probe through once cooldown has elapsed. Events arriving while
// the breaker is open are dropped.
type BreakerSink struct {
	inner     Sink
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	probing  bool
}

func NewBreakerSink(inner Sink, threshold int, cooldown time.Duration) *BreakerSink {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	b := &BreakerSink{inner: inner, threshold: threshold, cooldown: cooldown, now: time.Now, state: breakerClosed}
	breakerStateGauge.WithLabelValues(inner.Name()).Set(0)
	return b
}

func (b *BreakerSink) Name() string { return b.inner.Name() }

func (b *BreakerSink) Notify(ctx context.Context, evt model.JobEvent) error {
	if !b.allow() {
		return ErrSinkOpen
	}
	err := b.inner.Notify(ctx, evt)
	b.record(ctx, err)
	return err
}

// State reports the breaker state for diagnostics.
func (b *BreakerSink) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.state)
}

func (b *BreakerSink) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(breakerHalfOpen)
	}
	// half-open: one probe at a time
	if b.probing {
		return false
	}
	b.probing = true
	return true
}

func (b *BreakerSink) record(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if err == nil {
		b.failures = 0
		b.setState(breakerClosed)
		return
	}
	b.failures++
	if b.state == breakerHalfOpen || b.failures >= b.threshold {
		if b.state != breakerOpen {
			logger := log.WithContext(ctx, log.WithComponent("notify"))
			logger.Warn().
				Str(log.FieldEvent, "notify.breaker_open").
				Str("sink", b.inner.Name()).
				Int("failures", b.failures).
				Msg("sink disabled until cooldown elapses")
		}
		b.openedAt = b.now()
		b.setState(breakerOpen)
	}
}

// setState requires b.mu.
func (b *BreakerSink) setState(s breakerState) {
	if b.state == s {
		return
	}
	b.state = s
	v := 1.0
	if s == breakerClosed {
		v = 0
	}
	breakerStateGauge.WithLabelValues(b.inner.Name()).Set(v)
}
