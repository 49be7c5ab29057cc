// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func TestMemoryBus_DeliversInOrder(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), TopicJobTransition)
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(context.Background(), TopicJobTransition, i))
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, i, <-sub.C())
	}
}

func TestMemoryBus_PublishTimeoutCountsDrop(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), "topic")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	for i := 0; i < cap(sub.C()); i++ {
		require.NoError(t, b.Publish(context.Background(), "topic", "msg"))
	}

	before := getCounterValue(t, droppedTotal.WithLabelValues("topic", "timeout"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = b.Publish(ctx, "topic", "blocked")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Greater(t, getCounterValue(t, droppedTotal.WithLabelValues("topic", "timeout")), before)
}

func TestMemoryBus_CloseUnsubscribes(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), "topic")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, ok := <-sub.C()
	assert.False(t, ok)
	require.NoError(t, b.Publish(context.Background(), "topic", "nobody listens"))
}

func TestMemoryBus_RejectsNilContext(t *testing.T) {
	b := NewMemoryBus()
	//nolint:staticcheck
	err := b.Publish(nil, "topic", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context is nil")
}

func TestMemoryBus_CloseDoesNotWaitForBlockedPublish(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), "topic")
	require.NoError(t, err)
	for i := 0; i < cap(sub.C()); i++ {
		require.NoError(t, b.Publish(context.Background(), "topic", i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	published := make(chan error, 1)
	go func() { published <- b.Publish(ctx, "topic", "blocked") }()

	// Let the publisher block on the full buffer.
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, sub.Close())
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	select {
	case err := <-published:
		assert.NoError(t, err, "a closed subscriber is not a drop")
	case <-time.After(time.Second):
		t.Fatal("publish still blocked after subscriber closed")
	}
}

func TestMemoryBus_SlowSubscriberDoesNotBlockSubscribe(t *testing.T) {
	b := NewMemoryBus()
	slow, err := b.Subscribe(context.Background(), "topic")
	require.NoError(t, err)
	defer func() { _ = slow.Close() }()
	for i := 0; i < cap(slow.C()); i++ {
		require.NoError(t, b.Publish(context.Background(), "topic", i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = b.Publish(ctx, "topic", "blocked") }()
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		other, err := b.Subscribe(context.Background(), "other")
		if err == nil {
			_ = other.Close()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("subscribe blocked behind a stalled publish")
	}
}
