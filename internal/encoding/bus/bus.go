// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus carries job lifecycle events from the registry to side
// consumers (notifications, status mirrors, event sinks).
package bus

import "context"

// TopicJobTransition carries model.JobEvent values.
const TopicJobTransition = "job.transition"

// Message is any published payload.
type Message any

// Publisher publishes messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

// Subscriber is a live subscription. C is closed by Close.
type Subscriber interface {
	C() <-chan Message
	Close() error
}

// Bus is a topic based pub/sub.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}
