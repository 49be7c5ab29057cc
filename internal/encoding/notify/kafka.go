// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ManuGH/vencode/internal/encoding/model"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes every transition as JSON keyed by job id, so a
// partitioned topic keeps per-job order.
type KafkaSink struct {
	w MessageWriter
}

// NewKafkaWriter builds a synchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("notify: kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("notify: kafka topic is required")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}, nil
}

// NewKafkaSink wraps w. Close closes it.
func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Notify(ctx context.Context, evt model.JobEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(evt.JobID, 10)),
		Value: payload,
		Time:  evt.Timestamp,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(evt.To)},
		},
	})
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.w.Close()
}
