// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys shared by the worker and the executor.
const (
	JobIDKey        = "job.id"
	JobProfileKey   = "job.profile_id"
	JobStatusKey    = "job.status"
	JobReasonKey    = "job.reason"
	TranscodeInKey  = "transcode.input"
	TranscodeOutKey = "transcode.output"
	TranscodeBytes  = "transcode.output_bytes"
	TranscodeExit   = "transcode.exit_code"
)

func JobAttributes(id, profileID int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(JobIDKey, id),
		attribute.Int64(JobProfileKey, profileID),
	}
}

// OutcomeAttributes records the terminal status. reason is omitted when empty.
func OutcomeAttributes(status, reason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(JobStatusKey, status)}
	if reason != "" {
		attrs = append(attrs, attribute.String(JobReasonKey, reason))
	}
	return attrs
}

// TranscodeAttributes uses base names only; full paths stay out of traces.
func TranscodeAttributes(input, output string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(TranscodeInKey, filepath.Base(input)),
		attribute.String(TranscodeOutKey, filepath.Base(output)),
	}
}
