// Package audit records every mutating request against the directory and the
// reservation ledger.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Entry is one audited request.
type Entry struct {
	RequestID    string    `json:"requestId"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	Action       string    `json:"action"` // create, delete
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId"`
	Status       int       `json:"status"`
	Outcome      string    `json:"outcome"` // success or an error code
	RemoteIP     string    `json:"remoteIp"`
	Recorded     time.Time `json:"recorded"`
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// RecorderFunc is a function adapter for Recorder.
type RecorderFunc func(ctx context.Context, e Entry) error

func (f RecorderFunc) Record(ctx context.Context, e Entry) error { return f(ctx, e) }

// LogRecorder writes entries to a zerolog logger. It is the recorder used
// when no database is configured.
type LogRecorder struct {
	logger zerolog.Logger
}

func NewLogRecorder(logger zerolog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger.With().Str("type", "audit").Logger()}
}

func (r *LogRecorder) Record(_ context.Context, e Entry) error {
	r.logger.Info().
		Str("request_id", e.RequestID).
		Str("action", e.Action).
		Str("resource_type", e.ResourceType).
		Str("resource_id", e.ResourceID).
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("outcome", e.Outcome).
		Str("remote_ip", e.RemoteIP).
		Time("recorded", e.Recorded).
		Msg("audit")
	return nil
}
