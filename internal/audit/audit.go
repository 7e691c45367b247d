// Package audit records who changed which entity. Recording is
// fire-and-forget: a failing sink is logged and never fails the
// operation being audited.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-haulage/internal/clock"
)

// SystemActor is the actor used by the scheduler's ticks.
const SystemActor = "system:scheduler"

const unknownActor = "unknown"

// Entry is one audit record.
type Entry struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id"`
	Before     any       `json:"before,omitempty"`
	After      any       `json:"after,omitempty"`
	At         time.Time `json:"at"`
}

// Sink persists or forwards audit entries.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

type actorKey struct{}

// WithActor returns a context carrying the acting user or system id.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFrom returns the actor stored in ctx, or "unknown".
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return unknownActor
}

// Recorder stamps entries and hands them to a Sink.
type Recorder struct {
	sink  Sink
	clock clock.Clock
	log   logrus.FieldLogger
}

// NewRecorder creates a Recorder writing to sink.
func NewRecorder(sink Sink, clk clock.Clock, logger logrus.FieldLogger) *Recorder {
	return &Recorder{sink: sink, clock: clk, log: logger}
}

// Record builds an entry for the actor in ctx and sends it to the sink.
// Errors are logged, not returned.
func (r *Recorder) Record(ctx context.Context, action, entityKind, entityID string, before, after any) {
	if r == nil || r.sink == nil {
		return
	}
	entry := Entry{
		ID:         uuid.NewString(),
		ActorID:    ActorFrom(ctx),
		Action:     action,
		EntityKind: entityKind,
		EntityID:   entityID,
		Before:     before,
		After:      after,
		At:         r.clock.Now(),
	}
	if err := r.sink.Record(ctx, entry); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"action":      action,
			"entity_kind": entityKind,
			"entity_id":   entityID,
		}).Warn("Failed to record audit entry")
	}
}

// NopSink discards entries.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, Entry) error { return nil }

// LogSink writes entries to a logger.
type LogSink struct {
	Log logrus.FieldLogger
}

// Record implements Sink.
func (s LogSink) Record(_ context.Context, entry Entry) error {
	s.Log.WithFields(logrus.Fields{
		"audit_id":    entry.ID,
		"actor":       entry.ActorID,
		"action":      entry.Action,
		"entity_kind": entry.EntityKind,
		"entity_id":   entry.EntityID,
	}).Info("audit")
	return nil
}
