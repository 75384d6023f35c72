// Package audit records security-relevant events. Recording is best effort:
// sinks log their own failures and never return them to the caller.
package audit

import (
	"context"
	"log/slog"
	"time"

	pkgkafka "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/kafka"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/logger"
)

// Event types.
const (
	EventRegister             = "register"
	EventLogin                = "login"
	EventLoginFailed          = "login_failed"
	EventLogout               = "logout"
	EventLogoutAll            = "logout_all"
	EventRefresh              = "refresh"
	EventPasswordReset        = "password_reset"
	EventEmailVerified        = "email_verified"
	EventMagicLinkLogin       = "magic_link_login"
	EventImpersonationStarted = "impersonation_started"
	EventImpersonationEnded   = "impersonation_ended"
	EventUserCreated          = "user_created"
	EventUserUpdated          = "user_updated"
	EventUserDeleted          = "user_deleted"
	EventSessionRevoked       = "session_revoked"
	EventGroupChanged         = "group_changed"
	EventPermissionChanged    = "permission_changed"
)

const (
	aggregateType = "user"
	source        = "auth-core"
)

// Event is a single audit record. Subject is the user the event is about,
// Actor the caller that caused it when different.
type Event struct {
	Type      string         `json:"type"`
	Subject   string         `json:"subject"`
	Actor     string         `json:"actor,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// NopSink discards every event.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, Event) {}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(l *slog.Logger) *LogSink {
	return &LogSink{logger: l}
}

// Record implements Sink.
func (s *LogSink) Record(ctx context.Context, e Event) {
	attrs := []any{
		slog.String("event", e.Type),
		slog.String("subject", e.Subject),
	}
	if e.Actor != "" {
		attrs = append(attrs, slog.String("actor", e.Actor))
	}
	if e.IPAddress != "" {
		attrs = append(attrs, slog.String("ip", e.IPAddress))
	}
	if len(e.Data) > 0 {
		attrs = append(attrs, slog.Any("data", e.Data))
	}
	s.logger.InfoContext(ctx, "audit", attrs...)
}

// Publisher is the part of the Kafka producer the sink depends on.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// KafkaSink publishes events to a Kafka topic keyed by subject.
type KafkaSink struct {
	publisher Publisher
	topic     string
	logger    *slog.Logger
}

// NewKafkaSink creates a sink publishing to topic.
func NewKafkaSink(p Publisher, topic string, l *slog.Logger) *KafkaSink {
	return &KafkaSink{publisher: p, topic: topic, logger: l}
}

// Record implements Sink.
func (s *KafkaSink) Record(ctx context.Context, e Event) {
	event, err := pkgkafka.NewEvent(e.Type, e.Subject, aggregateType, source, e,
		pkgkafka.WithCorrelationID(logger.CorrelationIDFromContext(ctx)),
		pkgkafka.WithMetadata("actor", e.Actor),
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build audit event",
			slog.String("event", e.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.publisher.Publish(ctx, s.topic, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish audit event",
			slog.String("event", e.Type),
			slog.String("topic", s.topic),
			slog.String("error", err.Error()),
		)
	}
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

// Record implements Sink.
func (m MultiSink) Record(ctx context.Context, e Event) {
	for _, s := range m {
		s.Record(ctx, e)
	}
}
