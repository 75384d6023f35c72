package audit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	pkgkafka "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/kafka"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/logger"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, event *pkgkafka.Event) error {
	args := m.Called(ctx, topic, event)
	return args.Error(0)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEvent() Event {
	return Event{
		Type:    EventImpersonationStarted,
		Subject: "bob@example.com",
		Actor:   "admin@example.com",
		At:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestKafkaSink_PublishesKeyedEnvelope(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "auth.audit", mock.MatchedBy(func(e *pkgkafka.Event) bool {
		return e.EventType == EventImpersonationStarted &&
			e.AggregateID == "bob@example.com" &&
			e.CorrelationID == "req-1" &&
			e.Metadata["actor"] == "admin@example.com"
	})).Return(nil).Once()

	ctx := logger.WithCorrelationID(context.Background(), "req-1")
	NewKafkaSink(pub, "auth.audit", discard()).Record(ctx, sampleEvent())

	pub.AssertExpectations(t)
}

func TestKafkaSink_SwallowsPublishError(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "auth.audit", mock.Anything).Return(errors.New("broker down"))

	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))

	require.NotPanics(t, func() {
		NewKafkaSink(pub, "auth.audit", l).Record(context.Background(), sampleEvent())
	})
	assert.Contains(t, buf.String(), "failed to publish audit event")
}

func TestLogSink_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	NewLogSink(slog.New(slog.NewTextHandler(&buf, nil))).Record(context.Background(), sampleEvent())

	out := buf.String()
	assert.Contains(t, out, "event=impersonation_started")
	assert.Contains(t, out, "subject=bob@example.com")
	assert.Contains(t, out, "actor=admin@example.com")
}

type recordingSink struct{ events []Event }

func (r *recordingSink) Record(_ context.Context, e Event) { r.events = append(r.events, e) }

func TestMultiSink_FansOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	MultiSink{a, NopSink{}, b}.Record(context.Background(), sampleEvent())

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}
