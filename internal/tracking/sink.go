package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fernwehlabs/searchgate/internal/logging"
)

// Sink is the durable destination for analytics events.
type Sink interface {
	Write(ctx context.Context, ev Event) error
}

// MemorySink collects events in memory. Used by tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write implements Sink.
func (s *MemorySink) Write(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of all recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// LogSink writes events to the structured log. It keeps single-instance
// deployments without NATS observable; the log pipeline is the warehouse.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink over the given logger.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogSink{logger: logger.Named("analytics")}
}

// Write implements Sink.
func (s *LogSink) Write(ctx context.Context, ev Event) error {
	s.logger.Info(ctx, "search event",
		zap.String("event_id", ev.ID),
		zap.String("org_id", ev.OrgID),
		zap.String("user_id", ev.UserID),
		zap.Int("result_count", ev.ResultCount),
		zap.Bool("cache_hit", ev.CacheHit),
		zap.Int64("latency_ms", ev.LatencyMS),
		zap.String("error", ev.Error),
	)
	return nil
}

// NATSSink publishes events as JSON to a per-organization subject:
//
//	searchgate.analytics.search.{org_id}
//
// A durable consumer downstream lands them in the warehouse.
type NATSSink struct {
	nc *nats.Conn
}

// NewNATSSink creates a sink over an established NATS connection.
func NewNATSSink(nc *nats.Conn) (*NATSSink, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	return &NATSSink{nc: nc}, nil
}

// Write implements Sink.
func (s *NATSSink) Write(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("searchgate.analytics.search.%s", subjectToken(ev.OrgID))
	if err := s.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// subjectToken maps an org ID onto the NATS subject token alphabet.
func subjectToken(orgID string) string {
	if orgID == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, orgID)
}
