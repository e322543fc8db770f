package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/fernwehlabs/searchgate/internal/logging"
)

// Config holds tracker tuning knobs.
type Config struct {
	// Workers is the size of the background write pool.
	Workers int `koanf:"workers"`

	// WriteTimeout bounds a single sink write.
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Workers == 0 {
		c.Workers = 8
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// Tracker schedules analytics writes on a bounded worker pool.
//
// TrackAsync never blocks: when the pool is saturated the event is dropped
// and counted. Sink errors and panics are recovered and logged; nothing
// propagates to the request path.
type Tracker struct {
	pool   *ants.Pool
	sink   Sink
	logger *logging.Logger
	config Config
}

// NewTracker creates a tracker over the given sink.
func NewTracker(cfg Config, sink Sink, logger *logging.Logger) (*Tracker, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	cfg.ApplyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}

	pool, err := ants.NewPool(cfg.Workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	return &Tracker{
		pool:   pool,
		sink:   sink,
		logger: logger.Named("tracking"),
		config: cfg,
	}, nil
}

// Track writes the event synchronously and returns its assigned ID.
// Use this variant only where the ID is needed downstream.
func (t *Tracker) Track(ctx context.Context, ev Event) (string, error) {
	stamp(&ev)
	if err := t.sink.Write(ctx, ev); err != nil {
		eventsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("write event: %w", err)
	}
	eventsTotal.WithLabelValues("ok").Inc()
	return ev.ID, nil
}

// TrackAsync schedules the event write and returns immediately.
func (t *Tracker) TrackAsync(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error(context.Background(), "tracking submit panic recovered",
				zap.Any("panic", r))
		}
	}()

	stamp(&ev)
	err := t.pool.Submit(func() { t.write(ev) })
	if err != nil {
		eventsTotal.WithLabelValues("dropped").Inc()
		t.logger.Warn(context.Background(), "analytics event dropped",
			zap.String("event_id", ev.ID),
			zap.Error(err))
	}
}

// Close drains the pool. Pending events get one WriteTimeout to finish.
func (t *Tracker) Close() {
	deadline := time.Now().Add(t.config.WriteTimeout)
	for t.pool.Running() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	t.pool.Release()
}

func (t *Tracker) write(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			eventsTotal.WithLabelValues("error").Inc()
			t.logger.Error(context.Background(), "tracking sink panic recovered",
				zap.String("event_id", ev.ID),
				zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), t.config.WriteTimeout)
	defer cancel()

	if err := t.sink.Write(ctx, ev); err != nil {
		eventsTotal.WithLabelValues("error").Inc()
		t.logger.Warn(ctx, "analytics write failed",
			zap.String("event_id", ev.ID),
			zap.Error(err))
		return
	}
	eventsTotal.WithLabelValues("ok").Inc()
}

func stamp(ev *Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
}
