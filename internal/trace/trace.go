// Package trace ships task lifecycle events to Kafka for external
// observability. The publisher is optional; a disabled publisher is a
// no-op so the engine never checks whether tracing is on.
package trace

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/taskmesh/taskmesh/internal/bus"
	"github.com/taskmesh/taskmesh/internal/config"
)

// messageWriter is the slice of kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher forwards bus events to a Kafka topic as JSON. Writes happen on
// a dedicated goroutine so bus callbacks never block on the broker.
type Publisher struct {
	writer  messageWriter
	topic   string
	queue   chan *bus.Event
	logger  *slog.Logger
	enabled bool
}

// New creates a publisher from trace settings. A disabled config returns a
// publisher whose methods all no-op.
func New(cfg config.TraceConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled || cfg.Brokers == "" {
		return &Publisher{logger: logger}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &Publisher{
		writer:  w,
		topic:   cfg.Topic,
		queue:   make(chan *bus.Event, 256),
		logger:  logger,
		enabled: true,
	}
}

// newWithWriter backs the publisher with an arbitrary writer, for tests.
func newWithWriter(w messageWriter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		writer:  w,
		queue:   make(chan *bus.Event, 256),
		logger:  logger,
		enabled: true,
	}
}

// Enabled reports whether the publisher will ship events.
func (p *Publisher) Enabled() bool { return p.enabled }

// Attach subscribes the publisher to every event on the bus.
func (p *Publisher) Attach(b *bus.EventBus) {
	if !p.enabled {
		return
	}
	b.Subscribe(bus.SubscribeAll, func(evt *bus.Event) {
		select {
		case p.queue <- evt:
		default:
			p.logger.Warn("trace queue full, dropping event",
				"task_id", evt.TaskID, "type", evt.Type)
		}
	})
}

// Run drains the queue and writes events to Kafka until ctx is cancelled.
// This should be run as a goroutine.
func (p *Publisher) Run(ctx context.Context) error {
	if !p.enabled {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-p.queue:
			p.write(ctx, evt)
		}
	}
}

func (p *Publisher) write(ctx context.Context, evt *bus.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn("trace marshal failed", "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	msg := kafka.Message{
		Key:   []byte(evt.TaskID),
		Value: payload,
		Time:  evt.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
	}
	if err := p.writer.WriteMessages(writeCtx, msg); err != nil {
		p.logger.Warn("trace publish failed",
			"task_id", evt.TaskID, "type", evt.Type, "error", err)
	}
}

// Close flushes pending events best-effort and closes the writer.
func (p *Publisher) Close() error {
	if !p.enabled {
		return nil
	}
	for {
		select {
		case evt := <-p.queue:
			p.write(context.Background(), evt)
		default:
			return p.writer.Close()
		}
	}
}
