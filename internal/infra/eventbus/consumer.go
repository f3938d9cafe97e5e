// Package eventbus feeds integration events published on a Kafka topic into
// the dispatcher.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"integration-hub/internal/domain/entity"
	"integration-hub/internal/handler/http/requestid"
	"integration-hub/internal/usecase/notify"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// Message statuses reported to the Recorder.
const (
	StatusDispatched = "dispatched"
	StatusInvalid    = "invalid"
)

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Dispatcher receives decoded events. NotifyEventDetached returns once every
// matching integration has settled, even if ctx is cancelled meanwhile, and
// fails with notify.ErrShuttingDown once the dispatcher is closed.
type Dispatcher interface {
	NotifyEventDetached(ctx context.Context, event entity.IntegrationEvent) (notify.Summary, error)
}

// Recorder counts consumed messages by status. May be nil.
type Recorder interface {
	RecordEvent(status string)
}

// ConsumerConfig selects the topic and consumer group.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewReader builds a consumer-group reader starting at the newest offset
// for a group with no committed position.
func NewReader(cfg ConsumerConfig) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("group ID is required")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		Topic:             cfg.Topic,
		StartOffset:       kafka.LastOffset,
		MinBytes:          1,
		MaxBytes:          10e6,
		MaxWait:           time.Second,
		SessionTimeout:    10 * time.Second,
		RebalanceTimeout:  15 * time.Second,
		HeartbeatInterval: 3 * time.Second,
	}), nil
}

// Consumer commits a message only after its dispatch settled, so a crash
// mid-dispatch redelivers the event. Undecodable messages are committed
// and dropped.
type Consumer struct {
	reader     Reader
	dispatcher Dispatcher
	recorder   Recorder
	logger     *slog.Logger

	minBackoff    time.Duration
	maxBackoff    time.Duration
	commitTimeout time.Duration
}

// NewConsumer wires a reader to a dispatcher.
func NewConsumer(reader Reader, dispatcher Dispatcher, recorder Recorder, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		reader:        reader,
		dispatcher:    dispatcher,
		recorder:      recorder,
		logger:        logger.With(slog.String("component", "eventbus.consumer")),
		minBackoff:    200 * time.Millisecond,
		maxBackoff:    5 * time.Second,
		commitTimeout: 5 * time.Second,
	}
}

// Run consumes until ctx is cancelled and returns ctx.Err(). A message
// whose dispatch has started is still delivered and committed; Run returns
// the dispatcher error without committing once the dispatcher is closed.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started")
	backoff := c.minBackoff

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopped")
				return ctx.Err()
			}
			if !errors.Is(err, io.EOF) {
				c.logger.Warn("fetch failed; retrying", slog.Any("error", err), slog.Duration("backoff", backoff))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}
		backoff = c.minBackoff

		if err := c.handle(ctx, msg); err != nil {
			// Left uncommitted so the group redelivers it after restart.
			c.logger.Info("consumer stopped before dispatch",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset))
			return err
		}

		if err := c.commit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("commit failed", slog.Int("partition", msg.Partition), slog.Int64("offset", msg.Offset), slog.Any("error", err))
		}
	}
}

// commit acknowledges msg even when ctx was cancelled during its dispatch.
func (c *Consumer) commit(ctx context.Context, msg kafka.Message) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.commitTimeout)
	defer cancel()
	return c.reader.CommitMessages(ctx, msg)
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	event, err := Decode(msg.Value)
	if err != nil {
		c.logger.Warn("dropping undecodable event",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.Any("error", err))
		c.record(StatusInvalid)
		notify.RecordDropped("all", "invalid")
		return nil
	}

	ctx = contextFromHeaders(ctx, msg.Headers)
	summary, err := c.dispatcher.NotifyEventDetached(ctx, event)
	if err != nil {
		return err
	}
	c.logger.Debug("event dispatched",
		slog.String("request_id", summary.RequestID),
		slog.String("event_type", string(event.Type)),
		slog.Int("matched", summary.Matched),
		slog.Int("failed", summary.Failed))
	c.record(StatusDispatched)
	return nil
}

func (c *Consumer) record(status string) {
	if c.recorder != nil {
		c.recorder.RecordEvent(status)
	}
}

// Decode parses and validates one JSON IntegrationEvent.
func Decode(value []byte) (entity.IntegrationEvent, error) {
	var event entity.IntegrationEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return entity.IntegrationEvent{}, fmt.Errorf("decode event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return entity.IntegrationEvent{}, err
	}
	return event, nil
}

// contextFromHeaders restores the producer's request id and trace context.
func contextFromHeaders(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := headerCarrier(headers)
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
	if id := carrier.Get(requestid.RequestIDHeader); id != "" {
		ctx = requestid.WithRequestID(ctx, id)
	}
	return ctx
}

// headerCarrier adapts Kafka headers to propagation.TextMapCarrier. Lookups
// are case-insensitive to match HTTP header semantics.
type headerCarrier []kafka.Header

func (h headerCarrier) Get(key string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Key, key) {
			return string(hdr.Value)
		}
	}
	return ""
}

// Set is unused on the consuming side.
func (h headerCarrier) Set(string, string) {}

func (h headerCarrier) Keys() []string {
	keys := make([]string, 0, len(h))
	for _, hdr := range h {
		keys = append(keys, hdr.Key)
	}
	return keys
}
