// Package events publishes send pipeline analytics events
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

// Event types
const (
	TypeTransactionSent     = "transaction_sent"
	TypeTransactionRejected = "transaction_rejected"
)

// DefaultTopic is the topic/stream analytics events are written to
const DefaultTopic = "walletsend.events"

// Event is the envelope written to every publisher
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Token     string         `json:"token"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher defines the interface for event publishers
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, event *Event) error
}

// EventPublisher fans events out to every configured publisher
type EventPublisher struct {
	publishers []Publisher
	topic      string
	log        *zap.Logger
}

// NewEventPublisher creates a new event publisher writing to topic
func NewEventPublisher(publishers []Publisher, topic string, log *zap.Logger) *EventPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &EventPublisher{
		publishers: publishers,
		topic:      topic,
		log:        log.Named("events"),
	}
}

// Publish sends event to all publishers. It fails only if every publisher failed.
func (p *EventPublisher) Publish(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var lastErr error
	successCount := 0

	for i, publisher := range p.publishers {
		if err := publisher.PublishEvent(ctx, p.topic, event); err != nil {
			p.log.Error("failed to publish event",
				zap.Int("publisher_index", i),
				zap.String("event_type", event.Type),
				zap.Stringer("event_id", event.ID),
				zap.Error(err),
			)
			lastErr = err
		} else {
			successCount++
		}
	}

	p.log.Debug("published event",
		zap.String("event_type", event.Type),
		zap.Stringer("event_id", event.ID),
		zap.String("token", event.Token),
		zap.Int("publishers_success", successCount),
		zap.Int("publishers_total", len(p.publishers)),
	)

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all publishers failed, last error: %w", lastErr)
	}
	return nil
}

// AnalyticsPublisher adapts EventPublisher to interfaces.AnalyticsLogger.
// Publishing failures are logged and never surface to the send flow.
type AnalyticsPublisher struct {
	events *EventPublisher
	log    *zap.Logger
}

var _ interfaces.AnalyticsLogger = (*AnalyticsPublisher)(nil)

// NewAnalyticsPublisher creates an analytics logger over events
func NewAnalyticsPublisher(events *EventPublisher, log *zap.Logger) *AnalyticsPublisher {
	return &AnalyticsPublisher{events: events, log: log.Named("analytics")}
}

// LogTransactionSent implements interfaces.AnalyticsLogger
func (a *AnalyticsPublisher) LogTransactionSent(ctx context.Context, e interfaces.TransactionSentEvent) {
	payload := map[string]any{
		"blockchain":  e.Blockchain,
		"fee_type":    string(e.FeeOption),
		"wallet_form": e.SignerType,
		"memo":        e.Memo,
		"amount":      e.Amount.String(),
	}
	if e.AmountKind != "" {
		payload["amount_kind"] = string(e.AmountKind)
	}
	if e.CurrentHost != "" {
		payload["current_host"] = e.CurrentHost
	}

	a.publish(ctx, &Event{
		Type:      TypeTransactionSent,
		Source:    e.Source,
		Token:     e.Token,
		Payload:   payload,
		Timestamp: e.SentAt,
	})
}

// LogTransactionRejected implements interfaces.AnalyticsLogger
func (a *AnalyticsPublisher) LogTransactionRejected(ctx context.Context, e interfaces.TransactionRejectedEvent) {
	a.publish(ctx, &Event{
		Type:    TypeTransactionRejected,
		Source:  e.Source,
		Token:   e.Token,
		Payload: map[string]any{"error": e.Error},
	})
}

func (a *AnalyticsPublisher) publish(ctx context.Context, event *Event) {
	if err := a.events.Publish(ctx, event); err != nil {
		a.log.Warn("analytics event dropped", zap.String("event_type", event.Type), zap.Error(err))
	}
}

// KafkaPublisher implements Publisher for Apache Kafka
type KafkaPublisher struct {
	brokers []string
	log     *zap.Logger

	mu     sync.Mutex
	writer *kafka.Writer
}

// NewKafkaPublisher creates a new Kafka publisher; the writer is created on first use
func NewKafkaPublisher(brokers []string, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		brokers: brokers,
		log:     log.Named("kafka_publisher"),
	}
}

// PublishEvent publishes an event to Kafka, keyed by token for partitioning
func (k *KafkaPublisher) PublishEvent(ctx context.Context, topic string, event *Event) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	k.log.Debug("publishing event to kafka",
		zap.String("topic", topic),
		zap.Int("event_size", len(eventData)),
	)

	msg := kafka.Message{
		Key:   []byte(event.Token),
		Value: eventData,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "event-id", Value: []byte(event.ID.String())},
		},
	}

	return k.writerFor(topic).WriteMessages(ctx, msg)
}

// Close flushes and closes the writer
func (k *KafkaPublisher) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.writer == nil {
		return nil
	}
	err := k.writer.Close()
	k.writer = nil
	return err
}

func (k *KafkaPublisher) writerFor(topic string) *kafka.Writer {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer == nil {
		k.writer = &kafka.Writer{
			Addr:         kafka.TCP(k.brokers...),
			Topic:        topic,
			Balancer:     &kafka.CRC32Balancer{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		}
	}
	return k.writer
}

// RedisPublisher implements Publisher for Redis Streams
type RedisPublisher struct {
	client redis.Cmdable
	maxLen int64
	log    *zap.Logger
}

// NewRedisPublisher creates a Redis Streams publisher; maxLen caps each stream approximately
func NewRedisPublisher(client redis.Cmdable, maxLen int64, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		maxLen: maxLen,
		log:    log.Named("redis_publisher"),
	}
}

// PublishEvent appends the event to the topic stream
func (r *RedisPublisher) PublishEvent(ctx context.Context, topic string, event *Event) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	result := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: r.maxLen,
		Approx: r.maxLen > 0,
		Values: map[string]any{
			"event_type": event.Type,
			"data":       string(eventData),
			"timestamp":  event.Timestamp.Format(time.RFC3339),
		},
	})
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish to redis stream: %w", err)
	}

	r.log.Debug("published event to redis stream",
		zap.String("stream", topic),
		zap.String("message_id", result.Val()))
	return nil
}

// WebhookPublisher implements Publisher for HTTP webhooks
type WebhookPublisher struct {
	webhookURL string
	client     *http.Client
	log        *zap.Logger
}

// NewWebhookPublisher creates a new webhook publisher
func NewWebhookPublisher(webhookURL string, timeout time.Duration, log *zap.Logger) *WebhookPublisher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookPublisher{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		log:        log.Named("webhook_publisher"),
	}
}

// PublishEvent posts the event as JSON
func (w *WebhookPublisher) PublishEvent(ctx context.Context, topic string, event *Event) error {
	payloadData, err := json.Marshal(map[string]any{
		"topic": topic,
		"event": event,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(payloadData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", event.Type)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.log.Error("webhook returned error status",
			zap.String("url", w.webhookURL),
			zap.Int("status_code", resp.StatusCode))
		return fmt.Errorf("webhook returned status code: %d", resp.StatusCode)
	}
	return nil
}

// MemoryPublisher keeps events in memory; used by the sandbox and tests
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryPublisher creates an empty in-memory publisher
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// PublishEvent stores a copy of event
func (m *MemoryPublisher) PublishEvent(_ context.Context, _ string, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

// Events returns the stored events
func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfType returns the stored events of the given type
func (m *MemoryPublisher) OfType(eventType string) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
