package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/barberhq/citaflow/libs/kafkax"
)

// Message is the push payload handed to the notification pipeline.
// Tag deduplicates at the device level: re-sends with the same tag replace
// the previous notification instead of stacking a duplicate.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Pusher hands a push request to whoever delivers it. Both calls are
// best-effort; delivery internals live outside this service.
type Pusher interface {
	PushToOwner(ctx context.Context, businessID string, msg Message) error
	PushToUser(ctx context.Context, userID string, msg Message) error
}

const pushTopic = "notification.push.requested.v1"

// KafkaPusher publishes push requests for the notification pipeline to
// consume. One topic, recipient addressing inside the payload.
type KafkaPusher struct {
	writer *kafka.Writer
}

func NewKafkaPusher(brokers string) *KafkaPusher {
	list := kafkax.SplitBrokers(brokers)
	if len(list) == 0 {
		return nil
	}
	return &KafkaPusher{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  list,
			Topic:    pushTopic,
			Balancer: &kafka.Hash{},
		}),
	}
}

func (p *KafkaPusher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPusher) PushToOwner(ctx context.Context, businessID string, msg Message) error {
	return p.publish(ctx, "business_owner", businessID, msg)
}

func (p *KafkaPusher) PushToUser(ctx context.Context, userID string, msg Message) error {
	return p.publish(ctx, "user", userID, msg)
}

func (p *KafkaPusher) publish(ctx context.Context, recipientType, recipientID string, msg Message) error {
	payload, err := json.Marshal(map[string]any{
		"recipient_type": recipientType,
		"recipient_id":   recipientID,
		"push":           msg,
	})
	if err != nil {
		return err
	}

	kmsg := kafka.Message{
		Key:   []byte(recipientID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(uuid.NewString())},
			{Key: "event_type", Value: []byte(pushTopic)},
		},
	}
	kmsg.Headers = kafkax.InjectTraceHeaders(ctx, kmsg.Headers)
	return p.writer.WriteMessages(ctx, kmsg)
}

// LogPusher only logs push requests. Used in development when no Kafka
// brokers are configured.
type LogPusher struct {
	logger *slog.Logger
}

func NewLogPusher(logger *slog.Logger) *LogPusher {
	return &LogPusher{logger: logger}
}

func (p *LogPusher) PushToOwner(ctx context.Context, businessID string, msg Message) error {
	p.logger.Info("push (dry run)", "recipient_type", "business_owner", "recipient_id", businessID, "title", msg.Title, "tag", msg.Tag)
	return nil
}

func (p *LogPusher) PushToUser(ctx context.Context, userID string, msg Message) error {
	p.logger.Info("push (dry run)", "recipient_type", "user", "recipient_id", userID, "title", msg.Title, "tag", msg.Tag)
	return nil
}
