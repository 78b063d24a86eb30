package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"video_merge_service/internal/merge/domain"
	"video_merge_service/pkg/database"

	"github.com/segmentio/kafka-go"
	"github.com/streadway/amqp"
)

// Notifier publishes job lifecycle events
type Notifier interface {
	Notify(ctx context.Context, ev domain.JobEvent) error
}

// Nop drops every event
type Nop struct{}

// Notify does nothing
func (Nop) Notify(context.Context, domain.JobEvent) error { return nil }

type rabbitNotifier struct {
	channel database.RabbitRepo
	queue   string
}

// NewRabbitNotifier publishes JSON events to queue on the default exchange
func NewRabbitNotifier(ch database.RabbitRepo, queue string) Notifier {
	return &rabbitNotifier{channel: ch, queue: queue}
}

func (n *rabbitNotifier) Notify(_ context.Context, ev domain.JobEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event JSON 轉換失敗: %w", err)
	}
	return n.channel.Publish(
		"",      // exchange
		n.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.JobID + ":" + string(ev.Type),
			Timestamp:    time.Now(),
			Type:         string(ev.Type),
			Body:         body,
		},
	)
}

type kafkaNotifier struct {
	writer database.KafkaWriter
}

// NewKafkaNotifier publishes JSON events keyed by job id, so one job's
// events stay ordered within a partition
func NewKafkaNotifier(w database.KafkaWriter) Notifier {
	return &kafkaNotifier{writer: w}
}

func (n *kafkaNotifier) Notify(ctx context.Context, ev domain.JobEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event JSON 轉換失敗: %w", err)
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.JobID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	})
}
