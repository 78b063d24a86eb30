package database

import (
	"context"
	"fmt"
	"time"

	"video_merge_service/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaWriter definition the part of *kafka.Writer the service uses
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriterWithRetry 嘗試建立 Kafka Writer 並發送 ping 訊息以確認連線
func NewKafkaWriterWithRetry(ctx context.Context, k KafkaConnection) (*kafka.Writer, error) {
	var err error

	for attempt := 1; attempt <= k.RetryCount; attempt++ {
		writer := &kafka.Writer{
			Addr:                   kafka.TCP(k.Brokers...),
			Topic:                  k.Topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		}

		err = writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte("ping"),
			Value: []byte("ping"),
		})
		if err == nil {
			logger.Log.Info("kafka writer ready", zap.String("topic", k.Topic), zap.Int("attempt", attempt))
			return writer, nil
		}

		logger.Log.Warn("kafka writer failed, retrying",
			zap.Strings("brokers", k.Brokers),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", k.RetryCount),
			zap.Error(err),
		)
		writer.Close()
		time.Sleep(k.RetryInterval * time.Second)
	}

	return nil, fmt.Errorf("無法建立 Kafka Writer，經過 %d 次嘗試: %w", k.RetryCount, err)
}
