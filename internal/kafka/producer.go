package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/pkg/logger"
)

// Топики событий биллинга
const (
	TopicTransactionEvents  = "billing_transaction_events"
	TopicSubscriptionEvents = "billing_subscription_events"
)

// Producer определяет интерфейс для публикации событий биллинга в Kafka.
type Producer interface {
	// PublishBillingEvent отправляет событие жизненного цикла биллинга.
	// Ключ сообщения UserID: все события одного пользователя попадают
	// в одну партицию и сохраняют порядок.
	PublishBillingEvent(ctx context.Context, event domain.BillingEvent) error

	// Close закрывает соединение продюсера Kafka.
	Close() error
}

// kafkaProducer реализует интерфейс Producer, используя segmentio/kafka-go.
type kafkaProducer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewKafkaProducer создает и настраивает новый продюсер Kafka.
func NewKafkaProducer(brokers []string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers)

	return &kafkaProducer{
		writer: writer,
		log:    log,
	}, nil
}

// PublishBillingEvent преобразует событие в JSON и отправляет в топик,
// соответствующий его типу.
func (k *kafkaProducer) PublishBillingEvent(ctx context.Context, event domain.BillingEvent) error {
	topic := topicFor(event.Type)

	messageValue, err := json.Marshal(event)
	if err != nil {
		k.log.Errorw("Failed to marshal billing event for Kafka", "error", err, "type", event.Type)
		return fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}

	message := kafka.Message{
		Topic: topic,
		Key:   []byte(event.UserID.String()),
		Value: messageValue,
		Time:  time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, message); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			k.log.Errorw("Kafka write timeout exceeded", "error", err, "topic", topic, "type", event.Type)
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		k.log.Errorw("Failed to write message to Kafka", "error", err, "topic", topic, "type", event.Type)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Debugw("Published billing event to Kafka", "topic", topic, "type", event.Type, "user_id", event.UserID)
	return nil
}

// Close закрывает соединение Kafka Writer.
func (k *kafkaProducer) Close() error {
	k.log.Infow("Closing Kafka producer writer...")
	if err := k.writer.Close(); err != nil {
		k.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	return nil
}

// topicFor выбирает топик по типу события
func topicFor(eventType domain.BillingEventType) string {
	if strings.HasPrefix(string(eventType), "transaction.") {
		return TopicTransactionEvents
	}
	return TopicSubscriptionEvents
}

// noopProducer используется при запуске без брокеров: события только логируются.
type noopProducer struct {
	log *logger.Logger
}

// NewNoopProducer создает продюсер-заглушку для запуска без Kafka.
func NewNoopProducer(log *logger.Logger) Producer {
	return &noopProducer{log: log}
}

// PublishBillingEvent пишет событие в лог вместо брокера
func (n *noopProducer) PublishBillingEvent(_ context.Context, event domain.BillingEvent) error {
	n.log.Debugw("Billing event (noop producer)", "type", event.Type, "user_id", event.UserID)
	return nil
}

// Close ничего не делает
func (n *noopProducer) Close() error {
	return nil
}
