package notify

import (
	"encoding/json"
	"time"

	"privacydesk/backend/internal/models"

	"github.com/IBM/sarama"
)

// KafkaDispatcher publishes alert events to the topic the email worker
// consumes. The core only decides that an alert fires; rendering and sending
// the actual email happens downstream.
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string
}

// EmailEvent is the payload shape on the notification topic.
type EmailEvent struct {
	RecipientID string    `json:"recipient_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Category    string    `json:"category"`
	QueuedAt    time.Time `json:"queued_at"`
}

// NewKafkaDispatcher connects a sync producer to the brokers.
func NewKafkaDispatcher(brokers []string, topic string) (*KafkaDispatcher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}

	return &KafkaDispatcher{producer: producer, topic: topic}, nil
}

func (d *KafkaDispatcher) Channel() string { return "email" }

func (d *KafkaDispatcher) Dispatch(recipient *models.User, title, body, category string) error {
	value, err := json.Marshal(EmailEvent{
		RecipientID: recipient.ID,
		Title:       title,
		Body:        body,
		Category:    category,
		QueuedAt:    time.Now(),
	})
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(recipient.ID),
		Value: sarama.ByteEncoder(value),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}

func (d *KafkaDispatcher) Close() error {
	return d.producer.Close()
}
