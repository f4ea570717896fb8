package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"staffdesk/internal/models"

	"github.com/segmentio/kafka-go"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer for topic. Messages are keyed by member id
// so every change for one member lands on the same partition, in order.
func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	clean := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(clean...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}, nil
}

// KafkaEffector writes role effects to a Kafka topic.
type KafkaEffector struct {
	writer kafkaWriter
}

// NewKafkaEffector returns an effector writing through w.
func NewKafkaEffector(w kafkaWriter) *KafkaEffector {
	return &KafkaEffector{writer: w}
}

func (e *KafkaEffector) Grant(ctx context.Context, memberID, roleID string) error {
	return e.send(ctx, memberID, roleID, ActionGrant)
}

func (e *KafkaEffector) Revoke(ctx context.Context, memberID, roleID string) error {
	return e.send(ctx, memberID, roleID, ActionRevoke)
}

func (e *KafkaEffector) send(ctx context.Context, memberID, roleID string, action Action) error {
	if e == nil || e.writer == nil {
		return models.NewDependencyError("role effector", fmt.Errorf("kafka writer not initialized"))
	}
	effect, err := newEffect(ctx, memberID, roleID, action)
	if err != nil {
		return err
	}
	body, err := json.Marshal(effect)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(effect.MemberID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(action)},
		},
	}
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		return models.NewDependencyError("role effector", err)
	}
	return nil
}
