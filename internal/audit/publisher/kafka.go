// Package publisher fans audit entries out to Kafka for downstream SIEM and
// compliance consumers. The chain store remains the source of truth; publish
// failures are logged and dropped, never surfaced to the mutating request.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"forgecert/internal/audit"
)

// Kafka publishes chain entries to a single topic, keyed by entity ID so a
// given forge's history stays ordered within a partition.
type Kafka struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafka connects to the brokers and ensures the audit topic exists.
// Returns nil if brokers is empty (publishing not configured).
func NewKafka(ctx context.Context, brokers, topic string, logger *slog.Logger) (*Kafka, error) {
	if brokers == "" {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(brokers, ",")...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, 3, 1, nil, topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure audit topic: %w", err)
	}
	// Already-exists is the normal steady state.
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("create audit topic: %w", resp.Err)
	}

	return &Kafka{client: client, topic: topic, logger: logger}, nil
}

// Publish produces the entry asynchronously. Failures are logged only.
func (k *Kafka) Publish(ctx context.Context, entry audit.Entry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		k.logger.ErrorContext(ctx, "marshal audit entry for kafka", "error", err)
		return
	}

	record := &kgo.Record{
		Key:   []byte(entry.EntityID),
		Value: payload,
	}
	k.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			k.logger.Error("publish audit entry to kafka",
				"error", err,
				"entry_id", entry.ID.String(),
			)
		}
	})
}

// Close flushes pending records and releases the client.
func (k *Kafka) Close() {
	k.client.Close()
}
