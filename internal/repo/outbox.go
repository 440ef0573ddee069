package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/qshelter/payment-ledger/internal/model"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

// OutboundMeta is attached to every relayed event.
type OutboundMeta struct {
	OutboxID      uint64 `json:"outboxId"`
	AggregateType string `json:"aggregateType"`
	AggregateID   string `json:"aggregateId"`
	TenantID      string `json:"tenantId,omitempty"`
	ActorID       string `json:"actorId,omitempty"`
}

// OutboundEnvelope is the wire shape published to the outbound topic.
type OutboundEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Meta    OutboundMeta    `json:"meta"`
}

// NewOutboxEvent marshals payload into an unsaved outbox row.
func NewOutboxEvent(eventType, aggregateType, aggregateID, tenantID, actorID string, payload interface{}) (*model.OutboxEvent, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &model.OutboxEvent{
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		TenantID:      tenantID,
		ActorID:       actorID,
		Payload:       string(b),
	}, nil
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("id").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	ts := now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &ts}).Error
}

// EncodeOutboxMessage builds the Kafka message for an outbox row, keyed by
// aggregate id so events of one aggregate stay on one partition.
func EncodeOutboxMessage(evt model.OutboxEvent) (kafka.Message, error) {
	value, err := json.Marshal(OutboundEnvelope{
		Type:    evt.EventType,
		Payload: json.RawMessage(evt.Payload),
		Meta: OutboundMeta{
			OutboxID:      evt.ID,
			AggregateType: evt.AggregateType,
			AggregateID:   evt.AggregateID,
			TenantID:      evt.TenantID,
			ActorID:       evt.ActorID,
		},
	})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(evt.AggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.EventType)},
		},
		Time: now(),
	}, nil
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	if r.writer == nil {
		return fmt.Errorf("publish outbox %d: no kafka writer configured", evt.ID)
	}
	msg, err := EncodeOutboxMessage(evt)
	if err != nil {
		return fmt.Errorf("encode outbox %d: %w", evt.ID, err)
	}
	return r.writer.WriteMessages(ctx, msg)
}
