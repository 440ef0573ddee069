package kafka

import (
	"context"
	"time"

	"github.com/qshelter/payment-ledger/internal/model"
	"go.uber.org/zap"
)

// OutboxStore is the part of the repository the relay needs.
type OutboxStore interface {
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	MarkOutboxProcessed(ctx context.Context, id uint64) error
}

// Relay publishes committed outbox rows to the outbound topic.
type Relay struct {
	store     OutboxStore
	batchSize int
	log       *zap.SugaredLogger
}

// NewRelay returns Relay.
func NewRelay(store OutboxStore, batchSize int, logger *zap.SugaredLogger) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{store: store, batchSize: batchSize, log: logger}
}

// Run polls every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil {
				r.log.Errorw("poll outbox", "error", err)
			}
		}
	}
}

// RelayOnce sends one batch in id order. It stops at the first publish
// failure so events of one aggregate are never sent out of order.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	events, err := r.store.PollOutbox(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, evt := range events {
		if err := r.store.PublishEvent(ctx, evt); err != nil {
			r.log.Errorw("publish outbox event", "id", evt.ID, "type", evt.EventType, "error", err)
			return sent, nil
		}
		if err := r.store.MarkOutboxProcessed(ctx, evt.ID); err != nil {
			// already published; the row goes out again next poll
			r.log.Errorw("mark outbox processed", "id", evt.ID, "error", err)
			return sent, nil
		}
		sent++
		r.log.Debugw("outbox event sent", "id", evt.ID, "type", evt.EventType, "aggregate_id", evt.AggregateID)
	}
	return sent, nil
}
