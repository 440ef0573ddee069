package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/qshelter/payment-ledger/internal/amortization"
	"github.com/qshelter/payment-ledger/internal/service"
	"go.uber.org/zap"
)

// Allocator is the part of the allocation engine the processor drives.
type Allocator interface {
	AutoAllocate(ctx context.Context, req service.AllocateRequest) (*service.AllocationResult, error)
	PayInstallment(ctx context.Context, req service.PayInstallmentRequest) (*service.PaymentResult, error)
}

// PhaseActivator persists schedules for activated payment phases.
type PhaseActivator interface {
	ActivatePhase(ctx context.Context, req service.ActivatePhaseRequest) (*service.ActivatePhaseResult, error)
}

// Message is one inbound delivery. ID is whatever the transport uses to ask
// for redelivery.
type Message struct {
	ID   string
	Body []byte
}

// BatchResult lists the messages to redeliver. Everything else in the batch,
// including dropped messages, counts as done.
type BatchResult struct {
	Failed    []string
	Processed int
	Dropped   int
}

// Processor decodes and dispatches batches of inbound events.
type Processor struct {
	alloc   Allocator
	phases  PhaseActivator
	decoder *Decoder
	log     *zap.SugaredLogger
}

// NewProcessor returns Processor.
func NewProcessor(alloc Allocator, phases PhaseActivator, logger *zap.SugaredLogger) *Processor {
	return &Processor{alloc: alloc, phases: phases, decoder: NewDecoder(), log: logger}
}

// ProcessBatch handles msgs one at a time. A message that cannot be decoded
// is dropped; a message whose handler fails is reported in Failed without
// affecting the rest of the batch.
func (p *Processor) ProcessBatch(ctx context.Context, msgs []Message) BatchResult {
	res := BatchResult{Failed: []string{}}
	for _, msg := range msgs {
		err := p.ProcessMessage(ctx, msg)
		switch {
		case err == nil:
			res.Processed++
		case errors.Is(err, ErrMalformed):
			p.log.Errorw("dropping malformed message", "message_id", msg.ID, "error", err)
			res.Dropped++
		default:
			p.log.Errorw("message handling failed", "message_id", msg.ID, "error", err)
			res.Failed = append(res.Failed, msg.ID)
		}
	}
	return res
}

// ProcessMessage decodes and handles a single message.
func (p *Processor) ProcessMessage(ctx context.Context, msg Message) error {
	evt, meta, err := p.decoder.Decode(msg.Body)
	if err != nil {
		return err
	}
	log := p.log.With("message_id", msg.ID, "event_type", evt.EventType(), "correlation_id", meta.CorrelationID)
	if err := p.dispatch(ctx, log, evt); err != nil {
		return fmt.Errorf("%s: %w", evt.EventType(), err)
	}
	return nil
}

func (p *Processor) dispatch(ctx context.Context, log *zap.SugaredLogger, evt Event) error {
	switch e := evt.(type) {
	case WalletCredited:
		if e.Source != SourceVirtualAccount {
			log.Debugw("credit not from virtual account, no allocation", "source", e.Source)
			return nil
		}
		res, err := p.alloc.AutoAllocate(ctx, service.AllocateRequest{OwnerID: e.UserID, WalletID: e.WalletID})
		if err != nil {
			return err
		}
		log.Infow("allocated after credit", "wallet_id", e.WalletID, "allocated", res.TotalAllocated)
		return nil

	case AllocateToInstallments:
		res, err := p.alloc.AutoAllocate(ctx, service.AllocateRequest{
			OwnerID: e.UserID, WalletID: e.WalletID, ScopeID: e.ScopeID, MaxAmount: e.MaxAmount,
		})
		if err != nil {
			return err
		}
		log.Infow("allocation requested", "wallet_id", e.WalletID, "allocated", res.TotalAllocated)
		return nil

	case ProcessInstallmentPayment:
		res, err := p.alloc.PayInstallment(ctx, service.PayInstallmentRequest{
			InstallmentID: e.InstallmentID, Amount: e.Amount, WalletID: e.WalletID,
			OwnerID: e.UserID, Reference: e.Reference,
		})
		if err != nil {
			return err
		}
		log.Infow("installment payment processed", "installment_id", e.InstallmentID, "applied", res.Applied, "replayed", res.Replayed)
		return nil

	case PaymentPhaseActivated:
		count := 0
		if e.InstallmentCount != nil {
			count = *e.InstallmentCount
		}
		res, err := p.phases.ActivatePhase(ctx, service.ActivatePhaseRequest{
			ScheduleID:       e.ScheduleID,
			OwnerID:          e.UserID,
			TenantID:         e.TenantID,
			ScopeID:          e.ScopeID,
			TotalAmount:      e.TotalAmount,
			InterestRate:     e.InterestRate,
			InstallmentCount: count,
			StartDate:        e.StartDate,
			Frequency:        amortization.Frequency(e.Frequency),
			IntervalDays:     e.IntervalDays,
			GracePeriodDays:  e.GracePeriodDays,
		})
		if err != nil {
			return err
		}
		log.Infow("payment phase activated", "schedule_id", e.ScheduleID, "created", res.Created)
		return nil

	case UnknownEvent:
		log.Warnw("ignoring unknown event type")
		return nil
	}
	return fmt.Errorf("no handler for %T", evt)
}
