package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qshelter/payment-ledger/internal/amortization"
	"github.com/qshelter/payment-ledger/internal/model"
	"github.com/qshelter/payment-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ScheduleService persists generated installment schedules.
type ScheduleService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

// NewScheduleService returns ScheduleService.
func NewScheduleService(r repo.RepositoryInterface, logger *zap.SugaredLogger) *ScheduleService {
	return &ScheduleService{repo: r, log: logger}
}

// ActivatePhaseRequest carries an activated payment phase. ScheduleID is
// also the obligation group id.
type ActivatePhaseRequest struct {
	ScheduleID       string
	OwnerID          string
	TenantID         string
	ScopeID          string
	TotalAmount      decimal.Decimal
	InterestRate     decimal.Decimal
	InstallmentCount int
	StartDate        time.Time
	Frequency        amortization.Frequency
	IntervalDays     int
	GracePeriodDays  int
}

// ActivatePhaseResult reports the group and, when Created, the new rows.
type ActivatePhaseResult struct {
	Group        *model.ObligationGroup
	Installments []model.Installment
	Created      bool
}

// ActivatePhase generates the schedule for req.ScheduleID unless one already
// exists. Repeated calls for the same schedule are no-ops.
func (s *ScheduleService) ActivatePhase(ctx context.Context, req ActivatePhaseRequest) (*ActivatePhaseResult, error) {
	if req.ScheduleID == "" || req.OwnerID == "" || req.TenantID == "" {
		return nil, fmt.Errorf("%w: schedule, owner and tenant are required", model.ErrValidation)
	}
	count := req.InstallmentCount
	if count == 0 {
		count = 1
	}
	plan := amortization.Plan{
		Principal:         req.TotalAmount,
		AnnualRatePercent: req.InterestRate,
		InstallmentCount:  count,
		StartDate:         req.StartDate,
		Frequency:         req.Frequency,
		IntervalDays:      req.IntervalDays,
		GracePeriodDays:   req.GracePeriodDays,
	}
	generated, err := amortization.Generate(plan)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}

	res := &ActivatePhaseResult{}
	err = s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.repo.CreateGroupIfAbsent(ctx, tx, &model.ObligationGroup{
			ID: req.ScheduleID, OwnerID: req.OwnerID, TenantID: req.TenantID, ScopeID: req.ScopeID,
			TotalAmount: req.TotalAmount, PaidAmount: decimal.Zero, RemainingAmount: req.TotalAmount,
			Status: model.GroupActive,
		}); err != nil {
			return err
		}
		// the group lock serialises concurrent activations of one schedule
		group, err := s.repo.GetGroupForUpdate(ctx, tx, req.ScheduleID)
		if err != nil {
			return err
		}
		res.Group = group
		existing, err := s.repo.CountInstallments(ctx, tx, req.ScheduleID)
		if err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}

		rows := make([]model.Installment, 0, len(generated))
		for _, g := range generated {
			rows = append(rows, model.Installment{
				ID:              uuid.NewString(),
				ScheduleID:      req.ScheduleID,
				Number:          g.Number,
				Amount:          g.Amount,
				PrincipalAmount: g.PrincipalAmount,
				InterestAmount:  g.InterestAmount,
				DueDate:         g.DueDate,
				GracePeriodEnd:  g.GracePeriodEnd,
				PaidAmount:      decimal.Zero,
				Status:          model.InstallmentPending,
			})
		}
		if err := s.repo.CreateInstallments(ctx, tx, rows); err != nil {
			return err
		}
		group.TotalAmount = amortization.Total(generated)
		group.RemainingAmount = group.TotalAmount.Sub(group.PaidAmount)
		if err := s.repo.SaveGroup(ctx, tx, group); err != nil {
			return err
		}

		evt, err := repo.NewOutboxEvent(model.EventInstallmentsGenerated, model.AggregateSchedule, req.ScheduleID, req.TenantID, req.OwnerID, map[string]interface{}{
			"scheduleId":       req.ScheduleID,
			"userId":           req.OwnerID,
			"installmentCount": len(rows),
			"totalAmount":      group.TotalAmount,
			"firstDueDate":     rows[0].DueDate,
			"lastDueDate":      rows[len(rows)-1].DueDate,
		})
		if err != nil {
			return err
		}
		if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
			return err
		}
		if err := refreshNextDueDate(ctx, s.repo, tx, req.OwnerID, req.TenantID); err != nil {
			return err
		}
		res.Installments = rows
		res.Created = true
		return nil
	})
	if err != nil {
		return nil, model.Upstream("activate phase", err)
	}
	if res.Created {
		s.log.Infow("installments generated",
			"schedule_id", req.ScheduleID, "owner_id", req.OwnerID, "count", len(res.Installments), "total", res.Group.TotalAmount)
	} else {
		s.log.Infow("schedule already generated, skipping", "schedule_id", req.ScheduleID)
	}
	return res, nil
}
