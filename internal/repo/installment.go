package repo

import (
	"context"
	"errors"

	"github.com/qshelter/payment-ledger/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetGroupForUpdate locks an obligation group row.
func (r *Repository) GetGroupForUpdate(ctx context.Context, tx *gorm.DB, groupID string) (*model.ObligationGroup, error) {
	var g model.ObligationGroup
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", groupID).First(&g).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrScheduleNotFound
		}
		return nil, err
	}
	return &g, nil
}

// CreateGroupIfAbsent inserts g unless a group with the same id exists.
func (r *Repository) CreateGroupIfAbsent(ctx context.Context, tx *gorm.DB, g *model.ObligationGroup) error {
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(g).Error
}

// SaveGroup writes every column of g.
func (r *Repository) SaveGroup(ctx context.Context, tx *gorm.DB, g *model.ObligationGroup) error {
	return tx.WithContext(ctx).Save(g).Error
}

// CountActiveGroups counts the owner's groups still accepting payments,
// optionally restricted to one scope.
func (r *Repository) CountActiveGroups(ctx context.Context, tx *gorm.DB, ownerID, scopeID string) (int64, error) {
	q := tx.WithContext(ctx).Model(&model.ObligationGroup{}).
		Where("owner_id = ? AND status = ?", ownerID, model.GroupActive)
	if scopeID != "" {
		q = q.Where("scope_id = ?", scopeID)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// GetInstallmentForUpdate locks an installment row.
func (r *Repository) GetInstallmentForUpdate(ctx context.Context, tx *gorm.DB, installmentID string) (*model.Installment, error) {
	var inst model.Installment
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", installmentID).First(&inst).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrInstallmentNotFound
		}
		return nil, err
	}
	return &inst, nil
}

// SaveInstallment writes every column of inst.
func (r *Repository) SaveInstallment(ctx context.Context, tx *gorm.DB, inst *model.Installment) error {
	return tx.WithContext(ctx).Save(inst).Error
}

// CreateInstallments inserts a generated schedule in one statement.
func (r *Repository) CreateInstallments(ctx context.Context, tx *gorm.DB, insts []model.Installment) error {
	if len(insts) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&insts).Error
}

// CountInstallments reports how many installments exist for a schedule.
func (r *Repository) CountInstallments(ctx context.Context, tx *gorm.DB, scheduleID string) (int64, error) {
	var n int64
	err := tx.WithContext(ctx).Model(&model.Installment{}).
		Where("schedule_id = ?", scheduleID).
		Count(&n).Error
	return n, err
}

func payableForOwner(tx *gorm.DB, ownerID string) *gorm.DB {
	return tx.Model(&model.Installment{}).
		Select("installment.*").
		Joins("JOIN obligation_group ON obligation_group.id = installment.schedule_id").
		Where("obligation_group.owner_id = ? AND obligation_group.status = ?", ownerID, model.GroupActive).
		Where("installment.status IN ?", model.PayableInstallmentStatuses)
}

// ListPayableInstallments returns the owner's unpaid installments across
// active groups, by due date.
func (r *Repository) ListPayableInstallments(ctx context.Context, tx *gorm.DB, ownerID, scopeID string) ([]model.Installment, error) {
	q := payableForOwner(tx.WithContext(ctx), ownerID)
	if scopeID != "" {
		q = q.Where("obligation_group.scope_id = ?", scopeID)
	}
	var insts []model.Installment
	err := q.Order("installment.due_date asc").Order("installment.number asc").Find(&insts).Error
	return insts, err
}

// NextDueInstallment returns the owner's earliest unpaid installment, or nil.
func (r *Repository) NextDueInstallment(ctx context.Context, tx *gorm.DB, ownerID string) (*model.Installment, error) {
	var insts []model.Installment
	err := payableForOwner(tx.WithContext(ctx), ownerID).
		Order("installment.due_date asc").
		Limit(1).
		Find(&insts).Error
	if err != nil || len(insts) == 0 {
		return nil, err
	}
	return &insts[0], nil
}

// UpsertPaymentProfile creates or refreshes the owner's profile row.
func (r *Repository) UpsertPaymentProfile(ctx context.Context, tx *gorm.DB, p *model.PaymentProfile) error {
	p.UpdatedAt = now()
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "next_payment_due_date", "updated_at"}),
		}).
		Create(p).Error
}
