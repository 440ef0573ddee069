package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/qshelter/payment-ledger/internal/model"
	"github.com/qshelter/payment-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AllocationService applies wallet funds to outstanding installments.
type AllocationService struct {
	repo    repo.RepositoryInterface
	wallets *WalletService
	log     *zap.SugaredLogger
	now     func() time.Time
}

// NewAllocationService returns AllocationService.
func NewAllocationService(r repo.RepositoryInterface, wallets *WalletService, logger *zap.SugaredLogger) *AllocationService {
	return &AllocationService{repo: r, wallets: wallets, log: logger, now: func() time.Time { return time.Now().UTC() }}
}

// AllocateRequest selects the wallet to draw from and, optionally, the
// scope and cap of the allocation.
type AllocateRequest struct {
	OwnerID   string
	WalletID  string
	ScopeID   string
	MaxAmount *decimal.Decimal
}

// InstallmentOutcome reports what happened to one candidate.
type InstallmentOutcome struct {
	InstallmentID string                  `json:"installmentId"`
	Applied       decimal.Decimal         `json:"applied"`
	Status        model.InstallmentStatus `json:"status,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

// AllocationResult summarises an AutoAllocate run.
type AllocationResult struct {
	TotalAllocated   decimal.Decimal      `json:"totalAllocated"`
	Outcomes         []InstallmentOutcome `json:"outcomes"`
	RemainingBalance decimal.Decimal      `json:"remainingBalance"`
}

// PayInstallmentRequest pays one installment from a wallet.
type PayInstallmentRequest struct {
	InstallmentID string
	Amount        decimal.Decimal
	WalletID      string
	OwnerID       string
	Reference     string
}

// PaymentResult is the state after a payment. Applied may be lower than the
// requested amount when less was owed. Replayed is set when Reference had
// already been paid and nothing changed.
type PaymentResult struct {
	Installment *model.Installment     `json:"installment"`
	Group       *model.ObligationGroup `json:"group"`
	Transaction *model.Transaction     `json:"transaction"`
	Applied     decimal.Decimal        `json:"applied"`
	Replayed    bool                   `json:"replayed"`
	Wallet      *model.Wallet          `json:"-"`
}

// AutoAllocate pays the owner's outstanding installments from the wallet,
// overdue first and then by due date, until funds run out. A failing
// installment is logged and skipped; it never aborts the run.
func (s *AllocationService) AutoAllocate(ctx context.Context, req AllocateRequest) (*AllocationResult, error) {
	if req.OwnerID == "" || req.WalletID == "" {
		return nil, fmt.Errorf("%w: owner and wallet are required", model.ErrValidation)
	}
	if req.MaxAmount != nil && !req.MaxAmount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}
	w, err := s.wallets.GetWallet(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}
	if w.OwnerID != req.OwnerID {
		return nil, model.ErrWalletNotFound
	}

	res := &AllocationResult{TotalAllocated: decimal.Zero, Outcomes: []InstallmentOutcome{}, RemainingBalance: w.Balance}
	if !w.Balance.IsPositive() {
		return res, nil
	}
	db := s.repo.DB(ctx)
	groups, err := s.repo.CountActiveGroups(ctx, db, req.OwnerID, req.ScopeID)
	if err != nil {
		return nil, model.Upstream("count groups", err)
	}
	if groups == 0 {
		return res, nil
	}
	candidates, err := s.repo.ListPayableInstallments(ctx, db, req.OwnerID, req.ScopeID)
	if err != nil {
		return nil, model.Upstream("list installments", err)
	}
	if len(candidates) == 0 {
		return res, nil
	}
	sortByPriority(candidates)

	available := w.Balance
	if req.MaxAmount != nil && req.MaxAmount.LessThan(available) {
		available = *req.MaxAmount
	}

	for _, inst := range candidates {
		if !available.IsPositive() {
			break
		}
		owed := inst.Owed()
		if !owed.IsPositive() {
			continue
		}
		pay := decimal.Min(available, owed)
		paid, err := s.PayInstallment(ctx, PayInstallmentRequest{
			InstallmentID: inst.ID,
			Amount:        pay,
			WalletID:      req.WalletID,
			OwnerID:       req.OwnerID,
			Reference:     allocationReference(inst),
		})
		if err != nil {
			s.log.Warnw("allocation skipped installment",
				"installment_id", inst.ID, "wallet_id", req.WalletID, "amount", pay, "error", err)
			res.Outcomes = append(res.Outcomes, InstallmentOutcome{InstallmentID: inst.ID, Applied: decimal.Zero, Error: err.Error()})
			continue
		}
		applied := paid.Applied
		if paid.Replayed {
			applied = decimal.Zero
		}
		available = available.Sub(applied)
		res.TotalAllocated = res.TotalAllocated.Add(applied)
		res.Outcomes = append(res.Outcomes, InstallmentOutcome{
			InstallmentID: inst.ID, Applied: applied, Status: paid.Installment.Status,
		})
	}

	fresh, err := s.wallets.GetWallet(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}
	res.RemainingBalance = fresh.Balance
	s.log.Infow("auto allocation finished",
		"owner_id", req.OwnerID, "wallet_id", req.WalletID,
		"allocated", res.TotalAllocated, "remaining", res.RemainingBalance, "candidates", len(candidates))
	return res, nil
}

// allocationReference is derived from the installment's paid state so that a
// redelivered allocation of the same state replays instead of paying twice.
func allocationReference(inst model.Installment) string {
	return fmt.Sprintf("alloc:%s:%s", inst.ID, inst.PaidAmount.StringFixed(2))
}

// sortByPriority orders overdue installments first, then by due date and
// installment number.
func sortByPriority(insts []model.Installment) {
	sort.SliceStable(insts, func(i, j int) bool {
		oi, oj := insts[i].Status == model.InstallmentOverdue, insts[j].Status == model.InstallmentOverdue
		if oi != oj {
			return oi
		}
		if !insts[i].DueDate.Equal(insts[j].DueDate) {
			return insts[i].DueDate.Before(insts[j].DueDate)
		}
		return insts[i].Number < insts[j].Number
	})
}

func (r PayInstallmentRequest) validate() error {
	if !r.Amount.IsPositive() {
		return model.ErrInvalidAmount
	}
	if r.InstallmentID == "" || r.WalletID == "" || r.Reference == "" {
		return fmt.Errorf("%w: installment, wallet and reference are required", model.ErrValidation)
	}
	return nil
}

// PayInstallment debits the wallet and records the payment against the
// installment and its group in one database transaction, so a debit never
// commits without the matching installment progress.
func (s *AllocationService) PayInstallment(ctx context.Context, req PayInstallmentRequest) (*PaymentResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	var res *PaymentResult
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		var err error
		res, err = s.payInTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, model.Upstream("pay installment", err)
	}
	if !res.Replayed {
		s.wallets.SnapshotBalance(ctx, res.Wallet)
		s.log.Infow("installment paid",
			"installment_id", res.Installment.ID, "wallet_id", req.WalletID,
			"applied", res.Applied, "status", res.Installment.Status, "group_status", res.Group.Status)
	}
	return res, nil
}

func (s *AllocationService) payInTx(ctx context.Context, tx *gorm.DB, req PayInstallmentRequest) (*PaymentResult, error) {
	inst, err := s.repo.GetInstallmentForUpdate(ctx, tx, req.InstallmentID)
	if err != nil {
		return nil, err
	}
	group, err := s.repo.GetGroupForUpdate(ctx, tx, inst.ScheduleID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != "" && group.OwnerID != req.OwnerID {
		return nil, model.ErrInstallmentNotFound
	}

	// the debit and the installment update commit together, so a known
	// debit reference means this payment was already recorded
	prior, err := s.repo.FindTransaction(ctx, tx, req.WalletID, model.DirectionDebit, req.Reference)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		if prior.Description != paymentDescription(inst) {
			return nil, fmt.Errorf("%w: reference %q already paid another installment", model.ErrValidation, req.Reference)
		}
		return &PaymentResult{Installment: inst, Group: group, Transaction: prior, Applied: prior.Amount, Replayed: true}, nil
	}

	owed := inst.Owed()
	if !inst.Status.Payable() || !owed.IsPositive() {
		return nil, model.ErrInstallmentSettled
	}
	apply := decimal.Min(req.Amount.Round(2), owed)

	led, err := s.wallets.DebitTx(ctx, tx, EntryRequest{
		WalletID:    req.WalletID,
		Amount:      apply,
		Reference:   req.Reference,
		Description: paymentDescription(inst),
		ActorID:     group.OwnerID,
	})
	if err != nil {
		return nil, err
	}
	if led.Wallet.OwnerID != group.OwnerID {
		return nil, model.ErrWalletNotFound
	}

	at := s.now()
	inst.PaidAmount = inst.PaidAmount.Add(apply)
	if inst.PaidAmount.GreaterThanOrEqual(inst.Amount) {
		inst.Status = model.InstallmentPaid
		inst.PaidAt = &at
	} else {
		inst.Status = model.InstallmentPartiallyPaid
	}
	if err := s.repo.SaveInstallment(ctx, tx, inst); err != nil {
		return nil, err
	}
	group.ApplyPayment(apply, at)
	if err := s.repo.SaveGroup(ctx, tx, group); err != nil {
		return nil, err
	}
	if err := refreshNextDueDate(ctx, s.repo, tx, group.OwnerID, group.TenantID); err != nil {
		return nil, err
	}

	evt, err := repo.NewOutboxEvent(model.EventPaymentCompleted, model.AggregateInstallment, inst.ID, group.TenantID, group.OwnerID, map[string]interface{}{
		"installmentId":     inst.ID,
		"scheduleId":        group.ID,
		"walletId":          req.WalletID,
		"userId":            group.OwnerID,
		"transactionId":     led.Transaction.ID,
		"amount":            apply,
		"paidAmount":        inst.PaidAmount,
		"installmentStatus": inst.Status,
		"groupStatus":       group.Status,
		"remainingAmount":   group.RemainingAmount,
		"reference":         req.Reference,
	})
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
		return nil, err
	}
	return &PaymentResult{Installment: inst, Group: group, Transaction: led.Transaction, Applied: apply, Wallet: led.Wallet}, nil
}

// paymentDescription ties a debit to its installment; a replayed reference
// must carry the same one.
func paymentDescription(inst *model.Installment) string {
	return fmt.Sprintf("Installment %d payment [%s]", inst.Number, inst.ID)
}

// refreshNextDueDate stores the owner's earliest unpaid due date, or clears
// it when nothing is outstanding.
func refreshNextDueDate(ctx context.Context, r repo.RepositoryInterface, tx *gorm.DB, ownerID, tenantID string) error {
	next, err := r.NextDueInstallment(ctx, tx, ownerID)
	if err != nil {
		return err
	}
	p := &model.PaymentProfile{OwnerID: ownerID, TenantID: tenantID}
	if next != nil {
		due := next.DueDate
		p.NextPaymentDueDate = &due
	}
	return r.UpsertPaymentProfile(ctx, tx, p)
}
