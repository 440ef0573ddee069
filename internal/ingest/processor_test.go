package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/qshelter/payment-ledger/internal/logger"
	"github.com/qshelter/payment-ledger/internal/model"
	"github.com/qshelter/payment-ledger/internal/repo"
	"github.com/qshelter/payment-ledger/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type stubAllocator struct {
	allocs   []service.AllocateRequest
	payments []service.PayInstallmentRequest
	failFor  string
}

func (s *stubAllocator) AutoAllocate(_ context.Context, req service.AllocateRequest) (*service.AllocationResult, error) {
	s.allocs = append(s.allocs, req)
	if req.WalletID == s.failFor {
		return nil, errors.New("store unavailable")
	}
	return &service.AllocationResult{TotalAllocated: decimal.Zero, RemainingBalance: decimal.Zero}, nil
}

func (s *stubAllocator) PayInstallment(_ context.Context, req service.PayInstallmentRequest) (*service.PaymentResult, error) {
	s.payments = append(s.payments, req)
	if req.InstallmentID == s.failFor {
		return nil, model.ErrInsufficientBalance
	}
	return &service.PaymentResult{Applied: req.Amount}, nil
}

type stubPhases struct {
	reqs []service.ActivatePhaseRequest
}

func (s *stubPhases) ActivatePhase(_ context.Context, req service.ActivatePhaseRequest) (*service.ActivatePhaseResult, error) {
	s.reqs = append(s.reqs, req)
	return &service.ActivatePhaseResult{Created: true}, nil
}

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	l, err := logger.NewLogger("error")
	require.NoError(t, err)
	return l
}

func body(t *testing.T, eventType string, payload interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"type":    eventType,
		"payload": payload,
		"meta":    map[string]string{"correlationId": "corr-1", "source": "test"},
	})
	require.NoError(t, err)
	return b
}

func TestProcessBatch_OnlyFailingMessageIsRetried(t *testing.T) {
	alloc := &stubAllocator{failFor: "w-bad"}
	p := NewProcessor(alloc, &stubPhases{}, testLogger(t))

	msgs := []Message{
		{ID: "m1", Body: body(t, TypeAllocateToInstallments, map[string]string{"userId": "u1", "walletId": "w1"})},
		{ID: "m2", Body: body(t, TypeAllocateToInstallments, map[string]string{"userId": "u2", "walletId": "w-bad"})},
		{ID: "m3", Body: body(t, TypeAllocateToInstallments, map[string]string{"userId": "u3", "walletId": "w3"})},
	}
	res := p.ProcessBatch(context.Background(), msgs)

	assert.Equal(t, []string{"m2"}, res.Failed)
	assert.Equal(t, 2, res.Processed)
	assert.Len(t, alloc.allocs, 3, "later messages still run after a failure")
}

func TestProcessBatch_DropsMalformed(t *testing.T) {
	alloc := &stubAllocator{}
	p := NewProcessor(alloc, &stubPhases{}, testLogger(t))

	msgs := []Message{
		{ID: "junk", Body: []byte("{not json")},
		{ID: "no-type", Body: []byte(`{"payload":{}}`)},
		{ID: "missing-field", Body: body(t, TypeProcessInstallmentPayment, map[string]string{"installmentId": "i1", "amount": "10"})},
		{ID: "bad-amount", Body: body(t, TypeProcessInstallmentPayment, map[string]string{
			"installmentId": "i1", "amount": "0", "walletId": "w1", "userId": "u1", "reference": "r",
		})},
		{ID: "ok", Body: body(t, TypeProcessInstallmentPayment, map[string]string{
			"installmentId": "i1", "amount": "10.50", "walletId": "w1", "userId": "u1", "reference": "r",
		})},
	}
	res := p.ProcessBatch(context.Background(), msgs)

	assert.Empty(t, res.Failed)
	assert.Equal(t, 4, res.Dropped)
	assert.Equal(t, 1, res.Processed)
	require.Len(t, alloc.payments, 1)
	assert.Equal(t, "10.50", alloc.payments[0].Amount.StringFixed(2))
	assert.Equal(t, "u1", alloc.payments[0].OwnerID)
}

func TestProcessBatch_UnknownTypeCountsAsProcessed(t *testing.T) {
	alloc := &stubAllocator{}
	p := NewProcessor(alloc, &stubPhases{}, testLogger(t))

	res := p.ProcessBatch(context.Background(), []Message{{ID: "m1", Body: body(t, "SomethingElse", map[string]string{})}})
	assert.Empty(t, res.Failed)
	assert.Equal(t, 1, res.Processed)
	assert.Empty(t, alloc.allocs)
}

func TestProcessMessage_UnwrapsNotification(t *testing.T) {
	alloc := &stubAllocator{}
	p := NewProcessor(alloc, &stubPhases{}, testLogger(t))

	inner := body(t, TypeWalletCredited, map[string]string{
		"userId": "u1", "walletId": "w1", "amount": "500", "currency": "NGN", "source": SourceVirtualAccount,
	})
	wrapped, err := json.Marshal(map[string]string{"Type": "Notification", "MessageId": "sns-1", "Message": string(inner)})
	require.NoError(t, err)

	require.NoError(t, p.ProcessMessage(context.Background(), Message{ID: "m1", Body: wrapped}))
	require.Len(t, alloc.allocs, 1)
	assert.Equal(t, service.AllocateRequest{OwnerID: "u1", WalletID: "w1"}, alloc.allocs[0])
}

func TestProcessMessage_WalletCreditedOnlyFromVirtualAccount(t *testing.T) {
	alloc := &stubAllocator{}
	p := NewProcessor(alloc, &stubPhases{}, testLogger(t))

	msg := Message{ID: "m1", Body: body(t, TypeWalletCredited, map[string]string{
		"userId": "u1", "walletId": "w1", "amount": "500", "source": "manual",
	})}
	require.NoError(t, p.ProcessMessage(context.Background(), msg))
	assert.Empty(t, alloc.allocs)
}

func TestProcessMessage_AllocateCarriesScopeAndCap(t *testing.T) {
	alloc := &stubAllocator{}
	p := NewProcessor(alloc, &stubPhases{}, testLogger(t))

	msg := Message{ID: "m1", Body: body(t, TypeAllocateToInstallments, map[string]interface{}{
		"userId": "u1", "walletId": "w1", "scopeId": "c1", "maxAmount": 250.5,
	})}
	require.NoError(t, p.ProcessMessage(context.Background(), msg))
	require.Len(t, alloc.allocs, 1)
	assert.Equal(t, "c1", alloc.allocs[0].ScopeID)
	require.NotNil(t, alloc.allocs[0].MaxAmount)
	assert.Equal(t, "250.50", alloc.allocs[0].MaxAmount.StringFixed(2))
}

func TestProcessMessage_PhaseActivatedMapping(t *testing.T) {
	phases := &stubPhases{}
	p := NewProcessor(&stubAllocator{}, phases, testLogger(t))

	msg := Message{ID: "m1", Body: body(t, TypePaymentPhaseActivated, map[string]interface{}{
		"scheduleId": "s1", "totalAmount": "1000", "interestRate": 0, "startDate": "2024-01-01T00:00:00Z",
		"tenantId": "t1", "userId": "u1",
	})}
	require.NoError(t, p.ProcessMessage(context.Background(), msg))
	require.Len(t, phases.reqs, 1)
	req := phases.reqs[0]
	assert.Equal(t, "s1", req.ScheduleID)
	assert.Equal(t, "u1", req.OwnerID)
	assert.Equal(t, 0, req.InstallmentCount)
	assert.Equal(t, 2024, req.StartDate.Year())

	bad := Message{ID: "m2", Body: body(t, TypePaymentPhaseActivated, map[string]interface{}{
		"scheduleId": "s1", "totalAmount": "1000", "startDate": "2024-01-01T00:00:00Z",
		"tenantId": "t1", "userId": "u1", "frequency": "YEARLY",
	})}
	assert.ErrorIs(t, p.ProcessMessage(context.Background(), bad), ErrMalformed)
}

// newLedger wires the real services over an in-memory SQLite database.
func newLedger(t *testing.T) (*gorm.DB, *service.AllocationService, *service.ScheduleService) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(repo.Models()...))

	log := testLogger(t)
	r := repo.NewRepository(db, nil, nil, log)
	wallets := service.NewWalletService(r, log)
	return db, service.NewAllocationService(r, wallets, log), service.NewScheduleService(r, log)
}

func TestProcessBatch_PhaseActivatedTwiceCreatesScheduleOnce(t *testing.T) {
	db, alloc, schedules := newLedger(t)
	p := NewProcessor(alloc, schedules, testLogger(t))

	payload := map[string]interface{}{
		"scheduleId": "phase-9", "totalAmount": "1200", "interestRate": "10", "installmentCount": 6,
		"startDate": "2024-01-01T00:00:00Z", "tenantId": "t1", "userId": "u1",
	}
	msgs := []Message{
		{ID: "m1", Body: body(t, TypePaymentPhaseActivated, payload)},
		{ID: "m1-redelivered", Body: body(t, TypePaymentPhaseActivated, payload)},
	}
	res := p.ProcessBatch(context.Background(), msgs)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 2, res.Processed)

	var n int64
	require.NoError(t, db.Model(&model.Installment{}).Where("schedule_id = ?", "phase-9").Count(&n).Error)
	assert.Equal(t, int64(6), n)
}

func TestProcessBatch_CreditThenAllocateEndToEnd(t *testing.T) {
	db, alloc, schedules := newLedger(t)
	p := NewProcessor(alloc, schedules, testLogger(t))
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Wallet{ID: "w1", OwnerID: "u1", TenantID: "t1", Balance: decimal.NewFromInt(300), IsActive: true}).Error)
	phase := body(t, TypePaymentPhaseActivated, map[string]interface{}{
		"scheduleId": "phase-1", "totalAmount": "400", "interestRate": "0", "installmentCount": 4,
		"startDate": "2024-01-01T00:00:00Z", "tenantId": "t1", "userId": "u1",
	})
	credited := body(t, TypeWalletCredited, map[string]interface{}{
		"userId": "u1", "walletId": "w1", "amount": "300", "currency": "NGN", "newBalance": "300",
		"reference": "va-1", "source": SourceVirtualAccount,
	})

	res := p.ProcessBatch(ctx, []Message{{ID: "a", Body: phase}, {ID: "b", Body: credited}, {ID: "c", Body: credited}})
	assert.Empty(t, res.Failed)

	var w model.Wallet
	require.NoError(t, db.First(&w, "id = ?", "w1").Error)
	assert.True(t, w.Balance.IsZero())

	var paid int64
	require.NoError(t, db.Model(&model.Installment{}).Where("status = ?", model.InstallmentPaid).Count(&paid).Error)
	assert.Equal(t, int64(3), paid)
}
