package repo

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/qshelter/payment-ledger/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RepositoryInterface restricts Repository methods so services can be tested
// against a stub.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error

	GetWallet(ctx context.Context, tx *gorm.DB, walletID string) (*model.Wallet, error)
	GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID string) (*model.Wallet, error)
	GetWalletByOwner(ctx context.Context, tx *gorm.DB, ownerID string) (*model.Wallet, error)
	CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error
	UpdateWallet(ctx context.Context, tx *gorm.DB, walletID string, newBalance decimal.Decimal, oldVersion uint64) error
	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	FindTransaction(ctx context.Context, tx *gorm.DB, walletID string, dir model.Direction, reference string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]model.Transaction, error)

	GetGroupForUpdate(ctx context.Context, tx *gorm.DB, groupID string) (*model.ObligationGroup, error)
	CreateGroupIfAbsent(ctx context.Context, tx *gorm.DB, g *model.ObligationGroup) error
	SaveGroup(ctx context.Context, tx *gorm.DB, g *model.ObligationGroup) error
	CountActiveGroups(ctx context.Context, tx *gorm.DB, ownerID, scopeID string) (int64, error)

	GetInstallmentForUpdate(ctx context.Context, tx *gorm.DB, installmentID string) (*model.Installment, error)
	SaveInstallment(ctx context.Context, tx *gorm.DB, inst *model.Installment) error
	CreateInstallments(ctx context.Context, tx *gorm.DB, insts []model.Installment) error
	CountInstallments(ctx context.Context, tx *gorm.DB, scheduleID string) (int64, error)
	ListPayableInstallments(ctx context.Context, tx *gorm.DB, ownerID, scopeID string) ([]model.Installment, error)
	NextDueInstallment(ctx context.Context, tx *gorm.DB, ownerID string) (*model.Installment, error)
	UpsertPaymentProfile(ctx context.Context, tx *gorm.DB, p *model.PaymentProfile) error

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheBalance(ctx context.Context, walletID string, bal decimal.Decimal, version uint64) (bool, error)
	InvalidateBalance(ctx context.Context, walletID string) error
	GetCachedBalance(ctx context.Context, walletID string) (decimal.Decimal, error)
}

// Repository implements RepositoryInterface on GORM, Redis and Kafka.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo. rdb and w may be nil for processes that
// neither cache balances nor relay the outbox.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// Models lists every table owned by the service, in migration order.
func Models() []interface{} {
	return []interface{}{
		&model.Wallet{}, &model.Transaction{}, &model.ObligationGroup{},
		&model.Installment{}, &model.PaymentProfile{}, &model.OutboxEvent{},
	}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// Transaction runs fn in a single database transaction. fn's error rolls it
// back.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func now() time.Time { return time.Now().UTC() }
