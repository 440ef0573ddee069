package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/qshelter/payment-ledger/internal/config"
	"github.com/qshelter/payment-ledger/internal/ingest"
	"github.com/qshelter/payment-ledger/internal/logger"
	"github.com/qshelter/payment-ledger/internal/repo"
	"github.com/qshelter/payment-ledger/internal/service"
	kafkatransport "github.com/qshelter/payment-ledger/internal/transport/kafka"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(repo.Models()...); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// outbound events go through the outbox; this writer only requeues
	// inbound messages, so each message carries its own topic
	requeue := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Balancer: &kafka.Hash{},
	}
	defer requeue.Close()

	repository := repo.NewRepository(gdb, rdb, nil, log)
	wallets := service.NewWalletService(repository, log)
	alloc := service.NewAllocationService(repository, wallets, log)
	schedules := service.NewScheduleService(repository, log)
	proc := ingest.NewProcessor(alloc, schedules, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ccfg := kafkatransport.ConsumerConfig{
		BatchSize:       cfg.Kafka.BatchSize,
		BatchWait:       cfg.Kafka.BatchWait,
		MaxAttempts:     cfg.Kafka.MaxAttempts,
		RetryTopic:      cfg.Kafka.RetryTopic,
		DeadLetterTopic: cfg.Kafka.DeadLetterTopic,
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Kafka.Workers; i++ {
		worker := i
		g.Go(func() error {
			reader := kafkatransport.NewReader(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.InboundTopic, cfg.Kafka.RetryTopic)
			defer reader.Close()
			log.Infow("consumer worker started", "worker", worker, "topics", []string{cfg.Kafka.InboundTopic, cfg.Kafka.RetryTopic})
			return kafkatransport.NewConsumer(reader, requeue, proc, ccfg, log).Run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("consumer: %v", err)
	}
	log.Info("consumer stopped")
}
