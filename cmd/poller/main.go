package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/qshelter/payment-ledger/internal/config"
	"github.com/qshelter/payment-ledger/internal/logger"
	"github.com/qshelter/payment-ledger/internal/repo"
	kafkatransport "github.com/qshelter/payment-ledger/internal/transport/kafka"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/segmentio/kafka-go"
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

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	kw := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	defer kw.Close()

	// the relay never touches balances, so no redis client
	repository := repo.NewRepository(gdb, nil, kw, log)
	relay := kafkatransport.NewRelay(repository, cfg.Outbox.BatchSize, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infow("outbox relay started", "topic", cfg.Kafka.Topic, "interval", cfg.Outbox.PollInterval)
	relay.Run(ctx, cfg.Outbox.PollInterval)
	log.Info("outbox relay stopped")
}
