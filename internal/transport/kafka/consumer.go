package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/qshelter/payment-ledger/internal/ingest"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// attemptHeader counts how many times a message has been handled and failed.
const attemptHeader = "x-attempt"

// BatchProcessor handles one batch and reports which messages failed.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, msgs []ingest.Message) ingest.BatchResult
}

// Fetcher is the subset of *kafka.Reader the consumer uses.
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher is the subset of *kafka.Writer used for retries and dead letters.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ConsumerConfig bounds batches and redelivery.
type ConsumerConfig struct {
	BatchSize       int
	BatchWait       time.Duration
	MaxAttempts     int
	RetryTopic      string
	DeadLetterTopic string
	// RetryBackoff is the first wait before writing a requeue or commit
	// again; it doubles up to maxBackoff.
	RetryBackoff time.Duration
}

const maxBackoff = 30 * time.Second

// Consumer pulls batches from the inbound topics, hands them to the processor
// and requeues only the messages the processor reported as failed.
type Consumer struct {
	reader Fetcher
	writer Publisher
	proc   BatchProcessor
	cfg    ConsumerConfig
	log    *zap.SugaredLogger
}

// NewConsumer returns Consumer.
func NewConsumer(reader Fetcher, writer Publisher, proc BatchProcessor, cfg ConsumerConfig, logger *zap.SugaredLogger) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	return &Consumer{reader: reader, writer: writer, proc: proc, cfg: cfg, log: logger}
}

// NewReader builds a group reader over the inbound and retry topics.
func NewReader(brokers []string, groupID string, topics ...string) *kafka.Reader {
	group := make([]string, 0, len(topics))
	for _, t := range topics {
		if t != "" {
			group = append(group, t)
		}
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: group,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
}

// Run consumes until ctx is cancelled. A batch is settled (failed messages
// requeued, offsets committed) before the next one is fetched, since a later
// commit would also cover its offsets.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		batch, err := c.fetchBatch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
		if err := c.handle(ctx, batch); err != nil {
			if ctx.Err() != nil {
				// uncommitted; the group redelivers the batch
				return nil
			}
			return err
		}
	}
}

// fetchBatch blocks for the first message, then collects more until the
// batch is full or BatchWait has passed.
func (c *Consumer) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{first}
	if c.cfg.BatchSize == 1 || c.cfg.BatchWait <= 0 {
		return batch, nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.BatchWait)
	defer cancel()
	for len(batch) < c.cfg.BatchSize {
		m, err := c.reader.FetchMessage(waitCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || waitCtx.Err() != nil {
				break
			}
			return nil, err
		}
		batch = append(batch, m)
	}
	return batch, nil
}

func (c *Consumer) handle(ctx context.Context, batch []kafka.Message) error {
	msgs := make([]ingest.Message, len(batch))
	byID := make(map[string]kafka.Message, len(batch))
	for i, m := range batch {
		id := messageID(m)
		msgs[i] = ingest.Message{ID: id, Body: m.Value}
		byID[id] = m
	}

	res := c.proc.ProcessBatch(ctx, msgs)
	if len(res.Failed) > 0 {
		requeue := make([]kafka.Message, 0, len(res.Failed))
		for _, id := range res.Failed {
			m, ok := byID[id]
			if !ok {
				continue
			}
			out := c.redirect(m)
			c.log.Warnw("requeueing failed message", "message_id", id, "topic", out.Topic, "attempt", attemptOf(out))
			requeue = append(requeue, out)
		}
		if err := c.retry(ctx, "requeue", func() error { return c.writer.WriteMessages(ctx, requeue...) }); err != nil {
			return fmt.Errorf("requeue %d messages: %w", len(requeue), err)
		}
	}
	if err := c.retry(ctx, "commit", func() error { return c.reader.CommitMessages(ctx, batch...) }); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	c.log.Infow("batch done", "size", len(batch), "processed", res.Processed, "dropped", res.Dropped, "failed", len(res.Failed))
	return nil
}

// retry runs fn until it succeeds or ctx ends, backing off between tries.
func (c *Consumer) retry(ctx context.Context, op string, fn func() error) error {
	wait := c.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		c.log.Warnw("kafka write failed, retrying", "op", op, "attempt", attempt, "backoff", wait, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}
		if wait *= 2; wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

// redirect copies m for the retry topic, or for the dead-letter topic once it
// has used up its attempts.
func (c *Consumer) redirect(m kafka.Message) kafka.Message {
	attempt := attemptOf(m) + 1
	topic := c.cfg.RetryTopic
	if attempt >= c.cfg.MaxAttempts {
		topic = c.cfg.DeadLetterTopic
	}
	headers := make([]kafka.Header, 0, len(m.Headers)+1)
	for _, h := range m.Headers {
		if h.Key != attemptHeader {
			headers = append(headers, h)
		}
	}
	headers = append(headers, kafka.Header{Key: attemptHeader, Value: []byte(strconv.Itoa(attempt))})
	return kafka.Message{Topic: topic, Key: m.Key, Value: m.Value, Headers: headers}
}

func attemptOf(m kafka.Message) int {
	for _, h := range m.Headers {
		if h.Key == attemptHeader {
			n, err := strconv.Atoi(string(h.Value))
			if err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

func messageID(m kafka.Message) string {
	return fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
}
