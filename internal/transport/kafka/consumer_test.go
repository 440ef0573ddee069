package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/qshelter/payment-ledger/internal/ingest"
	"github.com/qshelter/payment-ledger/internal/logger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) == 0 {
		f.mu.Unlock()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.queue[0]
	f.queue = f.queue[1:]
	f.mu.Unlock()
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) committedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

func (f *fakeReader) committedOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, 0, len(f.committed))
	for _, m := range f.committed {
		out = append(out, m.Offset)
	}
	return out
}

type fakeWriter struct {
	mu      sync.Mutex
	written []kafka.Message
	calls   int
	// failFirst makes the first N writes fail; negative fails every write
	failFirst int
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFirst < 0 || f.calls <= f.failFirst {
		return errors.New("broker down")
	}
	f.written = append(f.written, msgs...)
	return nil
}

func (f *fakeWriter) snapshot() ([]kafka.Message, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message(nil), f.written...), f.calls
}

type failingProcessor struct {
	mu   sync.Mutex
	fail map[string]bool
	seen [][]ingest.Message
}

func (p *failingProcessor) batches() [][]ingest.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen
}

func (p *failingProcessor) ProcessBatch(_ context.Context, msgs []ingest.Message) ingest.BatchResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, msgs)
	res := ingest.BatchResult{Failed: []string{}}
	for _, m := range msgs {
		if p.fail[string(m.Body)] {
			res.Failed = append(res.Failed, m.ID)
			continue
		}
		res.Processed++
	}
	return res
}

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	l, err := logger.NewLogger("error")
	require.NoError(t, err)
	return l
}

func msg(offset int64, body string, headers ...kafka.Header) kafka.Message {
	return kafka.Message{Topic: "inbound", Partition: 0, Offset: offset, Key: []byte("k"), Value: []byte(body), Headers: headers}
}

func testConfig() ConsumerConfig {
	return ConsumerConfig{BatchSize: 10, BatchWait: 20 * time.Millisecond, MaxAttempts: 3, RetryTopic: "inbound.retry", DeadLetterTopic: "inbound.dlq", RetryBackoff: time.Millisecond}
}

func TestHandle_RequeuesOnlyFailedAndCommitsAll(t *testing.T) {
	r := &fakeReader{}
	w := &fakeWriter{}
	p := &failingProcessor{fail: map[string]bool{"two": true}}
	c := NewConsumer(r, w, p, testConfig(), testLogger(t))

	batch := []kafka.Message{msg(1, "one"), msg(2, "two"), msg(3, "three")}
	require.NoError(t, c.handle(context.Background(), batch))

	require.Len(t, w.written, 1)
	assert.Equal(t, "inbound.retry", w.written[0].Topic)
	assert.Equal(t, []byte("two"), w.written[0].Value)
	assert.Equal(t, 1, attemptOf(w.written[0]))
	assert.Len(t, r.committed, 3)
}

func TestHandle_WriteFailureSkipsCommit(t *testing.T) {
	r := &fakeReader{}
	w := &fakeWriter{failFirst: -1}
	p := &failingProcessor{fail: map[string]bool{"one": true}}
	c := NewConsumer(r, w, p, testConfig(), testLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.handle(ctx, []kafka.Message{msg(1, "one")})
	require.Error(t, err)
	assert.Empty(t, r.committedOffsets())
	_, calls := w.snapshot()
	assert.Greater(t, calls, 1, "the requeue write is retried")
}

func TestRun_RequeueFailureDoesNotLoseMessage(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{msg(1, "bad"), msg(2, "ok")}}
	w := &fakeWriter{failFirst: 1}
	p := &failingProcessor{fail: map[string]bool{"bad": true}}
	cfg := testConfig()
	cfg.BatchSize = 1
	c := NewConsumer(r, w, p, cfg, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return r.committedCount() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	written, calls := w.snapshot()
	require.Len(t, written, 1)
	assert.Equal(t, []byte("bad"), written[0].Value)
	assert.Equal(t, "inbound.retry", written[0].Topic)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int64{1, 2}, r.committedOffsets(), "offset 2 is only committed after offset 1 was settled")
}

func TestRun_StopsWhileRequeueKeepsFailing(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{msg(1, "bad"), msg(2, "ok")}}
	w := &fakeWriter{failFirst: -1}
	p := &failingProcessor{fail: map[string]bool{"bad": true}}
	cfg := testConfig()
	cfg.BatchSize = 1
	c := NewConsumer(r, w, p, cfg, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { _, calls := w.snapshot(); return calls >= 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, r.committedOffsets())
	assert.Len(t, p.batches(), 1, "the next batch is never fetched")
}

func TestRedirect_DeadLettersAfterMaxAttempts(t *testing.T) {
	c := NewConsumer(&fakeReader{}, &fakeWriter{}, &failingProcessor{}, testConfig(), testLogger(t))

	first := c.redirect(msg(1, "x", kafka.Header{Key: "event-type", Value: []byte("t")}))
	assert.Equal(t, "inbound.retry", first.Topic)
	assert.Equal(t, 1, attemptOf(first))
	assert.Len(t, first.Headers, 2, "other headers survive")

	second := c.redirect(first)
	assert.Equal(t, "inbound.retry", second.Topic)
	assert.Equal(t, 2, attemptOf(second))

	third := c.redirect(second)
	assert.Equal(t, "inbound.dlq", third.Topic)
	assert.Equal(t, 3, attemptOf(third))
	assert.Len(t, third.Headers, 2, "attempt header is replaced, not appended")
}

func TestAttemptOf_IgnoresGarbage(t *testing.T) {
	assert.Equal(t, 0, attemptOf(msg(1, "x")))
	assert.Equal(t, 0, attemptOf(msg(1, "x", kafka.Header{Key: attemptHeader, Value: []byte("nope")})))
	assert.Equal(t, 4, attemptOf(msg(1, "x", kafka.Header{Key: attemptHeader, Value: []byte("4")})))
}

func TestMessageID_UniquePerOffset(t *testing.T) {
	assert.Equal(t, "inbound/0/7", messageID(msg(7, "x")))
	assert.NotEqual(t, messageID(msg(7, "x")), messageID(msg(8, "x")))
}

func TestFetchBatch_StopsAtBatchSize(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{msg(1, "a"), msg(2, "b"), msg(3, "c")}}
	cfg := testConfig()
	cfg.BatchSize = 2
	c := NewConsumer(r, &fakeWriter{}, &failingProcessor{}, cfg, testLogger(t))

	batch, err := c.fetchBatch(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	batch, err = c.fetchBatch(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch, 1, "a short batch is returned once BatchWait passes")
}

func TestRun_StopsOnCancel(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{msg(1, "a"), msg(2, "b")}}
	p := &failingProcessor{}
	c := NewConsumer(r, &fakeWriter{}, p, testConfig(), testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return r.committedCount() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
