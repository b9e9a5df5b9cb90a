package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitycache/internal/value"
)

// fakeReader serves a fixed list of messages, then cancels the run.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	next      int
	committed []int64
	cancel    context.CancelFunc
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.msgs) {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[r.next]
	r.next++
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustMessage(t *testing.T, op Op, format Format, offset int64) kafka.Message {
	t.Helper()
	m, err := EncodeMessage(op, format)
	require.NoError(t, err)
	m.Topic = "ops"
	m.Offset = offset
	return m
}

func TestConsumer_AppliesAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := Upsert("customer", value.Obj(value.O("customerId", value.Int(7))))
	second := Remove("customer", 7)
	reader := &fakeReader{
		cancel: cancel,
		msgs: []kafka.Message{
			mustMessage(t, first, FormatJSON, 10),
			{Offset: 11, Value: []byte("{not json")},
			mustMessage(t, second, FormatMsgpack, 12),
		},
	}

	var (
		applied []Op
		sources []string
	)
	c := NewConsumer(reader, func(_ context.Context, src Source, op Op) error {
		applied = append(applied, op)
		sources = append(sources, src.String())
		return nil
	}, WithConsumerLogger(quietLogger()))

	err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []Op{first, second}, applied)
	assert.Equal(t, []string{"ops/0/10", "ops/0/12"}, sources)
	assert.Equal(t, []int64{10, 11, 12}, reader.committed)
	assert.True(t, reader.closed)
}

func TestConsumer_HandlerFailureLeavesMessageUncommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		cancel: cancel,
		msgs: []kafka.Message{
			mustMessage(t, Clear("a"), FormatJSON, 1),
			mustMessage(t, Clear("b"), FormatJSON, 2),
		},
	}

	c := NewConsumer(reader, func(_ context.Context, _ Source, op Op) error {
		if op.Cache == "a" {
			return errors.New("boom")
		}
		return nil
	}, WithConsumerLogger(quietLogger()), WithBackoff(time.Millisecond))

	require.ErrorIs(t, c.Run(ctx), context.Canceled)
	assert.Equal(t, []int64{2}, reader.committed)
}

func TestDecodeMessage_Empty(t *testing.T) {
	_, err := DecodeMessage(kafka.Message{})
	assert.Error(t, err)
}

func TestPublish(t *testing.T) {
	w := &fakeWriter{}
	ops := []Op{Clear("a"), Remove("b", 1, 2)}

	require.NoError(t, Publish(context.Background(), w, FormatMsgpack, ops...))
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "a", string(w.msgs[0].Key))
	assert.Equal(t, ContentTypeMsgpack, string(w.msgs[1].Headers[0].Value))

	back, err := DecodeMessage(w.msgs[1])
	require.NoError(t, err)
	assert.Equal(t, ops[1], back)
}

func TestPublish_Errors(t *testing.T) {
	err := Publish(context.Background(), &fakeWriter{}, FormatJSON, Op{Cache: "a"})
	assert.ErrorIs(t, err, ErrInvalidOp)

	err = Publish(context.Background(), &fakeWriter{err: errors.New("down")}, FormatJSON, Clear("a"))
	assert.ErrorContains(t, err, "down")
}

func TestKafkaConfigFromEnv(t *testing.T) {
	t.Setenv("ENTITYCACHE_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("ENTITYCACHE_KAFKA_TOPIC", "")
	t.Setenv("ENTITYCACHE_KAFKA_GROUP", "g")

	cfg := KafkaConfigFromEnv()
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
	assert.Equal(t, DefaultTopic, cfg.Topic)
	assert.Equal(t, "g", cfg.GroupID)
}
