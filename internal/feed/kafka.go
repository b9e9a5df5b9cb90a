package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	// ContentTypeHeader selects the codec of a message body.
	ContentTypeHeader = "content-type"
	// ContentTypeMsgpack marks msgpack bodies; anything else is read as JSON.
	ContentTypeMsgpack = "application/msgpack"
	ContentTypeJSON    = "application/json"

	DefaultBroker  = "localhost:9092"
	DefaultTopic   = "entitycache.ops"
	DefaultGroupID = "entitycache"
)

// KafkaConfig locates the op topic.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaConfigFromEnv reads ENTITYCACHE_KAFKA_BROKERS (comma separated),
// ENTITYCACHE_KAFKA_TOPIC and ENTITYCACHE_KAFKA_GROUP, falling back to
// defaults.
func KafkaConfigFromEnv() KafkaConfig {
	brokers := getEnv("ENTITYCACHE_KAFKA_BROKERS", DefaultBroker)
	var list []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			list = append(list, b)
		}
	}
	return KafkaConfig{
		Brokers: list,
		Topic:   getEnv("ENTITYCACHE_KAFKA_TOPIC", DefaultTopic),
		GroupID: getEnv("ENTITYCACHE_KAFKA_GROUP", DefaultGroupID),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Source locates a message in its topic.
type Source struct {
	Topic     string
	Partition int
	Offset    int64
}

// String renders the source as topic/partition/offset.
func (s Source) String() string {
	return fmt.Sprintf("%s/%d/%d", s.Topic, s.Partition, s.Offset)
}

// Handler applies one decoded op. A returned error leaves the message
// uncommitted.
type Handler func(ctx context.Context, src Source, op Op) error

// NewReader opens a consumer-group reader with manual commits.
func NewReader(cfg KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
}

// Consumer feeds ops from a Kafka topic into a Handler.
type Consumer struct {
	reader  MessageReader
	handler Handler
	logger  *slog.Logger
	backoff time.Duration
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger sets the consumer logger.
func WithConsumerLogger(l *slog.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = l }
}

// WithBackoff sets the pause after a failed fetch or handler call.
func WithBackoff(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.backoff = d }
}

// NewConsumer wraps reader. The consumer owns the reader and closes it
// when Run returns.
func NewConsumer(reader MessageReader, handler Handler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader:  reader,
		handler: handler,
		logger:  slog.Default(),
		backoff: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run fetches until ctx is cancelled. Undecodable messages are logged and
// committed; messages whose handler fails stay uncommitted and the
// consumer pauses for the backoff before fetching again.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer context done")
				return ctx.Err()
			}
			c.logger.Error("fetch message failed", "error", err)
			if !c.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		op, err := DecodeMessage(m)
		if err != nil {
			c.logger.Error("undecodable message, skipping",
				"topic", m.Topic,
				"partition", m.Partition,
				"offset", m.Offset,
				"error", err,
			)
			c.commit(ctx, m)
			continue
		}

		src := Source{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset}
		if err := c.handler(ctx, src, op); err != nil {
			c.logger.Error("apply op failed",
				"cache", op.Cache,
				"kind", string(op.Kind),
				"offset", m.Offset,
				"error", err,
			)
			if !c.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		if c.commit(ctx, m) {
			c.logger.Debug("op applied and committed",
				"cache", op.Cache,
				"kind", string(op.Kind),
				"offset", m.Offset,
			)
		}
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) bool {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.logger.Error("commit message failed", "offset", m.Offset, "error", err)
		return false
	}
	return true
}

func (c *Consumer) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// DecodeMessage decodes a message body according to its content-type header.
func DecodeMessage(m kafka.Message) (Op, error) {
	if len(m.Value) == 0 {
		return Op{}, errors.New("empty message body")
	}
	format := FormatJSON
	for _, h := range m.Headers {
		if strings.EqualFold(h.Key, ContentTypeHeader) && string(h.Value) == ContentTypeMsgpack {
			format = FormatMsgpack
		}
	}
	return DecodeOp(m.Value, format)
}

// EncodeMessage renders op as a Kafka message keyed by cache name.
func EncodeMessage(op Op, format Format) (kafka.Message, error) {
	var (
		body        []byte
		contentType string
		err         error
	)
	switch format {
	case FormatMsgpack:
		body, err = EncodeMsgpack(op)
		contentType = ContentTypeMsgpack
	case FormatJSON:
		body, err = op.MarshalCanonical()
		contentType = ContentTypeJSON
	default:
		return kafka.Message{}, fmt.Errorf("unsupported message format %q", format)
	}
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:     []byte(op.Cache),
		Value:   body,
		Headers: []kafka.Header{{Key: ContentTypeHeader, Value: []byte(contentType)}},
	}, nil
}

// NewWriter opens a writer for the op topic. Messages are hashed by key so
// ops on one cache stay ordered.
func NewWriter(cfg KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// Publish validates and writes ops in one batch.
func Publish(ctx context.Context, w MessageWriter, format Format, ops ...Op) error {
	msgs := make([]kafka.Message, 0, len(ops))
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("ops[%d]: %w", i, err)
		}
		m, err := EncodeMessage(op, format)
		if err != nil {
			return fmt.Errorf("ops[%d]: %w", i, err)
		}
		msgs = append(msgs, m)
	}
	if err := w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d ops: %w", len(msgs), err)
	}
	return nil
}
