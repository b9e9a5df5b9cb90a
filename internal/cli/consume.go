package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/entitycache/internal/feed"
	"github.com/roach88/entitycache/internal/graph"
	"github.com/roach88/entitycache/internal/store"
)

// ConsumeOptions holds flags for the consume command.
type ConsumeOptions struct {
	*RootOptions
	Kafka  feed.KafkaConfig
	DBPath string

	// newReader opens the topic reader; replaced in tests.
	newReader func(feed.KafkaConfig) feed.MessageReader
}

// ConsumeResult is printed when the consumer stops.
type ConsumeResult struct {
	Restored int               `json:"restored"`
	Caches   []CacheStatsEntry `json:"caches"`
}

// NewConsumeCommand creates the consume command.
func NewConsumeCommand(rootOpts *RootOptions) *cobra.Command {
	env := feed.KafkaConfigFromEnv()
	opts := &ConsumeOptions{
		RootOptions: rootOpts,
		newReader: func(cfg feed.KafkaConfig) feed.MessageReader {
			return feed.NewReader(cfg)
		},
	}

	cmd := &cobra.Command{
		Use:   "consume <schema-dir>",
		Short: "Apply ops from a Kafka topic",
		Long: `Consume feed ops from a Kafka topic and apply them to caches built from
the schema until interrupted. With --db every op is appended to the op log
before it is applied; the log is replayed on start and redelivered messages
are skipped.

Flags default to ENTITYCACHE_KAFKA_BROKERS, ENTITYCACHE_KAFKA_TOPIC and
ENTITYCACHE_KAFKA_GROUP.

Exit codes:
  0 - Stopped by signal
  2 - Command error (schema, database or Kafka setup)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsume(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Kafka.Brokers, "brokers", env.Brokers, "Kafka bootstrap brokers")
	cmd.Flags().StringVar(&opts.Kafka.Topic, "topic", env.Topic, "topic carrying feed ops")
	cmd.Flags().StringVar(&opts.Kafka.GroupID, "group", env.GroupID, "consumer group id")
	cmd.Flags().StringVar(&opts.DBPath, "db", "", "op log database (optional)")

	return cmd
}

func runConsume(opts *ConsumeOptions, schemaDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr(), formatter.Session)

	sch, err := loadSchema(schemaDir)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidSchema, err.Error(), nil)
		return asCommandError(err)
	}
	g, err := graph.New(sch, graph.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build caches", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var st *store.Store
	restored := 0
	if opts.DBPath != "" {
		st, err = store.Open(opts.DBPath, store.WithLogger(logger))
		if err != nil {
			_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()

		if restored, err = restore(ctx, g, st, logger); err != nil {
			_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to restore op log", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// The graph outlives the consumer so ops queued before shutdown are
	// still applied.
	graphCtx, graphCancel := context.WithCancel(context.WithoutCancel(parent))
	defer graphCancel()
	graphDone := make(chan error, 1)
	go func() { graphDone <- g.Run(graphCtx) }()

	logger.Info("consuming",
		"brokers", opts.Kafka.Brokers,
		"topic", opts.Kafka.Topic,
		"group", opts.Kafka.GroupID,
	)
	consumer := feed.NewConsumer(opts.newReader(opts.Kafka), consumeHandler(g, st, logger),
		feed.WithConsumerLogger(logger),
	)
	consumeErr := consumer.Run(ctx)

	g.Stop()
	graphErr := <-graphDone

	for _, err := range []error{consumeErr, graphErr} {
		if err != nil && !errors.Is(err, context.Canceled) {
			_ = formatter.Error(ErrCodeKafka, err.Error(), nil)
			return WrapExitError(ExitCommandError, "consumer failed", err)
		}
	}

	return outputConsume(formatter, ConsumeResult{Restored: restored, Caches: statsEntries(g.Stats())})
}

// restore applies the op log to g before consuming.
func restore(ctx context.Context, g *graph.Graph, st *store.Store, logger *slog.Logger) (int, error) {
	ops, err := st.ReadAll(ctx)
	if err != nil {
		return 0, err
	}
	for _, op := range ops {
		if err := g.Apply(op); err != nil {
			logger.Warn("restored op failed", "seq", op.Seq, "cache", op.Cache, "error", err)
		}
	}
	logger.Info("op log restored", "ops", len(ops))
	return len(ops), nil
}

// consumeHandler logs each op to st, when set, and queues it on g. Ops
// whose source was already logged are dropped.
func consumeHandler(g *graph.Graph, st *store.Store, logger *slog.Logger) feed.Handler {
	return func(ctx context.Context, src feed.Source, op feed.Op) error {
		if st != nil {
			seq, inserted, err := st.AppendFrom(ctx, src.String(), op)
			if err != nil {
				return fmt.Errorf("log op: %w", err)
			}
			if !inserted {
				logger.Debug("duplicate delivery, skipping", "source", src.String(), "seq", seq)
				return nil
			}
			op.Seq = seq
		}
		if !g.Enqueue(op) {
			return graph.ErrClosed
		}
		return nil
	}
}

func outputConsume(formatter *OutputFormatter, result ConsumeResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Consumer stopped (%d op(s) restored)\n", result.Restored)
	for _, c := range result.Caches {
		fmt.Fprintf(formatter.Writer, "  %-16s %d entities, %d pending\n", c.Name, c.Len, c.Pending)
	}
	return nil
}
