package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/entitycache/internal/feed"
)

// PublishOptions holds flags for the publish command.
type PublishOptions struct {
	*RootOptions
	Kafka    feed.KafkaConfig
	Encoding string

	// newWriter opens the topic writer; replaced in tests.
	newWriter func(feed.KafkaConfig) feed.MessageWriter
}

// PublishResult is the output of a publish.
type PublishResult struct {
	Published int    `json:"published"`
	Topic     string `json:"topic"`
	Encoding  string `json:"encoding"`
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	env := feed.KafkaConfigFromEnv()
	opts := &PublishOptions{
		RootOptions: rootOpts,
		newWriter: func(cfg feed.KafkaConfig) feed.MessageWriter {
			return feed.NewWriter(cfg)
		},
	}

	cmd := &cobra.Command{
		Use:   "publish <feed-file>",
		Short: "Publish a feed file to a Kafka topic",
		Long: `Decode a feed file and write its ops to a Kafka topic in one batch,
keyed by cache name.

Exit codes:
  0 - Ops published
  2 - Command error (feed unreadable, Kafka write failed)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Kafka.Brokers, "brokers", env.Brokers, "Kafka bootstrap brokers")
	cmd.Flags().StringVar(&opts.Kafka.Topic, "topic", env.Topic, "topic carrying feed ops")
	cmd.Flags().StringVar(&opts.Encoding, "encoding", string(feed.FormatJSON), "message encoding (json|msgpack)")

	return cmd
}

func runPublish(opts *PublishOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	format := feed.Format(opts.Encoding)
	if format != feed.FormatJSON && format != feed.FormatMsgpack {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid encoding %q: must be json or msgpack", opts.Encoding))
	}

	ops, err := feed.LoadFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeFeed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load feed", err)
	}

	w := opts.newWriter(opts.Kafka)
	defer w.Close()

	if err := feed.Publish(cmd.Context(), w, format, ops...); err != nil {
		_ = formatter.Error(ErrCodeKafka, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to publish", err)
	}
	formatter.VerboseLog("Published %d op(s) to %s", len(ops), opts.Kafka.Topic)

	result := PublishResult{Published: len(ops), Topic: opts.Kafka.Topic, Encoding: opts.Encoding}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Published %d op(s) to %s (%s)\n", result.Published, result.Topic, result.Encoding)
	return nil
}
