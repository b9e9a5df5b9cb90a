package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/entitycache/internal/feed"
	"github.com/roach88/entitycache/internal/graph"
	"github.com/roach88/entitycache/internal/schema"
	"github.com/roach88/entitycache/internal/store"
	"github.com/roach88/entitycache/internal/value"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	DBPath   string
	Snapshot bool
}

// ReplayResult is the output of a replay.
type ReplayResult struct {
	Ops           int               `json:"ops"`
	Failed        int               `json:"failed"`
	Events        int               `json:"events"`
	Deterministic bool              `json:"deterministic"`
	Caches        []CacheStatsEntry `json:"caches"`
	Snapshot      json.RawMessage   `json:"snapshot,omitempty"`
}

// CacheStatsEntry is graph.CacheStats in output form.
type CacheStatsEntry struct {
	Name    string `json:"name"`
	Len     int    `json:"len"`
	Pending int    `json:"pending"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <schema-dir> [feed-file]",
		Short: "Replay a feed into fresh caches",
		Long: `Apply a feed file, or the op log of a database, to fresh caches built
from the schema. The feed is applied twice and the two runs are compared:
identical events and final state mean the replay is deterministic.

Exit codes:
  0 - Replay deterministic
  1 - Replay not deterministic
  2 - Command error (schema, feed or database unreadable)`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "read ops from this database instead of a feed file")
	cmd.Flags().BoolVar(&opts.Snapshot, "snapshot", false, "include the final snapshot")

	return cmd
}

func runReplay(opts *ReplayOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr(), formatter.Session)

	if (len(args) == 2) == (opts.DBPath != "") {
		err := NewExitError(ExitCommandError, "exactly one of feed-file or --db is required")
		_ = formatter.Error(ErrCodeGeneric, err.Message, nil)
		return err
	}

	sch, err := loadSchema(args[0])
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidSchema, err.Error(), nil)
		return asCommandError(err)
	}

	ops, err := readOps(cmd.Context(), opts.DBPath, args[1:], logger)
	if err != nil {
		code := ErrCodeFeed
		if opts.DBPath != "" {
			code = ErrCodeDatabase
		}
		_ = formatter.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read ops", err)
	}
	formatter.VerboseLog("Replaying %d op(s)", len(ops))

	first, err := replayOnce(sch, ops, logger)
	if err != nil {
		_ = formatter.Error(ErrCodeReplay, err.Error(), nil)
		return WrapExitError(ExitCommandError, "replay failed", err)
	}
	// The second run is only compared; its failures were already logged.
	second, err := replayOnce(sch, ops, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		_ = formatter.Error(ErrCodeReplay, err.Error(), nil)
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	result := ReplayResult{
		Ops:           len(ops),
		Failed:        first.failed,
		Events:        len(first.graph.Trace()),
		Deterministic: bytes.Equal(first.digest, second.digest),
		Caches:        statsEntries(first.graph.Stats()),
	}
	if opts.Snapshot {
		snap, err := first.graph.SnapshotJSON()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to render snapshot", err)
		}
		result.Snapshot = snap
	}

	return outputReplay(formatter, result)
}

// readOps reads the op log at dbPath or, when dbPath is empty, the feed
// file in files[0].
func readOps(ctx context.Context, dbPath string, files []string, logger *slog.Logger) ([]feed.Op, error) {
	if dbPath == "" {
		return feed.LoadFile(files[0])
	}
	st, err := store.Open(dbPath, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer st.Close()
	if ctx == nil {
		ctx = context.Background()
	}
	return st.ReadAll(ctx)
}

type replayRun struct {
	graph  *graph.Graph
	failed int
	digest []byte
}

// replayOnce applies ops to a fresh graph, skipping the ones that fail.
func replayOnce(sch *schema.Schema, ops []feed.Op, logger *slog.Logger) (*replayRun, error) {
	g, err := graph.New(sch, graph.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	run := &replayRun{graph: g}
	for i, op := range ops {
		if err := g.Apply(op); err != nil {
			run.failed++
			logger.Warn("op failed", "index", i, "cache", op.Cache, "kind", string(op.Kind), "error", err)
		}
	}
	run.digest, err = digest(g)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// digest renders the trace and final state of g canonically.
func digest(g *graph.Graph) ([]byte, error) {
	trace := make(value.Array, 0, len(g.Trace()))
	for _, ev := range g.Trace() {
		trace = append(trace, value.Obj(
			value.O("seq", value.Int(ev.Seq)),
			value.O("cache", value.String(ev.Cache)),
			value.O("kind", value.String(string(ev.Kind))),
			value.O("id", value.Int(ev.ID)),
		))
	}
	return value.MarshalCanonical(value.Obj(
		value.O("trace", trace),
		value.O("snapshot", g.Snapshot()),
	))
}

func statsEntries(stats []graph.CacheStats) []CacheStatsEntry {
	out := make([]CacheStatsEntry, len(stats))
	for i, s := range stats {
		out[i] = CacheStatsEntry{Name: s.Name, Len: s.Len, Pending: s.Pending}
	}
	return out
}

func outputReplay(formatter *OutputFormatter, result ReplayResult) error {
	var exitErr error
	if !result.Deterministic {
		exitErr = NewExitError(ExitFailure, "replay is not deterministic")
	}

	if formatter.Format == "json" {
		var err error
		if exitErr != nil {
			err = formatter.Failure(ErrCodeReplay, exitErr.Error(), result)
		} else {
			err = formatter.Success(result)
		}
		if err != nil {
			return err
		}
		return exitErr
	}

	if result.Deterministic {
		fmt.Fprintf(formatter.Writer, "✓ Replayed %d op(s), %d event(s), deterministic\n", result.Ops, result.Events)
	} else {
		fmt.Fprintf(formatter.Writer, "✗ Replayed %d op(s), runs differ\n", result.Ops)
	}
	if result.Failed > 0 {
		fmt.Fprintf(formatter.Writer, "  %d op(s) failed\n", result.Failed)
	}
	for _, c := range result.Caches {
		fmt.Fprintf(formatter.Writer, "  %-16s %d entities, %d pending\n", c.Name, c.Len, c.Pending)
	}
	if len(result.Snapshot) > 0 {
		fmt.Fprintln(formatter.Writer, string(result.Snapshot))
	}
	return exitErr
}
