package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/entitycache/internal/feed"
	"github.com/roach88/entitycache/internal/store"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	DBPath string
}

// ImportResult is the output of an import.
type ImportResult struct {
	Imported int   `json:"imported"`
	LastSeq  int64 `json:"last_seq"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import --db <path> <feed-file>",
		Short: "Append a feed file to the op log",
		Long: `Decode a YAML, JSON or msgpack feed file and append its ops to the
SQLite op log in one transaction. The database is created if missing.

Exit codes:
  0 - Ops imported
  2 - Command error (feed unreadable, database error)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "path to the op log database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runImport(opts *ImportOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr(), formatter.Session)

	ops, err := feed.LoadFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeFeed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load feed", err)
	}

	st, err := store.Open(opts.DBPath, store.WithLogger(logger))
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	last, err := st.AppendAll(cmd.Context(), ops)
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to append ops", err)
	}
	formatter.VerboseLog("Appended %d op(s) to %s", len(ops), opts.DBPath)

	result := ImportResult{Imported: len(ops), LastSeq: last}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Imported %d op(s), last seq %d\n", result.Imported, result.LastSeq)
	return nil
}
