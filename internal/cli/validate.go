package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/entitycache/internal/schema"
)

// Error codes reported by commands; E002-E006 come from schema loading.
const (
	ErrCodeInvalidSchema = "E001"
	ErrCodeGeneric       = "E000"
	ErrCodeFeed          = "E010"
	ErrCodeDatabase      = "E011"
	ErrCodeReplay        = "E012"
	ErrCodeKafka         = "E013"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Caches []CacheSummary    `json:"caches,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// CacheSummary describes one declared cache.
type CacheSummary struct {
	Name         string   `json:"name"`
	Identity     string   `json:"identity"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// ValidationError is one schema problem.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate a cache schema",
		Long: `Load the CUE files in a directory and check the cache topology:
identity fields, dependency targets, duplicate foreign keys and resolved fields.

Exit codes:
  0 - Schema valid
  1 - Schema invalid
  2 - Command error (missing directory, no CUE files)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	sch, err := loadSchema(dir)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) && exitErr.Code == ExitCommandError {
			var loadErr *schema.LoadError
			if errors.As(err, &loadErr) {
				_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			} else {
				_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			}
			return err
		}
		return outputValidationErrors(formatter, []ValidationError{toValidationError(err)})
	}

	formatter.VerboseLog("Loaded %d cache(s) from %s", len(sch.Caches), dir)
	return outputValidateSuccess(formatter, summarize(sch))
}

// loadSchema loads dir; load failures are command errors, compile failures
// are validation failures.
func loadSchema(dir string) (*schema.Schema, error) {
	sch, err := schema.LoadDir(dir)
	if err == nil {
		return sch, nil
	}
	var loadErr *schema.LoadError
	if errors.As(err, &loadErr) {
		return nil, WrapExitError(ExitCommandError, "failed to load schema", loadErr)
	}
	return nil, WrapExitError(ExitFailure, "invalid schema", err)
}

// asCommandError turns a schema failure into a command error for commands
// that need a valid schema to run.
func asCommandError(err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return WrapExitError(ExitCommandError, exitErr.Message, exitErr.Err)
	}
	return WrapExitError(ExitCommandError, "failed to load schema", err)
}

func toValidationError(err error) ValidationError {
	var compileErr *schema.CompileError
	if errors.As(err, &compileErr) {
		line := 0
		if compileErr.Pos.IsValid() {
			line = compileErr.Pos.Line()
		}
		return ValidationError{
			Code:    ErrCodeInvalidSchema,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Line:    line,
		}
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err != nil {
		err = exitErr.Err
	}
	return ValidationError{Code: ErrCodeInvalidSchema, Message: err.Error()}
}

func summarize(sch *schema.Schema) []CacheSummary {
	out := make([]CacheSummary, 0, len(sch.Caches))
	for _, c := range sch.Caches {
		s := CacheSummary{Name: c.Name, Identity: c.Identity}
		for _, d := range c.Dependencies {
			s.Dependencies = append(s.Dependencies, fmt.Sprintf("%s -> %s.%s", d.ForeignKey, d.Target, d.Field))
		}
		out = append(out, s)
	}
	return out
}

func outputValidateSuccess(formatter *OutputFormatter, caches []CacheSummary) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Caches: caches})
	}

	fmt.Fprintln(formatter.Writer, "✓ Schema valid")
	for _, c := range caches {
		fmt.Fprintf(formatter.Writer, "  %s (identity %s)\n", c.Name, c.Identity)
		for _, d := range c.Dependencies {
			fmt.Fprintf(formatter.Writer, "    %s\n", d)
		}
	}
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, errs []ValidationError) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.Format == "json" {
		if err := formatter.Failure(errs[0].Code, errs[0].Message, ValidationResult{Errors: errs}); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		if e.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", e.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}
	return exitErr
}
