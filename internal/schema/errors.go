package schema

import (
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileError reports a schema that loads but does not describe a valid
// cache topology. Field names the offending schema element, for example
// "dependency.target"; Cache is empty for errors raised by CUE itself.
type CompileError struct {
	Cache   string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	var b strings.Builder
	if e.Pos.IsValid() {
		b.WriteString(e.Pos.String())
		b.WriteString(": ")
	}
	b.WriteString(e.Field)
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// topologyError builds a CompileError for cache at pos.
func topologyError(cache, field string, pos token.Pos, format string, args ...any) *CompileError {
	return &CompileError{
		Cache:   cache,
		Field:   field,
		Message: fmt.Sprintf("cache %s: ", cache) + fmt.Sprintf(format, args...),
		Pos:     pos,
	}
}

// LoadError reports schema files that could not be found or built.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string { return e.Code + ": " + e.Message }

const (
	ErrCodeScanError   = "E002" // directory unreadable
	ErrCodeNoFiles     = "E003" // no .cue files
	ErrCodeLoadFailed  = "E004"
	ErrCodeNotFound    = "E005"
	ErrCodeBuildFailed = "E006"
)

// fromCUE converts a CUE evaluation error into a CompileError positioned at
// the first error that has a source location. Errors without one pass
// through unchanged.
func fromCUE(err error) error {
	if err == nil {
		return nil
	}
	for _, e := range cueerrors.Errors(err) {
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			return &CompileError{Field: "cue", Message: e.Error(), Pos: pos[0]}
		}
	}
	return err
}
