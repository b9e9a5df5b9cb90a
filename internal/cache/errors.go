package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDependencyType marks an entity or resolved field whose type
	// does not match the target cache of a dependency.
	ErrInvalidDependencyType = errors.New("invalid dependency type")

	// ErrUnknownField marks a dependency naming a field the entity type lacks.
	ErrUnknownField = errors.New("unknown field")

	// ErrIdentityField marks a missing or unusable identity field.
	ErrIdentityField = errors.New("invalid identity field")

	// ErrNotStruct is returned when the entity type is not a struct.
	ErrNotStruct = errors.New("entity type must be a struct")
)

// ArgumentError reports an invalid argument passed across the cache boundary.
type ArgumentError struct {
	Argument string
	Reason   string
	Err      error
}

func (e *ArgumentError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid argument %s: %v", e.Argument, e.Err)
	}
	return fmt.Sprintf("invalid argument %s: %s", e.Argument, e.Reason)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

func argumentError(arg string, err error, format string, args ...any) *ArgumentError {
	return &ArgumentError{
		Argument: arg,
		Reason:   fmt.Sprintf(format, args...),
		Err:      err,
	}
}

// isEscalated reports whether a listener failure must reach the caller.
func isEscalated(err error) bool {
	return errors.Is(err, ErrInvalidDependencyType)
}
