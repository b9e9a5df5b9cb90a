package cli

import (
	"io"
	"log/slog"

	"github.com/google/uuid"
)

// SessionIDGenerator issues ids correlating one command invocation.
type SessionIDGenerator interface {
	Generate() string
}

// UUIDv7Generator issues time-ordered UUIDv7 session ids.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (o *RootOptions) sessionID() string {
	if o.Sessions != nil {
		return o.Sessions.Generate()
	}
	return UUIDv7Generator{}.Generate()
}

// newLogger builds the command logger: text on w, debug level under
// --verbose. Every record carries the session id.
func newLogger(opts *RootOptions, w io.Writer, session string) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("session", session)
}
