package graph

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/entitycache/internal/feed"
)

// ErrClosed is returned by the Handler once the graph stopped.
var ErrClosed = errors.New("graph closed")

// Enqueue queues op for Run. Safe to call from any goroutine. Returns
// false once Stop was called or Run returned.
func (g *Graph) Enqueue(op feed.Op) bool {
	return g.queue.Enqueue(op)
}

// Handler adapts the graph to a feed consumer: each op is queued for Run.
func (g *Graph) Handler() feed.Handler {
	return func(_ context.Context, _ feed.Source, op feed.Op) error {
		if !g.Enqueue(op) {
			return ErrClosed
		}
		return nil
	}
}

// Run applies queued ops until ctx is cancelled or Stop is called and the
// queue drained. Failed ops are logged and skipped; retrying would reorder
// them against later ops.
func (g *Graph) Run(ctx context.Context) error {
	g.logger.Info("graph starting", "caches", len(g.names))

	for {
		if op, ok := g.queue.TryDequeue(); ok {
			if err := g.Apply(op); err != nil {
				g.logger.Error("apply op failed",
					slog.String("cache", op.Cache),
					slog.String("kind", string(op.Kind)),
					slog.Int64("seq", op.Seq),
					slog.Any("error", err),
				)
			}
			continue
		}

		select {
		case <-ctx.Done():
			g.logger.Info("graph stopping: context cancelled")
			g.queue.Close()
			return ctx.Err()

		case <-g.queue.Wait():
			if g.queue.Drained() {
				g.logger.Info("graph stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once the remaining ops are applied.
func (g *Graph) Stop() {
	g.queue.Close()
}
