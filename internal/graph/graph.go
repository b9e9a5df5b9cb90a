package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/entitycache/internal/cache"
	"github.com/roach88/entitycache/internal/feed"
	"github.com/roach88/entitycache/internal/schema"
)

// ErrUnknownCache is returned for ops naming a cache the schema does not
// declare.
var ErrUnknownCache = errors.New("unknown cache")

// EventKind classifies a trace event.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventRemoved EventKind = "removed"
	EventCleared EventKind = "cleared"
)

// TraceEvent is one recorded notification.
type TraceEvent struct {
	Seq   int64
	OpSeq int64
	Cache string
	Kind  EventKind
	// ID is zero for cleared events.
	ID int64
}

// Graph is a set of record caches wired by a schema.
type Graph struct {
	schema *schema.Schema
	caches map[string]*cache.Cache[cache.Record]
	names  []string

	clock  Stamper
	logger *slog.Logger
	queue  *opQueue

	// opSeq is the seq of the op being applied; stamped onto trace events.
	opSeq int64
	trace []TraceEvent
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger used by the graph and its caches.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock sets the clock stamping trace events.
func WithClock(c Stamper) Option {
	return func(g *Graph) {
		if c != nil {
			g.clock = c
		}
	}
}

// New builds the caches of s in declaration order and registers their
// dependencies.
func New(s *schema.Schema, opts ...Option) (*Graph, error) {
	g := &Graph{
		schema: s,
		caches: make(map[string]*cache.Cache[cache.Record], len(s.Caches)),
		clock:  NewClock(),
		logger: slog.Default(),
		queue:  newOpQueue(),
	}
	for _, opt := range opts {
		opt(g)
	}

	for _, spec := range s.Caches {
		c, err := cache.New[cache.Record](spec.Name,
			cache.WithIdentityField(spec.Identity),
			cache.WithLogger(g.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("build graph: %w", err)
		}
		g.caches[spec.Name] = c
		g.names = append(g.names, spec.Name)
		g.watch(spec.Name, c)
	}

	for _, spec := range s.Caches {
		owner := g.caches[spec.Name]
		for _, dep := range spec.Dependencies {
			target, ok := g.caches[dep.Target]
			if !ok {
				return nil, fmt.Errorf("build graph: %s depends on %w %q", spec.Name, ErrUnknownCache, dep.Target)
			}
			err := owner.AddDependency(target,
				cache.WithForeignKey(dep.ForeignKey),
				cache.WithResolvedField(dep.Field),
			)
			if err != nil {
				return nil, fmt.Errorf("build graph: %s.%s: %w", spec.Name, dep.ForeignKey, err)
			}
		}
	}
	return g, nil
}

func (g *Graph) watch(name string, c *cache.Cache[cache.Record]) {
	c.OnEntityAdded(func(ev cache.Event[cache.Record]) error {
		g.record(name, EventAdded, ev.Entity.ID)
		return nil
	})
	c.OnEntityRemoved(func(ev cache.Event[cache.Record]) error {
		g.record(name, EventRemoved, ev.Entity.ID)
		return nil
	})
}

func (g *Graph) record(name string, kind EventKind, id int64) {
	g.trace = append(g.trace, TraceEvent{
		Seq:   g.clock.Next(),
		OpSeq: g.opSeq,
		Cache: name,
		Kind:  kind,
		ID:    id,
	})
}

// Schema returns the schema the graph was built from.
func (g *Graph) Schema() *schema.Schema { return g.schema }

// Names returns the cache names in declaration order.
func (g *Graph) Names() []string { return slices.Clone(g.names) }

// Cache returns the cache named name.
func (g *Graph) Cache(name string) (*cache.Cache[cache.Record], bool) {
	c, ok := g.caches[name]
	return c, ok
}

// Trace returns a copy of the recorded events.
func (g *Graph) Trace() []TraceEvent {
	return slices.Clone(g.trace)
}

// Apply applies one op. Not safe to call concurrently with Run.
func (g *Graph) Apply(op feed.Op) error {
	if err := op.Validate(); err != nil {
		return err
	}
	c, ok := g.caches[op.Cache]
	if !ok {
		return fmt.Errorf("apply %s: %w %q", op.Kind, ErrUnknownCache, op.Cache)
	}

	g.opSeq = op.Seq
	defer func() { g.opSeq = 0 }()

	switch op.Kind {
	case feed.KindUpsert:
		if err := c.UpdateOrInsert(op.Payloads...); err != nil {
			return fmt.Errorf("apply upsert on %s: %w", op.Cache, err)
		}
	case feed.KindRemove:
		n := c.Remove(op.IDs...)
		g.logger.Debug("removed entities", "cache", op.Cache, "requested", len(op.IDs), "removed", n)
	case feed.KindClear:
		c.Clear()
		g.record(op.Cache, EventCleared, 0)
	}
	return nil
}

// ApplyAll applies ops in order and stops at the first error.
func (g *Graph) ApplyAll(ops []feed.Op) error {
	for i, op := range ops {
		if err := g.Apply(op); err != nil {
			return fmt.Errorf("ops[%d]: %w", i, err)
		}
	}
	return nil
}

// CacheStats summarises one cache.
type CacheStats struct {
	Name    string
	Len     int
	Pending int
}

// Stats returns per-cache entity and pending-dependency counts in
// declaration order.
func (g *Graph) Stats() []CacheStats {
	out := make([]CacheStats, 0, len(g.names))
	for _, name := range g.names {
		c := g.caches[name]
		st := CacheStats{Name: name, Len: c.Len()}
		for _, d := range c.Dependencies() {
			st.Pending += d.Pending
		}
		out = append(out, st)
	}
	return out
}
