package cache

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/roach88/entitycache/internal/notify"
)

// Event is delivered to added and removed listeners.
type Event[T any] struct {
	Entity *T
	Cache  *Cache[T]
}

// Listener receives cache events. Returned errors are logged by the hub.
type Listener[T any] func(Event[T]) error

// Cache stores entities of one type ordered by identity.
type Cache[T any] struct {
	typeName string
	identity string
	keyName  func(string) string
	factory  func() *T
	logger   *slog.Logger

	desc  *typeDesc
	idFld *fieldDesc
	store *sortedStore[T]
	deps  []*dependency[T]

	added   *notify.Hub[Event[T]]
	removed *notify.Hub[Event[T]]
}

type options struct {
	identity string
	keyName  func(string) string
	factory  any
	logger   *slog.Logger
}

// Option configures a Cache.
type Option func(*options)

// WithIdentityField overrides the payload key holding the identity.
// The default is the key name derived from the type name.
func WithIdentityField(name string) Option {
	return func(o *options) { o.identity = name }
}

// WithKeyNamer overrides how key names are derived from type names.
// The default appends "Id".
func WithKeyNamer(fn func(typeName string) string) Option {
	return func(o *options) {
		if fn != nil {
			o.keyName = fn
		}
	}
}

// WithFactory sets the constructor used to promote payloads into new
// entities. The default is new(T).
func WithFactory[T any](fn func() *T) Option {
	return func(o *options) { o.factory = fn }
}

// WithLogger sets the logger for merge warnings and listener failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// DefaultKeyName appends "Id" to a type name.
func DefaultKeyName(typeName string) string {
	return typeName + "Id"
}

// New creates an empty cache for entities of type T named typeName.
func New[T any](typeName string, opts ...Option) (*Cache[T], error) {
	o := options{keyName: DefaultKeyName, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.identity == "" {
		o.identity = o.keyName(typeName)
	}

	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("new cache %s: %w: got %s", typeName, ErrNotStruct, t)
	}
	desc := describe(t)

	idFld := desc.identity
	if idFld == nil {
		idFld = desc.lookup(o.identity)
	}
	if idFld == nil {
		return nil, fmt.Errorf("new cache %s: %w", typeName,
			argumentError("identity", ErrIdentityField, "%s has no field %q", t, o.identity))
	}
	if k := idFld.typ.Kind(); !isIntKind(k) && !isUintKind(k) {
		return nil, fmt.Errorf("new cache %s: %w", typeName,
			argumentError("identity", ErrIdentityField, "field %s is %s, want an integer", idFld.name, idFld.typ))
	}

	factory := func() *T { return new(T) }
	if o.factory != nil {
		fn, ok := o.factory.(func() *T)
		if !ok {
			return nil, fmt.Errorf("new cache %s: %w", typeName,
				argumentError("factory", ErrNotStruct, "factory returns %T, want func() *%s", o.factory, t))
		}
		factory = fn
	}

	c := &Cache[T]{
		typeName: typeName,
		identity: o.identity,
		keyName:  o.keyName,
		factory:  factory,
		logger:   o.logger,
		desc:     desc,
		idFld:    idFld,
	}
	c.store = newSortedStore(c.idOf)
	c.added = notify.NewHub[Event[T]](typeName+" added",
		notify.WithLogger(o.logger),
		notify.WithEscalation(isEscalated),
	)
	c.removed = notify.NewHub[Event[T]](typeName+" removed", notify.WithLogger(o.logger))
	return c, nil
}

// MustNew is New that panics on error. Intended for package-level caches
// over statically known types.
func MustNew[T any](typeName string, opts ...Option) *Cache[T] {
	c, err := New[T](typeName, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// TypeName returns the name the cache was created with.
func (c *Cache[T]) TypeName() string { return c.typeName }

// IdentityField returns the payload key holding the identity.
func (c *Cache[T]) IdentityField() string { return c.identity }

// KeyName derives a key name from a type name using the cache's namer.
func (c *Cache[T]) KeyName(typeName string) string { return c.keyName(typeName) }

// Len returns the number of stored entities.
func (c *Cache[T]) Len() int { return c.store.len() }

// Get returns the live stored entity with id.
func (c *Cache[T]) Get(id int64) (*T, bool) {
	i, ok := c.store.find(id)
	if !ok {
		return nil, false
	}
	return c.store.at(i), true
}

// Entities returns the stored entities in ascending id order. The slice
// is a copy; the entities are not.
func (c *Cache[T]) Entities() []*T {
	return c.store.snapshot()
}

// ID returns the identity of e.
func (c *Cache[T]) ID(e *T) int64 {
	return c.idOf(e)
}

func (c *Cache[T]) idOf(e *T) int64 {
	f := reflect.ValueOf(e).Elem().FieldByIndex(c.idFld.index)
	if isUintKind(f.Kind()) {
		return int64(f.Uint())
	}
	return f.Int()
}

func (c *Cache[T]) setID(e *T, id int64) {
	f := reflect.ValueOf(e).Elem().FieldByIndex(c.idFld.index)
	if isUintKind(f.Kind()) {
		f.SetUint(uint64(id))
		return
	}
	f.SetInt(id)
}

// OnEntityAdded subscribes fn to insertions.
func (c *Cache[T]) OnEntityAdded(fn Listener[T]) notify.Token {
	return c.added.Subscribe(notify.Listener[Event[T]](fn))
}

// OffEntityAdded removes an insertion listener.
func (c *Cache[T]) OffEntityAdded(tok notify.Token) bool {
	return c.added.Unsubscribe(tok)
}

// OnEntityRemoved subscribes fn to removals.
func (c *Cache[T]) OnEntityRemoved(fn Listener[T]) notify.Token {
	return c.removed.Subscribe(notify.Listener[Event[T]](fn))
}

// OffEntityRemoved removes a removal listener.
func (c *Cache[T]) OffEntityRemoved(tok notify.Token) bool {
	return c.removed.Unsubscribe(tok)
}

// Remove deletes the entities with the given ids and returns how many were
// present. One removed event fires per deleted entity, in argument order.
func (c *Cache[T]) Remove(ids ...int64) int {
	n := 0
	for _, id := range ids {
		i, ok := c.store.find(id)
		if !ok {
			continue
		}
		e := c.store.removeAt(i)
		for _, d := range c.deps {
			d.forgetOwner(e)
		}
		n++
		// Removed listeners are never escalated.
		_ = c.removed.Emit(Event[T]{Entity: e, Cache: c})
	}
	return n
}

// RemoveEntities deletes entities keyed by their identity field.
func (c *Cache[T]) RemoveEntities(entities ...*T) int {
	ids := make([]int64, 0, len(entities))
	for _, e := range entities {
		if e != nil {
			ids = append(ids, c.idOf(e))
		}
	}
	return c.Remove(ids...)
}

// Clear drops every entity and every pending dependency without firing
// removed events. Listeners and dependency registrations are kept.
func (c *Cache[T]) Clear() {
	c.store.reset()
	for _, d := range c.deps {
		d.reset()
	}
}

func (c *Cache[T]) emitAdded(e *T) error {
	if err := c.added.Emit(Event[T]{Entity: e, Cache: c}); err != nil {
		return fmt.Errorf("insert %s %d: %w", c.typeName, c.idOf(e), err)
	}
	return nil
}
