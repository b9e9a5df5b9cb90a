package cache

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/entitycache/internal/notify"
	"github.com/roach88/entitycache/internal/value"
)

// Target is a cache other caches can depend on. *Cache[U] implements it.
type Target interface {
	TypeName() string
	entityType() reflect.Type
	has(id int64) bool
	watchAdded(fn func(entity any, id int64) error) notify.Token
	unwatchAdded(tok notify.Token) bool
}

func (c *Cache[T]) entityType() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

func (c *Cache[T]) has(id int64) bool {
	_, ok := c.store.find(id)
	return ok
}

func (c *Cache[T]) watchAdded(fn func(entity any, id int64) error) notify.Token {
	return c.added.Subscribe(func(ev Event[T]) error {
		return fn(ev.Entity, c.idOf(ev.Entity))
	})
}

func (c *Cache[T]) unwatchAdded(tok notify.Token) bool {
	return c.added.Unsubscribe(tok)
}

type dependencyConfig struct {
	foreignKey string
	field      string
}

// DependencyOption configures AddDependency.
type DependencyOption func(*dependencyConfig)

// WithForeignKey names the payload key carrying the target id or ids.
// The default is the owner's key name for the target type name.
func WithForeignKey(name string) DependencyOption {
	return func(c *dependencyConfig) { c.foreignKey = name }
}

// WithResolvedField names the field receiving the resolved references.
// The default is the target type name.
func WithResolvedField(name string) DependencyOption {
	return func(c *dependencyConfig) { c.field = name }
}

// DependencyInfo describes one registration.
type DependencyInfo struct {
	ForeignKey string
	Field      string
	Target     string
	Pending    int
}

// ForeignKey is the last id or ids a dependency was asked to resolve.
type ForeignKey struct {
	IDs  []int64
	Many bool
}

// AddDependency resolves payload key fk on this cache into references to
// target's entities. Registering the same foreign key again replaces the
// previous registration.
//
// The resolved field must be a Ref[U] or []Ref[U] field whose U is the
// target's entity type, or the type must declare a ",links" map. The field
// may be declared on the entity or on a struct nested in it; a key found
// on a nested object binds the field of that object. A foreign key named
// like the identity field is only resolved on nested objects.
func (c *Cache[T]) AddDependency(target Target, opts ...DependencyOption) error {
	if target == nil {
		return argumentError("target", ErrInvalidDependencyType, "nil target cache")
	}
	var cfg dependencyConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.foreignKey == "" {
		cfg.foreignKey = c.keyName(target.TypeName())
	}
	if cfg.field == "" {
		cfg.field = target.TypeName()
	}

	elem := target.entityType()
	slots, err := accessIn(c.desc, cfg.field, elem)
	if errors.Is(err, ErrUnknownField) {
		if nestedErr := findNested(c.desc, cfg.field, elem, map[reflect.Type]bool{c.desc.typ: true}); nestedErr == nil {
			err = nil
		} else if errors.Is(nestedErr, ErrInvalidDependencyType) {
			err = nestedErr
		}
	}
	if err != nil {
		return err
	}

	c.RemoveDependency(cfg.foreignKey)

	d := &dependency[T]{
		owner:   c,
		target:  target,
		fk:      cfg.foreignKey,
		field:   cfg.field,
		slots:   slots,
		keys:    make(map[*T]map[string]*binding),
		waiting: make(map[int64][]waitEntry[T]),
	}
	d.token = target.watchAdded(d.onTargetAdded)
	c.deps = append(c.deps, d)
	return nil
}

// findNested looks for field on the structs nested in d. It returns nil
// when one declares it for elem.
func findNested(d *typeDesc, field string, elem reflect.Type, seen map[reflect.Type]bool) error {
	var mismatch error
	for _, fd := range d.fields {
		if fd.kind != kindPlain {
			continue
		}
		st, ok := nestedStruct(fd.typ)
		if !ok || seen[st] {
			continue
		}
		seen[st] = true
		nd := describe(st)
		_, err := accessIn(nd, field, elem)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidDependencyType) {
			mismatch = err
		}
		if err := findNested(nd, field, elem, seen); err == nil {
			return nil
		} else if errors.Is(err, ErrInvalidDependencyType) {
			mismatch = err
		}
	}
	if mismatch != nil {
		return mismatch
	}
	return argumentError("field", ErrUnknownField, "%s has no field %q", d.typ, field)
}

// RemoveDependency unregisters the dependency on foreign key fk.
func (c *Cache[T]) RemoveDependency(fk string) bool {
	for i, d := range c.deps {
		if d.fk == fk {
			d.unregister()
			c.deps = slices.Delete(c.deps, i, i+1)
			return true
		}
	}
	return false
}

// RemoveDependencyOn unregisters every dependency targeting target.
func (c *Cache[T]) RemoveDependencyOn(target Target) bool {
	removed := false
	c.deps = slices.DeleteFunc(c.deps, func(d *dependency[T]) bool {
		if d.target != target {
			return false
		}
		d.unregister()
		removed = true
		return true
	})
	return removed
}

// Dependencies lists the registrations in registration order.
func (c *Cache[T]) Dependencies() []DependencyInfo {
	out := make([]DependencyInfo, 0, len(c.deps))
	for _, d := range c.deps {
		out = append(out, DependencyInfo{
			ForeignKey: d.fk,
			Field:      d.field,
			Target:     d.target.TypeName(),
			Pending:    d.pending(),
		})
	}
	return out
}

// ForeignKey returns the key most recently assigned to e itself under fk.
func (c *Cache[T]) ForeignKey(e *T, fk string) (ForeignKey, bool) {
	return c.ForeignKeyAt(e, "", fk)
}

// ForeignKeyAt returns the key most recently assigned under fk on the
// object of e at the dotted payload path.
func (c *Cache[T]) ForeignKeyAt(e *T, path, fk string) (ForeignKey, bool) {
	d := c.dependency(fk)
	if d == nil {
		return ForeignKey{}, false
	}
	b, ok := d.keys[e][path]
	if !ok {
		return ForeignKey{}, false
	}
	return ForeignKey{IDs: slices.Clone(b.IDs), Many: b.Many}, true
}

// KeyPaths lists, in order, the payload paths of e holding a key under
// fk. The entity itself is the empty path.
func (c *Cache[T]) KeyPaths(e *T, fk string) []string {
	d := c.dependency(fk)
	if d == nil {
		return nil
	}
	paths := make([]string, 0, len(d.keys[e]))
	for path := range d.keys[e] {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}

// dependency returns the registration named exactly fk.
func (c *Cache[T]) dependency(fk string) *dependency[T] {
	for _, d := range c.deps {
		if d.fk == fk {
			return d
		}
	}
	return nil
}

// dependencyFor matches a payload key against the registered foreign keys
// the way fields are matched: exactly first, then case-insensitively.
func (c *Cache[T]) dependencyFor(key string) *dependency[T] {
	if d := c.dependency(key); d != nil {
		return d
	}
	for _, d := range c.deps {
		if strings.EqualFold(d.fk, key) {
			return d
		}
	}
	return nil
}

// dependency is one registration: a foreign key on the owner cache
// resolved against a target cache.
type dependency[T any] struct {
	owner  *Cache[T]
	target Target
	fk     string
	field  string
	// slots reaches the resolved field on the entity; invalid when only
	// nested structs declare it.
	slots slotAccess
	token notify.Token

	// keys holds the last foreign key assigned per owner entity and path.
	keys map[*T]map[string]*binding
	// waiting holds unresolved slots by the target id they wait for.
	// An entry exists iff its slot is unresolved with a known target id.
	waiting map[int64][]waitEntry[T]
}

// binding is the foreign key assigned at one site and the resolved field
// it fills.
type binding struct {
	ForeignKey
	slots slotAccess
}

type waitEntry[T any] struct {
	owner *T
	path  string
	slot  int
}

// accessAt locates the resolved field for a key found on the object at.
// A nested struct declares its own field or links; otherwise a links map
// on the entity takes the key under its dotted path.
func (d *dependency[T]) accessAt(at *cursor[T]) (slotAccess, bool) {
	if at.path == "" {
		return d.slots, d.slots.valid()
	}
	elem := d.target.entityType()
	if at.desc != nil {
		if acc, err := accessIn(at.desc, d.field, elem); err == nil {
			acc.hops = at.hops
			return acc, true
		}
	}
	links := d.owner.desc.links
	if links == nil || links.refElem != elem {
		return slotAccess{}, false
	}
	return slotAccess{field: links, link: JoinPath(at.path, d.field)}, true
}

// assign routes a foreign-key payload value found at path on owner.
func (d *dependency[T]) assign(owner *T, path string, acc slotAccess, v value.Value, isNew bool) {
	switch val := v.(type) {
	case nil, value.Null:
		return
	case value.Array:
		ids := make([]int64, 0, len(val))
		for i, elem := range val {
			id, ok := value.AsInt(elem)
			if !ok {
				d.owner.logger.Warn("foreign key element is not an id, skipping",
					"cache", d.owner.typeName,
					"field", fmt.Sprintf("%s[%d]", JoinPath(path, d.fk), i),
					"got", value.KindOf(elem),
				)
				continue
			}
			ids = append(ids, id)
		}
		d.assignMany(owner, path, acc, ids)
	default:
		id, ok := value.AsInt(v)
		if !ok {
			d.owner.logger.Warn("foreign key is not an id, skipping",
				"cache", d.owner.typeName,
				"field", JoinPath(path, d.fk),
				"got", value.KindOf(v),
			)
			return
		}
		if prev := d.keys[owner][path]; !isNew && prev != nil && !prev.Many && prev.IDs[0] == id {
			return
		}
		d.assignOne(owner, path, acc, id)
	}
}

func (d *dependency[T]) assignOne(owner *T, path string, acc slotAccess, id int64) {
	root := reflect.ValueOf(owner).Elem()
	if !acc.prepare(root, 1, false) {
		d.shapeMismatch(path, false)
		return
	}
	d.forget(owner, path)
	d.bind(owner, path, &binding{ForeignKey: ForeignKey{IDs: []int64{id}}, slots: acc})
	d.resolve(owner, path, acc, root, id, -1)
}

func (d *dependency[T]) assignMany(owner *T, path string, acc slotAccess, ids []int64) {
	root := reflect.ValueOf(owner).Elem()
	if !acc.prepare(root, len(ids), true) {
		d.shapeMismatch(path, true)
		return
	}
	d.forget(owner, path)
	d.bind(owner, path, &binding{ForeignKey: ForeignKey{IDs: ids, Many: true}, slots: acc})
	for slot, id := range ids {
		d.resolve(owner, path, acc, root, id, slot)
	}
}

func (d *dependency[T]) bind(owner *T, path string, b *binding) {
	sites := d.keys[owner]
	if sites == nil {
		sites = make(map[string]*binding)
		d.keys[owner] = sites
	}
	sites[path] = b
}

// resolve binds slot to id when the target holds it, otherwise clears the
// slot and parks it.
func (d *dependency[T]) resolve(owner *T, path string, acc slotAccess, root reflect.Value, id int64, slot int) {
	s := acc.slot(root, slot)
	if s == nil {
		return
	}
	if d.target.has(id) {
		s.bind(d.target, id)
		return
	}
	s.reset()
	d.waiting[id] = append(d.waiting[id], waitEntry[T]{owner: owner, path: path, slot: slot})
}

// onTargetAdded patches every slot waiting for id whose key still asks
// for it.
func (d *dependency[T]) onTargetAdded(entity any, id int64) error {
	// Defensive: watchAdded only ever delivers the target's own *U.
	if want := reflect.PointerTo(d.target.entityType()); reflect.TypeOf(entity) != want {
		return argumentError(d.fk, ErrInvalidDependencyType,
			"%s cache delivered %T, want %s", d.target.TypeName(), entity, want)
	}

	entries, ok := d.waiting[id]
	if !ok {
		return nil
	}
	delete(d.waiting, id)

	for _, e := range entries {
		b := d.keys[e.owner][e.path]
		if b == nil || !b.wants(e.slot, id) {
			continue
		}
		if s := b.slots.slot(reflect.ValueOf(e.owner).Elem(), e.slot); s != nil {
			s.bind(d.target, id)
		}
	}
	return nil
}

func (k *ForeignKey) wants(slot int, id int64) bool {
	if slot < 0 {
		return !k.Many && len(k.IDs) == 1 && k.IDs[0] == id
	}
	return k.Many && slot < len(k.IDs) && k.IDs[slot] == id
}

// forget drops the key at path of owner and its waiting entries.
func (d *dependency[T]) forget(owner *T, path string) {
	b, ok := d.keys[owner][path]
	if !ok {
		return
	}
	for _, id := range b.IDs {
		entries, ok := d.waiting[id]
		if !ok {
			continue
		}
		entries = slices.DeleteFunc(entries, func(e waitEntry[T]) bool {
			return e.owner == owner && e.path == path
		})
		if len(entries) == 0 {
			delete(d.waiting, id)
		} else {
			d.waiting[id] = entries
		}
	}
	delete(d.keys[owner], path)
	if len(d.keys[owner]) == 0 {
		delete(d.keys, owner)
	}
}

// forgetOwner drops every key of owner.
func (d *dependency[T]) forgetOwner(owner *T) {
	for path := range d.keys[owner] {
		d.forget(owner, path)
	}
}

func (d *dependency[T]) pending() int {
	n := 0
	for _, entries := range d.waiting {
		n += len(entries)
	}
	return n
}

func (d *dependency[T]) reset() {
	clear(d.keys)
	clear(d.waiting)
}

func (d *dependency[T]) unregister() {
	d.target.unwatchAdded(d.token)
	d.reset()
}

func (d *dependency[T]) shapeMismatch(path string, many bool) {
	got := "single id"
	if many {
		got = "id list"
	}
	d.owner.logger.Warn("foreign key shape does not fit resolved field, skipping",
		"cache", d.owner.typeName,
		"foreign_key", JoinPath(path, d.fk),
		"field", d.field,
		"got", got,
	)
}
