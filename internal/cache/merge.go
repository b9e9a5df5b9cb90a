package cache

import (
	"fmt"
	"reflect"

	"github.com/roach88/entitycache/internal/value"
)

// UpdateOrInsert merges each payload into the cache, in order.
//
// A payload whose identity is already stored is merged into that entity in
// place; otherwise a new entity is built with the cache's factory, filled
// from the payload, inserted, and announced to added listeners. Fields the
// payload omits are never touched. A registered foreign key is resolved
// wherever it appears: on the entity or on an object nested in it through
// struct fields, pointers or payload objects. Objects inside slices and
// maps are merged as copies and their keys are stored as plain fields.
//
// Arrays are replaced in place. Callers holding a []T field keep seeing
// its contents only while the new array fits its capacity; a *[]T field
// keeps one slice for the entity's lifetime.
//
// The only error is an invalid dependency type raised while a dependent
// cache resolves the new entity; processing stops at that payload.
func (c *Cache[T]) UpdateOrInsert(payloads ...value.Object) error {
	for _, p := range payloads {
		if err := c.upsert(p); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache[T]) upsert(payload value.Object) error {
	id, ok := value.AsInt(payload[c.identity])
	if !ok {
		c.logger.Warn("payload has no usable identity, using zero",
			"cache", c.typeName,
			"field", c.identity,
			"got", value.KindOf(payload[c.identity]),
		)
	}

	i, found := c.store.find(id)
	if found {
		c.mergeRoot(c.store.at(i), payload, false)
		return nil
	}

	e := c.factory()
	c.setID(e, id)
	c.mergeRoot(e, payload, true)
	c.store.insertAt(i, e)
	return c.emitAdded(e)
}

// cursor locates the object being merged relative to the entity. Foreign
// keys resolve only while live: on the entity and on objects reached from
// it through struct fields, pointers and payload objects.
type cursor[T any] struct {
	owner *T
	isNew bool
	path  string    // dotted payload path, "" for the entity
	hops  [][]int   // struct field indexes from the entity to a typed object
	desc  *typeDesc // nil for payload objects
	live  bool
}

func (c *Cache[T]) rootCursor(e *T, isNew bool) *cursor[T] {
	return &cursor[T]{owner: e, isNew: isNew, desc: c.desc, live: true}
}

// field returns the cursor for the value of struct field fd under key.
func (at *cursor[T]) field(key string, fd *fieldDesc) *cursor[T] {
	if st, ok := nestedStruct(fd.typ); ok && at.desc != nil {
		next := &cursor[T]{owner: at.owner, isNew: at.isNew, path: JoinPath(at.path, key), live: at.live}
		next.hops = append(append(make([][]int, 0, len(at.hops)+1), at.hops...), fd.index)
		next.desc = describe(st)
		return next
	}
	if fd.typ == objectType || fd.typ == valueType {
		return at.object(key)
	}
	return at.dead(JoinPath(at.path, key))
}

// object returns the cursor for a payload object under key.
func (at *cursor[T]) object(key string) *cursor[T] {
	return &cursor[T]{owner: at.owner, isNew: at.isNew, path: JoinPath(at.path, key), live: at.live}
}

// dead returns a cursor for copies that never resolve foreign keys.
func (at *cursor[T]) dead(path string) *cursor[T] {
	return &cursor[T]{owner: at.owner, isNew: at.isNew, path: path}
}

// route hands key to the dependency registered for it when the object at
// can hold the dependency's resolved field.
func (c *Cache[T]) route(at *cursor[T], key string, v value.Value) bool {
	if !at.live {
		return false
	}
	d := c.dependencyFor(key)
	if d == nil {
		return false
	}
	acc, ok := d.accessAt(at)
	if !ok {
		return false
	}
	d.assign(at.owner, at.path, acc, v, at.isNew)
	return true
}

// mergeRoot merges a top-level payload. The identity key is skipped.
func (c *Cache[T]) mergeRoot(dst *T, payload value.Object, isNew bool) {
	root := reflect.ValueOf(dst).Elem()
	at := c.rootCursor(dst, isNew)
	for _, key := range payload.SortedKeys() {
		if key == c.identity {
			continue
		}
		c.mergeKey(root, c.desc, key, payload[key], at)
	}
}

func (c *Cache[T]) mergeKey(sv reflect.Value, d *typeDesc, key string, src value.Value, at *cursor[T]) {
	if isNull(src) || c.route(at, key, src) {
		return
	}

	fd := d.lookup(key)
	switch {
	case fd == nil && d.extra != nil:
		bag := sv.FieldByIndex(d.extra.index)
		obj, _ := bag.Interface().(value.Object)
		if obj == nil {
			obj = value.Object{}
			bag.Set(reflect.ValueOf(obj))
		}
		obj[key] = c.mergeDynamic(obj[key], src, at.object(key))
	case fd == nil:
		c.logger.Debug("ignoring unknown payload field",
			"cache", c.typeName,
			"field", JoinPath(at.path, key),
		)
	case fd.kind == kindRef || fd.kind == kindRefSlice:
		c.logger.Debug("ignoring payload for resolved field",
			"cache", c.typeName,
			"field", JoinPath(at.path, key),
		)
	default:
		c.mergeValue(sv.FieldByIndex(fd.index), src, at.field(key, fd))
	}
}

// mergeValue merges src into the settable dst and reports whether dst
// accepted it. at locates dst.
func (c *Cache[T]) mergeValue(dst reflect.Value, src value.Value, at *cursor[T]) bool {
	if isNull(src) {
		return false
	}

	switch dst.Type() {
	case valueType:
		var old value.Value
		if !dst.IsNil() {
			old = dst.Interface().(value.Value)
		}
		dst.Set(reflect.ValueOf(c.mergeDynamic(old, src, at)))
		return true
	case objectType:
		if _, ok := src.(value.Object); !ok {
			return c.mismatch(dst, src, at.path)
		}
		old, _ := dst.Interface().(value.Object)
		dst.Set(reflect.ValueOf(c.mergeDynamic(old, src, at)))
		return true
	case arrayType:
		arr, ok := src.(value.Array)
		if !ok {
			return c.mismatch(dst, src, at.path)
		}
		old, _ := dst.Interface().(value.Array)
		dst.Set(reflect.ValueOf(replaceArray(old, arr)))
		return true
	}

	switch dst.Kind() {
	case reflect.Interface:
		if dst.NumMethod() != 0 {
			return c.mismatch(dst, src, at.path)
		}
		dst.Set(reflect.ValueOf(value.ToGo(src)))
		return true

	case reflect.Pointer:
		if !dst.IsNil() {
			return c.mergeValue(dst.Elem(), src, at)
		}
		fresh := reflect.New(dst.Type().Elem())
		if fresh.Elem().Kind() == reflect.Struct {
			// Attach before merging so resolved fields below are
			// reachable from the entity.
			if _, ok := src.(value.Object); !ok {
				return c.mismatch(dst, src, at.path)
			}
			dst.Set(fresh)
			return c.mergeValue(fresh.Elem(), src, at)
		}
		if !c.mergeValue(fresh.Elem(), src, at) {
			return false
		}
		dst.Set(fresh)
		return true

	case reflect.Struct:
		obj, ok := src.(value.Object)
		if !ok {
			return c.mismatch(dst, src, at.path)
		}
		d := describe(dst.Type())
		for _, key := range obj.SortedKeys() {
			c.mergeKey(dst, d, key, obj[key], at)
		}
		return true

	case reflect.Slice:
		arr, ok := src.(value.Array)
		if !ok {
			return c.mismatch(dst, src, at.path)
		}
		elemType := dst.Type().Elem()
		fresh := reflect.MakeSlice(dst.Type(), 0, len(arr))
		for i, elem := range arr {
			tmp := reflect.New(elemType).Elem()
			if c.mergeValue(tmp, elem, at.dead(fmt.Sprintf("%s[%d]", at.path, i))) {
				fresh = reflect.Append(fresh, tmp)
			}
		}
		if dst.IsNil() {
			dst.Set(fresh)
			return true
		}
		// Reuses the backing array only while fresh fits its capacity.
		dst.Set(reflect.AppendSlice(dst.Slice(0, 0), fresh))
		return true

	case reflect.Map:
		obj, ok := src.(value.Object)
		if !ok || dst.Type().Key().Kind() != reflect.String {
			return c.mismatch(dst, src, at.path)
		}
		if dst.IsNil() {
			dst.Set(reflect.MakeMapWithSize(dst.Type(), len(obj)))
		}
		elemType := dst.Type().Elem()
		for _, key := range obj.SortedKeys() {
			k := reflect.ValueOf(key).Convert(dst.Type().Key())
			tmp := reflect.New(elemType).Elem()
			if old := dst.MapIndex(k); old.IsValid() {
				tmp.Set(old)
			}
			if c.mergeValue(tmp, obj[key], at.dead(JoinPath(at.path, key))) {
				dst.SetMapIndex(k, tmp)
			}
		}
		return true
	}

	if setScalar(dst, src) {
		return true
	}
	return c.mismatch(dst, src, at.path)
}

func (c *Cache[T]) mismatch(dst reflect.Value, src value.Value, path string) bool {
	c.logger.Warn("payload field type mismatch, skipping",
		"cache", c.typeName,
		"field", path,
		"want", dst.Type().String(),
		"got", value.KindOf(src),
	)
	return false
}

func setScalar(dst reflect.Value, src value.Value) bool {
	k := dst.Kind()
	switch {
	case k == reflect.String:
		s, ok := src.(value.String)
		if !ok {
			return false
		}
		dst.SetString(string(s))
	case k == reflect.Bool:
		b, ok := src.(value.Bool)
		if !ok {
			return false
		}
		dst.SetBool(bool(b))
	case isIntKind(k):
		n, ok := value.AsInt(src)
		if !ok || dst.OverflowInt(n) {
			return false
		}
		dst.SetInt(n)
	case isUintKind(k):
		n, ok := value.AsInt(src)
		if !ok || n < 0 || dst.OverflowUint(uint64(n)) {
			return false
		}
		dst.SetUint(uint64(n))
	case k == reflect.Float32 || k == reflect.Float64:
		switch v := src.(type) {
		case value.Int:
			dst.SetFloat(float64(v))
		case value.Float:
			dst.SetFloat(float64(v))
		default:
			return false
		}
	default:
		return false
	}
	return true
}

// mergeDynamic merges src into old for untyped values. Objects merge key
// by key, arrays are replaced in place, everything else is overwritten.
// Foreign keys inside objects resolve when at is live.
func (c *Cache[T]) mergeDynamic(old, src value.Value, at *cursor[T]) value.Value {
	switch s := src.(type) {
	case nil, value.Null:
		return old
	case value.Object:
		o, ok := old.(value.Object)
		if !ok || o == nil {
			o = make(value.Object, len(s))
		}
		for _, k := range s.SortedKeys() {
			if isNull(s[k]) || c.route(at, k, s[k]) {
				continue
			}
			o[k] = c.mergeDynamic(o[k], s[k], at.object(k))
		}
		return o
	case value.Array:
		o, _ := old.(value.Array)
		return replaceArray(o, s)
	default:
		return src
	}
}

func replaceArray(old, src value.Array) value.Array {
	if old == nil {
		return value.Clone(src).(value.Array)
	}
	out := old[:0]
	for _, elem := range src {
		out = append(out, value.Clone(elem))
	}
	return out
}

func isNull(v value.Value) bool {
	switch v.(type) {
	case nil, value.Null:
		return true
	}
	return false
}
