package cache

import (
	"reflect"

	"github.com/roach88/entitycache/internal/value"
)

// Put stores caller-built entities. A new id stores the given pointer
// itself; an existing id merges the entity's fields into the stored
// instance. Putting the stored instance again is a no-op.
//
// Foreign keys are read from fields named like the registered keys, or
// from the ",extra" object, on the entity and on its nested objects. Keys
// match the way UpdateOrInsert matches them.
func (c *Cache[T]) Put(entities ...*T) error {
	for _, e := range entities {
		if e == nil {
			continue
		}
		i, found := c.store.find(c.idOf(e))
		if found {
			if stored := c.store.at(i); stored != e {
				c.mergeRoot(stored, c.encode(e), false)
			}
			continue
		}

		if len(c.deps) > 0 {
			c.resolveKeys(c.encode(e), c.rootCursor(e, true))
		}
		c.store.insertAt(i, e)
		if err := c.emitAdded(e); err != nil {
			return err
		}
	}
	return nil
}

// Encode renders e as a payload object. Resolved fields are omitted.
func (c *Cache[T]) Encode(e *T) value.Object {
	obj := c.encode(e)
	obj[c.identity] = value.Int(c.idOf(e))
	return obj
}

func (c *Cache[T]) encode(e *T) value.Object {
	return encodeStruct(reflect.ValueOf(e).Elem(), c.desc)
}

// resolveKeys assigns the foreign keys found in obj, the encoded object
// at, without writing any other field.
func (c *Cache[T]) resolveKeys(obj value.Object, at *cursor[T]) {
	for _, key := range obj.SortedKeys() {
		v := obj[key]
		if isNull(v) || c.route(at, key, v) {
			continue
		}
		nested, ok := v.(value.Object)
		if !ok {
			continue
		}
		next := at.object(key)
		if at.desc != nil {
			if fd := at.desc.lookup(key); fd != nil {
				next = at.field(key, fd)
			}
		}
		c.resolveKeys(nested, next)
	}
}

func encodeStruct(sv reflect.Value, d *typeDesc) value.Object {
	obj := value.Object{}
	for _, fd := range d.fields {
		if fd == d.identity || fd.kind != kindPlain {
			continue
		}
		if v, ok := encodeValue(sv.FieldByIndex(fd.index)); ok {
			obj[fd.name] = v
		}
	}
	if d.extra != nil {
		bag, _ := sv.FieldByIndex(d.extra.index).Interface().(value.Object)
		for k, v := range bag {
			if _, taken := obj[k]; !taken {
				obj[k] = value.Clone(v)
			}
		}
	}
	return obj
}

func encodeValue(v reflect.Value) (value.Value, bool) {
	switch v.Type() {
	case valueType, objectType, arrayType:
		if v.IsNil() {
			return nil, false
		}
		return value.Clone(v.Interface().(value.Value)), true
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil, false
		}
		conv, err := value.FromGo(v.Interface())
		return conv, err == nil
	case reflect.Pointer:
		if v.IsNil() {
			return nil, false
		}
		return encodeValue(v.Elem())
	case reflect.Struct:
		if _, isRef := refElem(v.Type()); isRef {
			return nil, false
		}
		return encodeStruct(v, describe(v.Type())), true
	case reflect.Slice:
		if v.IsNil() {
			return nil, false
		}
		arr := make(value.Array, v.Len())
		for i := range arr {
			elem, ok := encodeValue(v.Index(i))
			if !ok {
				elem = value.Null{}
			}
			arr[i] = elem
		}
		return arr, true
	case reflect.Map:
		if v.IsNil() || v.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		obj := make(value.Object, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			if elem, ok := encodeValue(iter.Value()); ok {
				obj[iter.Key().String()] = elem
			}
		}
		return obj, true
	case reflect.String:
		return value.String(v.String()), true
	case reflect.Bool:
		return value.Bool(v.Bool()), true
	case reflect.Float32, reflect.Float64:
		return value.Float(v.Float()), true
	}
	if isIntKind(v.Kind()) {
		return value.Int(v.Int()), true
	}
	if isUintKind(v.Kind()) {
		return value.Int(int64(v.Uint())), true
	}
	return nil, false
}
