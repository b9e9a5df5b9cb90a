package cache

import (
	"reflect"
	"strings"
)

// slotAccess reaches the resolved field of a dependency: a Ref field, a
// []Ref field, or one entry of a ",links" map when link is set. hops lead
// from the entity to the struct declaring the field; pointers along the
// way are followed.
type slotAccess struct {
	hops  [][]int
	field *fieldDesc
	link  string
}

func (a slotAccess) valid() bool { return a.field != nil }

// holder returns the struct declaring the field, or false when a pointer
// on the way is nil.
func (a slotAccess) holder(root reflect.Value) (reflect.Value, bool) {
	v := root
	for _, index := range a.hops {
		v = v.FieldByIndex(index)
		for v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
	}
	return v, true
}

// prepare shapes the resolved field for n slots and clears them. It
// reports false when the field cannot hold that shape.
func (a slotAccess) prepare(root reflect.Value, n int, many bool) bool {
	h, ok := a.holder(root)
	if !ok {
		return false
	}
	f := h.FieldByIndex(a.field.index)

	switch {
	case a.link != "":
		if !many {
			n = 1
		}
		if f.IsNil() {
			f.Set(reflect.MakeMap(f.Type()))
		}
		key := reflect.ValueOf(a.link).Convert(f.Type().Key())
		f.SetMapIndex(key, resizeRefs(f.MapIndex(key), f.Type().Elem(), n))
		return true

	case a.field.kind == kindRef:
		if many {
			return false
		}
		f.Addr().Interface().(refSlot).reset()
		return true

	case a.field.kind == kindRefSlice:
		if !many {
			return false
		}
		f.Set(resizeRefs(f, f.Type(), n))
		return true
	}
	return false
}

// slot returns the Ref at index i; -1 addresses a single-valued field.
// It returns nil when i is out of range or the holder is gone.
func (a slotAccess) slot(root reflect.Value, i int) refSlot {
	h, ok := a.holder(root)
	if !ok {
		return nil
	}
	f := h.FieldByIndex(a.field.index)

	switch {
	case a.link != "":
		if f.IsNil() {
			return nil
		}
		refs := f.MapIndex(reflect.ValueOf(a.link).Convert(f.Type().Key()))
		if i < 0 {
			i = 0
		}
		if !refs.IsValid() || i >= refs.Len() {
			return nil
		}
		return refs.Index(i).Addr().Interface().(refSlot)

	case a.field.kind == kindRef:
		if i >= 0 {
			return nil
		}
		return f.Addr().Interface().(refSlot)

	case a.field.kind == kindRefSlice:
		if i < 0 || i >= f.Len() {
			return nil
		}
		return f.Index(i).Addr().Interface().(refSlot)
	}
	return nil
}

// accessIn finds field on the struct described by d: a Ref or []Ref field
// referencing elem, or else an entry of d's links map.
func accessIn(d *typeDesc, field string, elem reflect.Type) (slotAccess, error) {
	fd := d.lookup(field)
	if fd == nil {
		links := d.links
		if links == nil {
			return slotAccess{}, argumentError("field", ErrUnknownField,
				"%s has no field %q", d.typ, field)
		}
		if links.refElem != elem {
			return slotAccess{}, argumentError("field", ErrInvalidDependencyType,
				"links of %s reference %s, target holds %s", d.typ, links.refElem, elem)
		}
		return slotAccess{field: links, link: field}, nil
	}

	switch fd.kind {
	case kindRef, kindRefSlice:
		if fd.refElem != elem {
			return slotAccess{}, argumentError("field", ErrInvalidDependencyType,
				"field %q references %s, target holds %s", field, fd.refElem, elem)
		}
		return slotAccess{field: fd}, nil
	default:
		return slotAccess{}, argumentError("field", ErrInvalidDependencyType,
			"field %q is %s, want Ref or []Ref", field, fd.typ)
	}
}

// nestedStruct reports the struct type a plain field holds directly or
// through pointers. Ref fields and payload value types are not nested
// structs.
func nestedStruct(t reflect.Type) (reflect.Type, bool) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, false
	}
	if _, isRef := refElem(t); isRef {
		return nil, false
	}
	return t, true
}

// JoinPath appends key to the dotted payload path of a nested object.
func JoinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// SplitPath is the inverse of JoinPath; the empty path has no segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// resizeRefs returns refs resized to n zeroed slots, reusing its backing
// array when capacity allows.
func resizeRefs(refs reflect.Value, typ reflect.Type, n int) reflect.Value {
	if !refs.IsValid() || refs.IsNil() || refs.Cap() < n {
		return reflect.MakeSlice(typ, n, n)
	}
	out := refs.Slice(0, n)
	zero := reflect.Zero(typ.Elem())
	for i := 0; i < n; i++ {
		out.Index(i).Set(zero)
	}
	return out
}
