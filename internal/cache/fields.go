package cache

import (
	"reflect"
	"strings"
	"sync"

	"github.com/roach88/entitycache/internal/value"
)

type fieldKind int

const (
	kindPlain fieldKind = iota
	kindRef
	kindRefSlice
	kindExtra
	kindLinks
)

// fieldDesc describes one settable struct field.
type fieldDesc struct {
	name  string
	index []int
	typ   reflect.Type
	kind  fieldKind
	// refElem is the entity type referenced by Ref, []Ref and links fields.
	refElem reflect.Type
}

// typeDesc is the per-type field table used by merge, encode and the
// dependency accessors.
type typeDesc struct {
	typ      reflect.Type
	fields   []*fieldDesc
	byName   map[string]*fieldDesc
	byFold   map[string]*fieldDesc
	identity *fieldDesc
	extra    *fieldDesc
	links    *fieldDesc
}

var (
	descCache sync.Map // reflect.Type -> *typeDesc

	valueType  = reflect.TypeOf((*value.Value)(nil)).Elem()
	objectType = reflect.TypeOf((*value.Object)(nil)).Elem()
	arrayType  = reflect.TypeOf((*value.Array)(nil)).Elem()
	slotType   = reflect.TypeOf((*refSlot)(nil)).Elem()
)

// describe returns the cached descriptor for struct type t.
func describe(t reflect.Type) *typeDesc {
	if d, ok := descCache.Load(t); ok {
		return d.(*typeDesc)
	}
	d, _ := descCache.LoadOrStore(t, buildDesc(t))
	return d.(*typeDesc)
}

func buildDesc(t reflect.Type) *typeDesc {
	d := &typeDesc{
		typ:    t,
		byName: make(map[string]*fieldDesc),
		byFold: make(map[string]*fieldDesc),
	}

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, opts, skip := fieldTag(sf)
		if skip {
			continue
		}

		fd := &fieldDesc{name: name, index: sf.Index, typ: sf.Type}
		switch {
		case hasOpt(opts, "extra"):
			if sf.Type != objectType {
				continue
			}
			fd.kind = kindExtra
			d.extra = fd
			continue
		case hasOpt(opts, "links"):
			elem, ok := linksElem(sf.Type)
			if !ok {
				continue
			}
			fd.kind = kindLinks
			fd.refElem = elem
			d.links = fd
			continue
		}

		if elem, ok := refElem(sf.Type); ok {
			fd.kind = kindRef
			fd.refElem = elem
		} else if sf.Type.Kind() == reflect.Slice {
			if elem, ok := refElem(sf.Type.Elem()); ok {
				fd.kind = kindRefSlice
				fd.refElem = elem
			}
		}

		d.fields = append(d.fields, fd)
		if hasOpt(opts, "identity") {
			d.identity = fd
			continue
		}
		d.byName[name] = fd
		if _, taken := d.byFold[strings.ToLower(name)]; !taken {
			d.byFold[strings.ToLower(name)] = fd
		}
	}
	return d
}

// lookup matches a payload key exactly first, then case-insensitively.
func (d *typeDesc) lookup(key string) *fieldDesc {
	if fd, ok := d.byName[key]; ok {
		return fd
	}
	return d.byFold[strings.ToLower(key)]
}

func fieldTag(sf reflect.StructField) (name string, opts []string, skip bool) {
	tag, ok := sf.Tag.Lookup("cache")
	if !ok {
		tag, ok = sf.Tag.Lookup("json")
	}
	if tag == "-" {
		return "", nil, true
	}
	if ok {
		parts := strings.Split(tag, ",")
		name, opts = parts[0], parts[1:]
	}
	if name == "" {
		name = sf.Name
	}
	return name, opts, false
}

func hasOpt(opts []string, want string) bool {
	for _, o := range opts {
		if o == want {
			return true
		}
	}
	return false
}

// refElem reports the entity type behind a Ref[U] type.
func refElem(t reflect.Type) (reflect.Type, bool) {
	if t.Kind() != reflect.Struct || !reflect.PointerTo(t).Implements(slotType) {
		return nil, false
	}
	return reflect.New(t).Interface().(refSlot).entityType(), true
}

func linksElem(t reflect.Type) (reflect.Type, bool) {
	if t.Kind() != reflect.Map || t.Key().Kind() != reflect.String || t.Elem().Kind() != reflect.Slice {
		return nil, false
	}
	return refElem(t.Elem().Elem())
}

func isIntKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUintKind(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}
