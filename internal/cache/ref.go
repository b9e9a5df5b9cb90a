package cache

import "reflect"

// Ref is a resolved relationship to an entity held by another cache.
//
// A Ref stores the target cache and id rather than a raw pointer, so a
// target that has since been removed is reported as absent.
type Ref[U any] struct {
	cache *Cache[U]
	id    int64
}

// Get returns the live target entity.
func (r Ref[U]) Get() (*U, bool) {
	if r.cache == nil {
		return nil, false
	}
	return r.cache.Get(r.id)
}

// Resolved reports whether the reference was bound to a target.
func (r Ref[U]) Resolved() bool {
	return r.cache != nil
}

// ID returns the bound target id.
func (r Ref[U]) ID() (int64, bool) {
	return r.id, r.cache != nil
}

// refSlot is implemented by *Ref[U]; the resolver binds slots through it
// without knowing U.
type refSlot interface {
	bind(target any, id int64) bool
	reset()
	entityType() reflect.Type
}

func (r *Ref[U]) bind(target any, id int64) bool {
	c, ok := target.(*Cache[U])
	if !ok {
		return false
	}
	r.cache = c
	r.id = id
	return true
}

func (r *Ref[U]) reset() {
	*r = Ref[U]{}
}

func (r *Ref[U]) entityType() reflect.Type {
	return reflect.TypeOf((*U)(nil)).Elem()
}
