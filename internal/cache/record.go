package cache

import "github.com/roach88/entitycache/internal/value"

// Record is an entity whose shape is only known at runtime. Every payload
// field other than the identity and registered foreign keys is kept in
// Fields; resolved dependencies live in Links keyed by resolved field. A
// key found on a nested object links under the object's path, so
// {"shipping": {"customerId": 5}} resolves Links["shipping.customer"].
type Record struct {
	ID     int64                    `cache:",identity"`
	Fields value.Object             `cache:",extra"`
	Links  map[string][]Ref[Record] `cache:",links"`
}

// Field returns a stored payload field.
func (r *Record) Field(name string) (value.Value, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Link returns the first resolved entity under name.
func (r *Record) Link(name string) (*Record, bool) {
	refs := r.Links[name]
	if len(refs) == 0 {
		return nil, false
	}
	return refs[0].Get()
}

// LinkList returns the entities under name slot by slot; unresolved slots
// are nil.
func (r *Record) LinkList(name string) []*Record {
	refs := r.Links[name]
	if refs == nil {
		return nil
	}
	out := make([]*Record, len(refs))
	for i, ref := range refs {
		out[i], _ = ref.Get()
	}
	return out
}
