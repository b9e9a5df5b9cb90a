package graph

import (
	"github.com/roach88/entitycache/internal/cache"
	"github.com/roach88/entitycache/internal/value"
)

// Snapshot renders every cache as an array of entity objects in id order,
// keyed by cache name.
//
// Each entity carries its identity and stored fields. For every dependency
// the foreign key holds the last requested id (or ids) and the resolved
// field holds the id of the live target, or null while unresolved. Keys
// found on nested objects are rendered inside those objects.
func (g *Graph) Snapshot() value.Object {
	out := make(value.Object, len(g.names))
	for _, name := range g.names {
		c := g.caches[name]
		deps := c.Dependencies()
		entities := c.Entities()
		arr := make(value.Array, 0, len(entities))
		for _, e := range entities {
			arr = append(arr, renderEntity(c, e, deps))
		}
		out[name] = arr
	}
	return out
}

// SnapshotJSON renders Snapshot as canonical JSON.
func (g *Graph) SnapshotJSON() ([]byte, error) {
	return value.MarshalCanonical(g.Snapshot())
}

func renderEntity(c *cache.Cache[cache.Record], e *cache.Record, deps []cache.DependencyInfo) value.Object {
	obj := c.Encode(e)
	for _, d := range deps {
		for _, path := range c.KeyPaths(e, d.ForeignKey) {
			key, _ := c.ForeignKeyAt(e, path, d.ForeignKey)
			renderKey(objectAt(obj, path), key, d, e.Links[cache.JoinPath(path, d.Field)])
		}
	}
	return obj
}

// renderKey writes a foreign key and its resolved ids into holder.
func renderKey(holder value.Object, key cache.ForeignKey, d cache.DependencyInfo, refs []cache.Ref[cache.Record]) {
	if !key.Many {
		holder[d.ForeignKey] = value.Int(key.IDs[0])
		holder[d.Field] = resolvedID(refs, 0)
		return
	}
	ids := make(value.Array, len(key.IDs))
	resolved := make(value.Array, len(key.IDs))
	for i, id := range key.IDs {
		ids[i] = value.Int(id)
		resolved[i] = resolvedID(refs, i)
	}
	holder[d.ForeignKey] = ids
	holder[d.Field] = resolved
}

// objectAt returns the nested object of obj at the dotted path, creating
// missing levels.
func objectAt(obj value.Object, path string) value.Object {
	for _, key := range cache.SplitPath(path) {
		next, ok := obj[key].(value.Object)
		if !ok {
			next = value.Object{}
			obj[key] = next
		}
		obj = next
	}
	return obj
}

func resolvedID(refs []cache.Ref[cache.Record], i int) value.Value {
	if i >= len(refs) {
		return value.Null{}
	}
	target, ok := refs[i].Get()
	if !ok {
		return value.Null{}
	}
	return value.Int(target.ID)
}
