package schema

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/entitycache/internal/cache"
)

//go:embed schema.cue
var schemaCUE string

// Schema is a compiled cache topology.
type Schema struct {
	Caches []CacheSpec
}

// CacheSpec declares one cache.
type CacheSpec struct {
	Name         string
	Identity     string
	Dependencies []DependencySpec
}

// DependencySpec declares one foreign key of a cache.
type DependencySpec struct {
	Target     string
	ForeignKey string
	Field      string
}

// Cache returns the spec named name.
func (s *Schema) Cache(name string) (CacheSpec, bool) {
	for _, c := range s.Caches {
		if c.Name == name {
			return c, true
		}
	}
	return CacheSpec{}, false
}

// CompileString compiles CUE source text. filename is used in positions.
func CompileString(src, filename string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	return Compile(v)
}

// LoadDir loads every CUE file in dir as one instance and compiles it.
func LoadDir(dir string) (*Schema, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("scanning %s: %v", dir, err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	if inst := instances[0]; inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	ctx := cuecontext.New()
	v := ctx.BuildInstance(instances[0])
	if err := v.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return Compile(v)
}

// Compile validates v against the topology schema and extracts the caches
// in declaration order, with defaults filled in.
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, fromCUE(err)
	}

	def := v.Context().CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Schema"))
	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fromCUE(err)
	}

	cachesVal := unified.LookupPath(cue.ParsePath("cache"))
	if !cachesVal.Exists() {
		return nil, &CompileError{Field: "cache", Message: "at least one cache is required", Pos: v.Pos()}
	}
	iter, err := cachesVal.Fields()
	if err != nil {
		return nil, fromCUE(err)
	}

	s := &Schema{}
	for iter.Next() {
		spec, err := compileCache(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		s.Caches = append(s.Caches, spec)
	}
	if len(s.Caches) == 0 {
		return nil, &CompileError{Field: "cache", Message: "at least one cache is required", Pos: cachesVal.Pos()}
	}

	if err := s.validate(cachesVal); err != nil {
		return nil, err
	}
	return s, nil
}

func compileCache(name string, v cue.Value) (CacheSpec, error) {
	spec := CacheSpec{Name: name, Identity: cache.DefaultKeyName(name)}

	if idVal := v.LookupPath(cue.ParsePath("identity")); idVal.Exists() {
		id, err := idVal.String()
		if err != nil {
			return spec, fromCUE(err)
		}
		spec.Identity = id
	}

	depsVal := v.LookupPath(cue.ParsePath("dependency"))
	if !depsVal.Exists() {
		return spec, nil
	}
	list, err := depsVal.List()
	if err != nil {
		return spec, fromCUE(err)
	}
	for list.Next() {
		dep, err := compileDependency(list.Value())
		if err != nil {
			return spec, err
		}
		spec.Dependencies = append(spec.Dependencies, dep)
	}
	return spec, nil
}

func compileDependency(v cue.Value) (DependencySpec, error) {
	var dep DependencySpec

	target, err := v.LookupPath(cue.ParsePath("target")).String()
	if err != nil {
		return dep, fromCUE(err)
	}
	dep.Target = target
	dep.ForeignKey = cache.DefaultKeyName(target)
	dep.Field = target

	if fk := v.LookupPath(cue.ParsePath("foreignKey")); fk.Exists() {
		if dep.ForeignKey, err = fk.String(); err != nil {
			return dep, fromCUE(err)
		}
	}
	if field := v.LookupPath(cue.ParsePath("field")); field.Exists() {
		if dep.Field, err = field.String(); err != nil {
			return dep, fromCUE(err)
		}
	}
	return dep, nil
}

// validate checks cross-cache references. Positions point at the cache
// that declared the offending dependency.
func (s *Schema) validate(cachesVal cue.Value) error {
	known := make(map[string]bool, len(s.Caches))
	for _, c := range s.Caches {
		known[c.Name] = true
	}

	for _, c := range s.Caches {
		pos := cachesVal.LookupPath(cue.MakePath(cue.Str(c.Name))).Pos()
		fks := make(map[string]bool, len(c.Dependencies))
		fields := make(map[string]bool, len(c.Dependencies))
		for _, d := range c.Dependencies {
			if !known[d.Target] {
				return topologyError(c.Name, "dependency.target", pos, "depends on unknown cache %q", d.Target)
			}
			if fks[d.ForeignKey] {
				return topologyError(c.Name, "dependency.foreignKey", pos, "duplicate foreign key %q", d.ForeignKey)
			}
			if fields[d.Field] {
				return topologyError(c.Name, "dependency.field", pos, "duplicate resolved field %q", d.Field)
			}
			fks[d.ForeignKey] = true
			fields[d.Field] = true
		}
	}
	return nil
}
