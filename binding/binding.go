// Package binding turns resolved schemas into type descriptors and
// dictionary-backed instances of them.
package binding

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/schemabind/schemabind/schemadoc"
	"github.com/schemabind/schemabind/uriindex"
)

type Kind int

const (
	KindAny Kind = iota
	KindString
	KindNumber
	KindInteger
	KindBoolean
	KindNull
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindInteger:
		return "integer"
	case KindBoolean:
		return "boolean"
	case KindNull:
		return "null"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "any"
	}
}

// Field is one entry of a descriptor's field table.
type Field struct {
	Key      string // original JSON key
	Name     string // target identifier per the naming convention
	Kind     Kind
	Required bool

	// Ref is set for object fields whose descriptor was built eagerly.
	// LazyID is set instead when the field sits on a cycle boundary; the
	// nested descriptor is built on first use via Nested.
	Ref    *TypeDescriptor
	LazyID schemadoc.ID

	// Elem describes the element of an array field.
	Elem *Field
}

// TypeDescriptor is the generated contract for one schema id. Descriptors
// are cached by id; generating twice returns the same instance.
type TypeDescriptor struct {
	ID       schemadoc.ID
	TypeName string
	Doc      string
	Fields   []Field

	byName map[string]int
	byKey  map[string]int
	gen    *Generator
}

// Field looks a field up by target identifier or original JSON key.
func (d *TypeDescriptor) Field(name string) (*Field, bool) {
	if i, ok := d.byName[name]; ok {
		return &d.Fields[i], true
	}
	if i, ok := d.byKey[name]; ok {
		return &d.Fields[i], true
	}
	return nil, false
}

// Required returns the identifiers of the schema's required fields.
func (d *TypeDescriptor) Required() []string {
	var out []string
	for _, f := range d.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Nested materializes the descriptor behind a lazy field.
func (f *Field) Nested(ctx context.Context, d *TypeDescriptor) (*TypeDescriptor, error) {
	if f.Ref != nil {
		return f.Ref, nil
	}
	if f.LazyID == "" {
		return nil, fmt.Errorf("field %q has no nested type", f.Name)
	}
	return d.gen.Descriptor(ctx, f.LazyID)
}

// NamingCollisionError reports two JSON keys translating to the same
// target identifier. Raised at generation time, never at use time.
type NamingCollisionError struct {
	ID   schemadoc.ID
	Name string
	Keys [2]string
}

func (e *NamingCollisionError) Error() string {
	return fmt.Sprintf("schema %q: keys %q and %q both map to identifier %q",
		e.ID, e.Keys[0], e.Keys[1], e.Name)
}

// ResolveFunc returns the fully dereferenced schema for an id.
type ResolveFunc func(ctx context.Context, id schemadoc.ID) (schemadoc.Document, error)

// ValidateFunc is the external validation collaborator.
type ValidateFunc func(ctx context.Context, instance any, id schemadoc.ID) ([]schemadoc.ValidationError, error)

// Generator builds and caches type descriptors.
type Generator struct {
	resolve    ResolveFunc
	validate   ValidateFunc
	convention Convention

	mu     sync.Mutex
	cache  map[schemadoc.ID]*TypeDescriptor
	flight singleflight.Group
}

func NewGenerator(resolve ResolveFunc, validate ValidateFunc, convention Convention) *Generator {
	if convention == nil {
		convention = SnakeCase
	}
	return &Generator{
		resolve:    resolve,
		validate:   validate,
		convention: convention,
		cache:      make(map[schemadoc.ID]*TypeDescriptor),
	}
}

// Descriptor resolves id and generates its descriptor, reusing the cache.
// Concurrent calls for an uncached id wait on a single computation.
func (g *Generator) Descriptor(ctx context.Context, id schemadoc.ID) (*TypeDescriptor, error) {
	if d, ok := g.cached(id); ok {
		return d, nil
	}
	v, err, _ := g.flight.Do(string(id), func() (any, error) {
		if d, ok := g.cached(id); ok {
			return d, nil
		}
		resolved, err := g.resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		return g.generate(ctx, id, resolved, make(map[schemadoc.ID]bool))
	})
	if err != nil {
		return nil, err
	}
	return v.(*TypeDescriptor), nil
}

// Generate builds the descriptor for a resolved schema. Safe to call again
// for the same id, concurrently or not; every caller gets the one cached
// instance.
func (g *Generator) Generate(ctx context.Context, id schemadoc.ID, resolved schemadoc.Document) (*TypeDescriptor, error) {
	if d, ok := g.cached(id); ok {
		return d, nil
	}
	v, err, _ := g.flight.Do(string(id), func() (any, error) {
		return g.generate(ctx, id, resolved, make(map[schemadoc.ID]bool))
	})
	if err != nil {
		return nil, err
	}
	return v.(*TypeDescriptor), nil
}

func (g *Generator) cached(id schemadoc.ID) (*TypeDescriptor, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.cache[id]
	return d, ok
}

// insert stores d unless another build got there first; the first instance
// wins so cache identity holds.
func (g *Generator) insert(id schemadoc.ID, d *TypeDescriptor) *TypeDescriptor {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.cache[id]; ok {
		return existing
	}
	g.cache[id] = d
	return d
}

// generate does the actual build. building is the set of ids on the
// current recursion path; nested generation shares it, separate calls get
// their own.
func (g *Generator) generate(ctx context.Context, id schemadoc.ID, resolved schemadoc.Document, building map[schemadoc.ID]bool) (*TypeDescriptor, error) {
	if d, ok := g.cached(id); ok {
		return d, nil
	}
	if building[id] {
		// A nested schema is asking for an ancestor mid-build. Should
		// not happen: cycles arrive as lazy nodes. Refuse rather than
		// recurse forever.
		return nil, fmt.Errorf("generation of %q is already in progress", id)
	}
	building[id] = true
	defer delete(building, id)

	d := &TypeDescriptor{
		ID:       id,
		TypeName: TypeNameFor(id),
		byName:   make(map[string]int),
		byKey:    make(map[string]int),
		gen:      g,
	}
	if doc, ok := resolved[schemadoc.KeywordDescription].(string); ok {
		d.Doc = doc
	}

	required := requiredSet(resolved)
	props, _ := schemadoc.AsDocument(resolved[schemadoc.KeywordProperties])
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	nameToKey := make(map[string]string, len(keys))
	for _, key := range keys {
		prop, _ := schemadoc.AsDocument(props[key])
		f, err := g.fieldFor(ctx, id, key, prop, building)
		if err != nil {
			return nil, err
		}
		f.Required = required[key]
		if prev, ok := nameToKey[f.Name]; ok {
			return nil, &NamingCollisionError{ID: id, Name: f.Name, Keys: [2]string{prev, key}}
		}
		nameToKey[f.Name] = key
		d.byName[f.Name] = len(d.Fields)
		d.byKey[f.Key] = len(d.Fields)
		d.Fields = append(d.Fields, f)
	}

	return g.insert(id, d), nil
}

func (g *Generator) fieldFor(ctx context.Context, parent schemadoc.ID, key string, prop schemadoc.Document, building map[schemadoc.ID]bool) (Field, error) {
	f := Field{Key: key, Name: g.convention(key)}
	if prop == nil {
		return f, nil
	}

	if target, ok := schemadoc.LazyRefTarget(prop); ok {
		f.Kind = KindObject
		f.LazyID = target
		return f, nil
	}

	switch typeOf(prop) {
	case "string":
		f.Kind = KindString
	case "number":
		f.Kind = KindNumber
	case "integer":
		f.Kind = KindInteger
	case "boolean":
		f.Kind = KindBoolean
	case "null":
		f.Kind = KindNull
	case "array":
		f.Kind = KindArray
		items, _ := schemadoc.AsDocument(prop[schemadoc.KeywordItems])
		elem, err := g.fieldFor(ctx, parent, key+"/items", items, building)
		if err != nil {
			return f, err
		}
		elem.Key, elem.Name = "", ""
		f.Elem = &elem
	case "object":
		f.Kind = KindObject
		nested, err := g.nestedDescriptor(ctx, parent, key, prop, building)
		if err != nil {
			return f, err
		}
		f.Ref = nested
	default:
		f.Kind = KindAny
	}
	return f, nil
}

// nestedDescriptor builds a descriptor for an object property: by its own
// id when it declares one, otherwise anonymously scoped to the parent. It
// recurses into generate directly so the build stays on one goroutine.
func (g *Generator) nestedDescriptor(ctx context.Context, parent schemadoc.ID, key string, prop schemadoc.Document, building map[schemadoc.ID]bool) (*TypeDescriptor, error) {
	id := anonymousID(parent, key)
	if declared, ok := prop.DeclaredID(); ok {
		normalized, err := uriindex.Normalize(declared, "")
		if err != nil {
			return nil, err
		}
		id = normalized
	}
	return g.generate(ctx, id, prop, building)
}

func anonymousID(parent schemadoc.ID, key string) schemadoc.ID {
	s := string(parent)
	if strings.ContainsRune(s, '#') {
		return schemadoc.ID(s + "/properties/" + key)
	}
	return schemadoc.ID(s + "#/properties/" + key)
}

func typeOf(prop schemadoc.Document) string {
	switch t := prop[schemadoc.KeywordType].(type) {
	case string:
		return t
	case []any:
		// union types keep the first declaration, consistent with the
		// resolver's composite handling
		for _, e := range t {
			if s, ok := e.(string); ok {
				return s
			}
		}
	}
	if _, ok := schemadoc.AsDocument(prop[schemadoc.KeywordProperties]); ok {
		return "object"
	}
	if _, ok := schemadoc.AsDocument(prop[schemadoc.KeywordItems]); ok {
		return "array"
	}
	return ""
}

func requiredSet(doc schemadoc.Document) map[string]bool {
	out := make(map[string]bool)
	req, _ := doc[schemadoc.KeywordRequired].([]any)
	for _, e := range req {
		if s, ok := e.(string); ok {
			out[s] = true
		}
	}
	return out
}
