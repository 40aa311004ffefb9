// Package registry orchestrates schema loading, reference resolution and
// binding generation over a single in-process index.
package registry

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/schemabind/schemabind/binding"
	"github.com/schemabind/schemabind/fetch"
	"github.com/schemabind/schemabind/resolver"
	"github.com/schemabind/schemabind/schemadoc"
	"github.com/schemabind/schemabind/uriindex"
	"github.com/schemabind/schemabind/validator"
)

// Validator is the external validation collaborator.
type Validator interface {
	Validate(ctx context.Context, instance any, id schemadoc.ID) ([]schemadoc.ValidationError, error)
}

type Registry struct {
	index *uriindex.Index
	res   *resolver.Resolver
	val   Validator
	gen   *binding.Generator

	// loads are serialized; resolve/create run concurrently once loading
	// has quiesced
	loadMu sync.Mutex

	resolveMu sync.RWMutex
	resolved  map[schemadoc.ID]schemadoc.Document
	flight    singleflight.Group
}

type Option func(*config)

type config struct {
	fetcher    resolver.Fetcher
	validator  Validator
	convention binding.Convention
}

// WithFetcher overrides the network fallback used for external refs.
func WithFetcher(f resolver.Fetcher) Option {
	return func(c *config) { c.fetcher = f }
}

// WithValidator overrides the validation collaborator.
func WithValidator(v Validator) Option {
	return func(c *config) { c.validator = v }
}

// WithConvention overrides the naming convention for generated bindings.
func WithConvention(conv binding.Convention) Option {
	return func(c *config) { c.convention = conv }
}

func New(opts ...Option) *Registry {
	c := config{
		fetcher:    fetch.NewClient(fetch.DefaultTimeout),
		convention: binding.SnakeCase,
	}
	for _, opt := range opts {
		opt(&c)
	}

	r := &Registry{
		index:    uriindex.New(),
		resolved: make(map[schemadoc.ID]schemadoc.Document),
	}
	r.res = resolver.New(r.index, c.fetcher)
	if c.validator != nil {
		r.val = c.validator
	} else {
		r.val = validator.New(r.index)
	}
	r.gen = binding.NewGenerator(r.Resolve, r.val.Validate, c.convention)
	return r
}

// Index exposes the underlying id index.
func (r *Registry) Index() *uriindex.Index { return r.index }

// IDs lists every loaded schema id, sorted.
func (r *Registry) IDs() []schemadoc.ID { return r.index.IDs() }

// Contains reports whether id has been loaded.
func (r *Registry) Contains(id schemadoc.ID) bool { return r.index.Contains(id) }

// Raw returns the as-loaded document for id.
func (r *Registry) Raw(id schemadoc.ID) (schemadoc.Document, error) {
	return r.index.Get(id)
}

// Resolve returns the fully dereferenced schema for id, computing it at
// most once per id across concurrent callers. A failed resolution leaves
// no trace; retrying is allowed.
func (r *Registry) Resolve(ctx context.Context, id schemadoc.ID) (schemadoc.Document, error) {
	nid, err := uriindex.Normalize(string(id), "")
	if err != nil {
		return nil, err
	}
	base, _ := uriindex.Split(nid)
	if !r.index.Contains(base) {
		return nil, &uriindex.UnknownSchemaError{ID: base}
	}

	r.resolveMu.RLock()
	doc, ok := r.resolved[nid]
	r.resolveMu.RUnlock()
	if ok {
		return doc, nil
	}

	v, err, _ := r.flight.Do(string(nid), func() (any, error) {
		r.resolveMu.RLock()
		doc, ok := r.resolved[nid]
		r.resolveMu.RUnlock()
		if ok {
			return doc, nil
		}
		out, err := r.res.Resolve(ctx, nid)
		if err != nil {
			return nil, err
		}
		r.resolveMu.Lock()
		r.resolved[nid] = out
		r.resolveMu.Unlock()
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(schemadoc.Document), nil
}

// CreateClass resolves id and returns its generated type descriptor. The
// descriptor is cached; calling again for the same id returns the same
// instance.
func (r *Registry) CreateClass(ctx context.Context, id schemadoc.ID) (*binding.TypeDescriptor, error) {
	nid, err := uriindex.Normalize(string(id), "")
	if err != nil {
		return nil, err
	}
	return r.gen.Descriptor(ctx, nid)
}

// Validate checks an instance against a registered schema without going
// through a generated binding.
func (r *Registry) Validate(ctx context.Context, instance any, id schemadoc.ID) ([]schemadoc.ValidationError, error) {
	nid, err := uriindex.Normalize(string(id), "")
	if err != nil {
		return nil, err
	}
	return r.val.Validate(ctx, instance, nid)
}

// FindUnresolved walks every stored document and reports referenced ids
// that are not present in the index.
func (r *Registry) FindUnresolved() []schemadoc.ID {
	seen := make(map[schemadoc.ID]bool)
	var out []schemadoc.ID
	for _, id := range r.index.IDs() {
		doc, err := r.index.Get(id)
		if err != nil {
			continue
		}
		for _, ref := range collectRefs(doc, nil) {
			target, err := uriindex.Normalize(ref, id)
			if err != nil {
				continue
			}
			base, _ := uriindex.Split(target)
			if r.index.Contains(base) || seen[base] {
				continue
			}
			seen[base] = true
			out = append(out, base)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func collectRefs(v any, acc []string) []string {
	switch val := v.(type) {
	case schemadoc.Document, map[string]any:
		doc, _ := schemadoc.AsDocument(val)
		if ref, ok := doc[schemadoc.KeywordRef].(string); ok {
			acc = append(acc, ref)
		}
		for _, e := range doc {
			acc = collectRefs(e, acc)
		}
	case []any:
		for _, e := range val {
			acc = collectRefs(e, acc)
		}
	}
	return acc
}
