// Package validator adapts github.com/santhosh-tekuri/jsonschema as the
// validation collaborator. Every document in the index is handed to the
// compiler as a local resource, so nested $refs resolve without touching
// the network.
package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/schemabind/schemabind/schemadoc"
	"github.com/schemabind/schemabind/uriindex"
)

// Validator compiles registered schemas on demand and caches the result
// per id. Compiled entries are dropped whenever the index grows, so a
// validate after a late load sees the new documents.
type Validator struct {
	// AllowNetwork permits the compiler to chase refs that are missing
	// from the index. Off by default; unresolved remote refs become
	// compile errors instead of silent fetches.
	AllowNetwork bool

	index *uriindex.Index

	mu       sync.Mutex
	compiled map[schemadoc.ID]*jsonschema.Schema
	seen     int
}

func New(index *uriindex.Index) *Validator {
	return &Validator{
		index:    index,
		compiled: make(map[schemadoc.ID]*jsonschema.Schema),
	}
}

// Validate checks instance against the schema stored under id. Validation
// findings come back as the slice; the error return is for infrastructure
// problems only (unknown schema, compile failure).
func (v *Validator) Validate(ctx context.Context, instance any, id schemadoc.ID) ([]schemadoc.ValidationError, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sch, err := v.schema(id)
	if err != nil {
		return nil, err
	}
	err = sch.Validate(instance)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}
	return flatten(ve), nil
}

func (v *Validator) schema(id schemadoc.ID) (*jsonschema.Schema, error) {
	base, _ := uriindex.Split(id)
	if !v.index.Contains(base) {
		return nil, &uriindex.UnknownSchemaError{ID: base}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if n := v.index.Len(); n != v.seen {
		v.compiled = make(map[schemadoc.ID]*jsonschema.Schema)
		v.seen = n
	}
	if sch, ok := v.compiled[id]; ok {
		return sch, nil
	}

	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft4)
	if !v.AllowNetwork {
		c.UseLoader(refuseLoader{})
	}
	for _, known := range v.index.IDs() {
		doc, err := v.index.Get(known)
		if err != nil {
			continue
		}
		if err := c.AddResource(string(known), schemadoc.ToPlain(doc)); err != nil {
			return nil, fmt.Errorf("register schema %q: %w", known, err)
		}
	}
	sch, err := c.Compile(string(id))
	if err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", id, err)
	}
	v.compiled[id] = sch
	return sch, nil
}

// refuseLoader rejects every URL the compiler cannot satisfy from its
// registered resources.
type refuseLoader struct{}

func (refuseLoader) Load(url string) (any, error) {
	return nil, fmt.Errorf("remote schema resolution disabled: %s", url)
}

// flatten walks the cause tree down to the leaves, reporting each as a
// json-pointer path plus message.
func flatten(ve *jsonschema.ValidationError) []schemadoc.ValidationError {
	p := message.NewPrinter(language.English)
	var errs []schemadoc.ValidationError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			errs = append(errs, schemadoc.ValidationError{
				Path:    instancePointer(e.InstanceLocation),
				Message: e.ErrorKind.LocalizedString(p),
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return errs
}

func instancePointer(tokens []string) string {
	var b strings.Builder
	for _, t := range tokens {
		t = strings.ReplaceAll(strings.ReplaceAll(t, "~", "~0"), "/", "~1")
		b.WriteString("/")
		b.WriteString(t)
	}
	return b.String()
}
