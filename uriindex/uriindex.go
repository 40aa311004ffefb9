// Package uriindex maps normalized schema ids to their raw documents.
package uriindex

import (
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/schemabind/schemabind/schemadoc"
)

// InvalidURIError reports a reference that could not be normalized.
type InvalidURIError struct {
	URI    string
	Reason string
}

func (e *InvalidURIError) Error() string {
	return fmt.Sprintf("invalid schema uri %q: %s", e.URI, e.Reason)
}

// UnknownSchemaError reports a lookup of an id that was never loaded.
type UnknownSchemaError struct {
	ID schemadoc.ID
}

func (e *UnknownSchemaError) Error() string {
	return fmt.Sprintf("unknown schema %q", e.ID)
}

// Normalize resolves uri against base and returns it in canonical form:
// lowercase scheme and host, no trailing slash on the path, fragment kept
// separate from the base id. base may be empty for absolute references.
func Normalize(uri string, base schemadoc.ID) (schemadoc.ID, error) {
	if strings.TrimSpace(uri) == "" {
		return "", &InvalidURIError{URI: uri, Reason: "empty reference"}
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return "", &InvalidURIError{URI: uri, Reason: err.Error()}
	}
	if base != "" {
		b, err := url.Parse(string(base))
		if err != nil {
			return "", &InvalidURIError{URI: string(base), Reason: err.Error()}
		}
		ref = b.ResolveReference(ref)
	}
	if !ref.IsAbs() {
		return "", &InvalidURIError{URI: uri, Reason: "not absolute and no base to resolve against"}
	}
	ref.Scheme = strings.ToLower(ref.Scheme)
	ref.Host = strings.ToLower(ref.Host)
	ref.Path = strings.TrimSuffix(ref.Path, "/")
	return schemadoc.ID(ref.String()), nil
}

// Split separates an id into its base document id and fragment pointer.
func Split(id schemadoc.ID) (schemadoc.ID, string) {
	s := string(id)
	if i := strings.Index(s, "#"); i >= 0 {
		return schemadoc.ID(s[:i]), s[i+1:]
	}
	return id, ""
}

// Index is the id to raw document mapping. Reads are concurrent; writers
// are expected to serialize load batches above this layer.
type Index struct {
	mu   sync.RWMutex
	docs map[schemadoc.ID]schemadoc.Document
}

func New() *Index {
	return &Index{docs: make(map[schemadoc.ID]schemadoc.Document)}
}

// Put stores or overwrites a document. Replacing an id with different
// content is allowed, last write wins, but is logged as a conflict.
func (x *Index) Put(id schemadoc.ID, doc schemadoc.Document) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if prev, ok := x.docs[id]; ok && !reflect.DeepEqual(prev, doc) {
		slog.Warn("schema id conflict, replacing previous document", "id", string(id))
	}
	x.docs[id] = doc
}

func (x *Index) Get(id schemadoc.ID) (schemadoc.Document, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	doc, ok := x.docs[id]
	if !ok {
		return nil, &UnknownSchemaError{ID: id}
	}
	return doc, nil
}

func (x *Index) Contains(id schemadoc.ID) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.docs[id]
	return ok
}

// IDs returns every stored id, sorted.
func (x *Index) IDs() []schemadoc.ID {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ids := make([]schemadoc.ID, 0, len(x.docs))
	for id := range x.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}
