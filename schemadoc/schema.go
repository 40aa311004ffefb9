// Package schemadoc holds the raw representation of JSON schema documents
// and the few structural helpers everything else is built on.
package schemadoc

import (
	"fmt"
	"strings"
)

// ID is a normalized schema identifier. Schema ids are both unique names
// and URIs; keeping them as a distinct type keeps the registry honest about
// which strings have been through normalization.
type ID string

// Document is an as-loaded schema document. Values are the usual JSON
// shapes: map[string]any, []any, string, float64, bool, nil.
type Document map[string]any

// Schema keywords recognized by the resolver and binding generator.
const (
	KeywordID          = "id"
	KeywordRef         = "$ref"
	KeywordLazyRef     = "$lazyRef"
	KeywordType        = "type"
	KeywordProperties  = "properties"
	KeywordRequired    = "required"
	KeywordItems       = "items"
	KeywordAdditional  = "additionalProperties"
	KeywordAllOf       = "allOf"
	KeywordAnyOf       = "anyOf"
	KeywordOneOf       = "oneOf"
	KeywordDescription = "description"
)

// DeclaredID returns the document's top level id, if any.
func (d Document) DeclaredID() (string, bool) {
	s, ok := d[KeywordID].(string)
	return s, ok && s != ""
}

// NewLazyRef builds a cycle-breaking node that stands in for a schema that
// would otherwise be inlined forever.
func NewLazyRef(id ID) Document {
	return Document{KeywordLazyRef: string(id)}
}

// LazyRefTarget reports whether d is a lazy reference node and, if so, the
// id it points at.
func LazyRefTarget(d Document) (ID, bool) {
	s, ok := d[KeywordLazyRef].(string)
	return ID(s), ok && s != ""
}

// DeepCopy copies a document so callers can substitute into it without
// mutating what the index stores.
func DeepCopy(d Document) Document {
	return copyValue(d).(Document)
}

func copyValue(v any) any {
	switch t := v.(type) {
	case Document:
		out := make(Document, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case map[string]any:
		out := make(Document, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// ToPlain rewrites a document tree using only plain map[string]any and
// []any nodes, the shapes external collaborators expect to see.
func ToPlain(d Document) map[string]any {
	return plainValue(d).(map[string]any)
}

func plainValue(v any) any {
	switch t := v.(type) {
	case Document:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = plainValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = plainValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	default:
		return v
	}
}

// AsDocument unwraps a traversal value into a Document when it is one.
func AsDocument(v any) (Document, bool) {
	switch t := v.(type) {
	case Document:
		return t, true
	case map[string]any:
		return Document(t), true
	default:
		return nil, false
	}
}

// EvalPointer walks a JSON pointer ("/definitions/name") into a document.
// An empty pointer returns the document itself.
func EvalPointer(d Document, pointer string) (any, error) {
	if pointer == "" {
		return d, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("json pointer must start with '/': %q", pointer)
	}
	var cur any = d
	for _, raw := range strings.Split(pointer[1:], "/") {
		token := strings.ReplaceAll(strings.ReplaceAll(raw, "~1", "/"), "~0", "~")
		m, ok := AsDocument(cur)
		if !ok {
			return nil, fmt.Errorf("json pointer %q walks through a non-object", pointer)
		}
		cur, ok = m[token]
		if !ok {
			return nil, fmt.Errorf("json pointer %q: no member %q", pointer, token)
		}
	}
	return cur, nil
}

// ValidationError is one failure reported by the validation collaborator.
// Path is a JSON pointer into the instance.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}
