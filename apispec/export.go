// Package apispec renders a schema registry as an OpenAPI document whose
// components are the resolved schemas.
package apispec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/iancoleman/strcase"

	"github.com/schemabind/schemabind/registry"
	"github.com/schemabind/schemabind/schemadoc"
)

// Export resolves every registered schema and packs them into the
// components section of a fresh OpenAPI 3 document. Cycle boundaries
// become ordinary component references.
func Export(ctx context.Context, reg *registry.Registry, title, version string) (*openapi3.T, error) {
	ids := reg.IDs()
	names := componentNames(ids)

	schemas := make(openapi3.Schemas, len(ids))
	for _, id := range ids {
		resolved, err := reg.Resolve(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("export %q: %w", id, err)
		}
		converted := convert(resolved, names)
		bs, err := json.Marshal(converted)
		if err != nil {
			return nil, fmt.Errorf("export %q: %w", id, err)
		}
		sch := &openapi3.Schema{}
		if err := sch.UnmarshalJSON(bs); err != nil {
			return nil, fmt.Errorf("export %q: %w", id, err)
		}
		schemas[names[id]] = sch.NewRef()
	}

	return &openapi3.T{
		OpenAPI: "3.0.3",
		Info:    &openapi3.Info{Title: title, Version: version},
		Paths:   openapi3.Paths{},
		Components: &openapi3.Components{
			Schemas: schemas,
		},
	}, nil
}

// convert deep-copies a resolved document, rewriting lazy reference nodes
// into component refs and dropping the schema id keyword, which OpenAPI
// components do not carry.
func convert(v any, names map[schemadoc.ID]string) any {
	switch val := v.(type) {
	case schemadoc.Document, map[string]any:
		doc, _ := schemadoc.AsDocument(val)
		if target, ok := schemadoc.LazyRefTarget(doc); ok {
			if name, known := names[target]; known {
				return map[string]any{"$ref": "#/components/schemas/" + name}
			}
			return map[string]any{"$ref": string(target)}
		}
		out := make(map[string]any, len(doc))
		for k, e := range doc {
			if k == schemadoc.KeywordID {
				continue
			}
			out[k] = convert(e, names)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = convert(e, names)
		}
		return out
	default:
		return v
	}
}

// componentNames assigns a unique component name per id, derived from the
// camelized URI path segments.
func componentNames(ids []schemadoc.ID) map[schemadoc.ID]string {
	names := make(map[schemadoc.ID]string, len(ids))
	used := make(map[string]int, len(ids))
	for _, id := range ids {
		name := componentName(id)
		if n, taken := used[name]; taken {
			used[name] = n + 1
			name = fmt.Sprintf("%s%d", name, n+1)
		}
		used[name] = 1
		names[id] = name
	}
	return names
}

func componentName(id schemadoc.ID) string {
	s := string(id)
	if i := strings.Index(s, "#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	segs := strings.Split(s, "/")
	var parts []string
	// skip the authority, keep the path
	for _, seg := range segs[1:] {
		if seg == "" {
			continue
		}
		if i := strings.Index(seg, "."); i >= 0 {
			seg = seg[:i]
		}
		parts = append(parts, strcase.ToCamel(seg))
	}
	if len(parts) == 0 {
		return strcase.ToCamel(strings.ReplaceAll(segs[0], ".", "_"))
	}
	return strings.Join(parts, "")
}
