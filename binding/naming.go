package binding

import (
	"strings"

	"github.com/iancoleman/strcase"

	"github.com/schemabind/schemabind/schemadoc"
)

// Convention translates a JSON property key into a target identifier. It
// must be pure and deterministic; the same key always yields the same
// identifier within a descriptor.
type Convention func(key string) string

// SnakeCase is the default convention, camelCase keys become snake_case
// identifiers.
func SnakeCase(key string) string { return strcase.ToSnake(key) }

// LowerCamel maps keys to lowerCamelCase identifiers.
func LowerCamel(key string) string { return strcase.ToLowerCamel(key) }

// Pascal maps keys to PascalCase identifiers.
func Pascal(key string) string { return strcase.ToCamel(key) }

// TypeNameFor derives a type name from the last path segment of a schema
// id, e.g. "http://x.y.z/foo/name" becomes "Name".
func TypeNameFor(id schemadoc.ID) string {
	s := string(id)
	if i := strings.Index(s, "#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	segs := strings.Split(s, "/")
	last := segs[len(segs)-1]
	if i := strings.Index(last, "."); i >= 0 {
		last = last[:i]
	}
	return strcase.ToCamel(last)
}
