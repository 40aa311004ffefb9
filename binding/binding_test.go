package binding

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/schemabind/schemabind/schemadoc"
)

func obj(pairs ...any) schemadoc.Document {
	d := schemadoc.Document{}
	for i := 0; i < len(pairs); i += 2 {
		d[pairs[i].(string)] = pairs[i+1]
	}
	return d
}

func newTestGenerator(resolve ResolveFunc) *Generator {
	return NewGenerator(resolve, nil, SnakeCase)
}

func TestGenerateFields(t *testing.T) {
	g := newTestGenerator(nil)
	resolved := obj(
		"id", "http://x.y.z/foo/name",
		"description", "a person's name",
		"type", "object",
		"properties", obj(
			"firstName", obj("type", "string"),
			"lastName", obj("type", "string"),
			"age", obj("type", "integer"),
		),
		"required", []any{"firstName"},
	)

	d, err := g.Generate(context.Background(), "http://x.y.z/foo/name", resolved)
	assert.Nil(t, err)
	assert.Equal(t, "Name", d.TypeName)
	assert.Equal(t, "a person's name", d.Doc)

	// fields are ordered by key
	assert.Equal(t, 3, len(d.Fields))
	assert.Equal(t, "age", d.Fields[0].Key)
	assert.Equal(t, "firstName", d.Fields[1].Key)
	assert.Equal(t, "lastName", d.Fields[2].Key)

	first, ok := d.Field("first_name")
	assert.True(t, ok)
	assert.Equal(t, "firstName", first.Key)
	assert.Equal(t, KindString, first.Kind)
	assert.True(t, first.Required)

	age, ok := d.Field("age")
	assert.True(t, ok)
	assert.Equal(t, KindInteger, age.Kind)
	assert.False(t, age.Required)

	assert.Equal(t, []string{"first_name"}, d.Required())
}

func TestGenerateIsCached(t *testing.T) {
	g := newTestGenerator(nil)
	resolved := obj("id", "http://x.y.z/a", "type", "object")

	d1, err := g.Generate(context.Background(), "http://x.y.z/a", resolved)
	assert.Nil(t, err)
	d2, err := g.Generate(context.Background(), "http://x.y.z/a", resolved)
	assert.Nil(t, err)
	assert.Same(t, d1, d2)
}

func TestGenerateNamingCollision(t *testing.T) {
	g := newTestGenerator(nil)
	resolved := obj(
		"id", "http://x.y.z/a",
		"type", "object",
		"properties", obj(
			"fooBar", obj("type", "string"),
			"foo_bar", obj("type", "string"),
		),
	)

	_, err := g.Generate(context.Background(), "http://x.y.z/a", resolved)
	var collision *NamingCollisionError
	assert.ErrorAs(t, err, &collision)
	assert.Equal(t, "foo_bar", collision.Name)
}

func TestGenerateNestedAnonymousObject(t *testing.T) {
	g := newTestGenerator(nil)
	resolved := obj(
		"id", "http://x.y.z/record",
		"type", "object",
		"properties", obj(
			"address", obj(
				"type", "object",
				"properties", obj("street", obj("type", "string")),
			),
		),
	)

	d, err := g.Generate(context.Background(), "http://x.y.z/record", resolved)
	assert.Nil(t, err)

	addr, ok := d.Field("address")
	assert.True(t, ok)
	assert.Equal(t, KindObject, addr.Kind)
	assert.NotNil(t, addr.Ref)
	assert.Equal(t, schemadoc.ID("http://x.y.z/record#/properties/address"), addr.Ref.ID)

	street, ok := addr.Ref.Field("street")
	assert.True(t, ok)
	assert.Equal(t, KindString, street.Kind)
}

func TestGenerateNestedObjectWithID(t *testing.T) {
	g := newTestGenerator(nil)
	resolved := obj(
		"id", "http://x.y.z/record",
		"type", "object",
		"properties", obj(
			"address", obj(
				"id", "http://x.y.z/bar/address",
				"type", "object",
				"properties", obj("street", obj("type", "string")),
			),
		),
	)

	d, err := g.Generate(context.Background(), "http://x.y.z/record", resolved)
	assert.Nil(t, err)

	addr, ok := d.Field("address")
	assert.True(t, ok)
	assert.Equal(t, schemadoc.ID("http://x.y.z/bar/address"), addr.Ref.ID)
	assert.Equal(t, "Address", addr.Ref.TypeName)

	// the nested descriptor is shared through the cache
	again, err := g.Generate(context.Background(), "http://x.y.z/bar/address",
		obj("id", "http://x.y.z/bar/address", "type", "object"))
	assert.Nil(t, err)
	assert.Same(t, addr.Ref, again)
}

func TestGenerateConcurrentSameID(t *testing.T) {
	resolved := obj(
		"id", "http://x.y.z/rec",
		"type", "object",
		"properties", obj(
			"name", obj("type", "string"),
			"address", obj(
				"type", "object",
				"properties", obj("street", obj("type", "string")),
			),
		),
	)

	// a fresh generator each round so the race is on an uncached id
	for round := 0; round < 20; round++ {
		g := newTestGenerator(nil)
		const workers = 8

		var wg sync.WaitGroup
		descs := make([]*TypeDescriptor, workers)
		errs := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				descs[i], errs[i] = g.Generate(context.Background(), "http://x.y.z/rec", resolved)
			}(i)
		}
		wg.Wait()

		for i := 0; i < workers; i++ {
			assert.Nil(t, errs[i])
			assert.Same(t, descs[0], descs[i])
		}
	}
}

func TestGenerateNormalizesNestedDeclaredID(t *testing.T) {
	g := newTestGenerator(nil)
	resolved := obj(
		"id", "http://x.y.z/record",
		"type", "object",
		"properties", obj(
			"address", obj(
				"id", "HTTP://X.Y.Z/bar/address/",
				"type", "object",
				"properties", obj("street", obj("type", "string")),
			),
		),
	)

	d, err := g.Generate(context.Background(), "http://x.y.z/record", resolved)
	assert.Nil(t, err)

	addr, ok := d.Field("address")
	assert.True(t, ok)
	assert.Equal(t, schemadoc.ID("http://x.y.z/bar/address"), addr.Ref.ID)

	// the canonical id hits the same cache entry
	again, err := g.Generate(context.Background(), "http://x.y.z/bar/address",
		obj("id", "http://x.y.z/bar/address", "type", "object"))
	assert.Nil(t, err)
	assert.Same(t, addr.Ref, again)
}

func TestGenerateLazyField(t *testing.T) {
	nodeResolved := obj(
		"id", "http://x.y.z/node",
		"type", "object",
		"properties", obj("next", schemadoc.NewLazyRef("http://x.y.z/node")),
	)
	resolve := func(ctx context.Context, id schemadoc.ID) (schemadoc.Document, error) {
		return nodeResolved, nil
	}
	g := newTestGenerator(resolve)

	d, err := g.Generate(context.Background(), "http://x.y.z/node", nodeResolved)
	assert.Nil(t, err)

	next, ok := d.Field("next")
	assert.True(t, ok)
	assert.Equal(t, KindObject, next.Kind)
	assert.Nil(t, next.Ref)
	assert.Equal(t, schemadoc.ID("http://x.y.z/node"), next.LazyID)

	// chasing the lazy boundary lands back on the same descriptor
	nested, err := next.Nested(context.Background(), d)
	assert.Nil(t, err)
	assert.Same(t, d, nested)
}

func TestGenerateArrayField(t *testing.T) {
	g := newTestGenerator(nil)
	resolved := obj(
		"id", "http://x.y.z/list",
		"type", "object",
		"properties", obj(
			"tags", obj("type", "array", "items", obj("type", "string")),
			"entries", obj("type", "array", "items", obj(
				"type", "object",
				"properties", obj("k", obj("type", "string")),
			)),
		),
	)

	d, err := g.Generate(context.Background(), "http://x.y.z/list", resolved)
	assert.Nil(t, err)

	tags, _ := d.Field("tags")
	assert.Equal(t, KindArray, tags.Kind)
	assert.Equal(t, KindString, tags.Elem.Kind)

	entries, _ := d.Field("entries")
	assert.Equal(t, KindArray, entries.Kind)
	assert.Equal(t, KindObject, entries.Elem.Kind)
	assert.NotNil(t, entries.Elem.Ref)
}

func TestConventionNames(t *testing.T) {
	assert.Equal(t, "foo_bar", SnakeCase("fooBar"))
	assert.Equal(t, "foo_bar", SnakeCase("foo_bar"))
	assert.Equal(t, "fooBar", LowerCamel("foo_bar"))
	assert.Equal(t, "FooBar", Pascal("foo_bar"))
}

func TestTypeNameFor(t *testing.T) {
	assert.Equal(t, "Name", TypeNameFor("http://x.y.z/foo/name"))
	assert.Equal(t, "Address", TypeNameFor("http://x.y.z/bar/address.json"))
	assert.Equal(t, "WidgetThing", TypeNameFor("http://x.y.z/widget_thing"))
}
