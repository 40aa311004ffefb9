package apispec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemabind/schemabind/registry"
)

func TestExportComponents(t *testing.T) {
	r := registry.New()
	_, err := r.LoadBytes([]byte(`{
		"id": "http://x.y.z/bar/address",
		"type": "object",
		"properties": {"street": {"type": "string"}},
		"required": ["street"]
	}`))
	require.Nil(t, err)

	doc, err := Export(context.Background(), r, "test api", "1.0.0")
	assert.Nil(t, err)
	assert.Equal(t, "3.0.3", doc.OpenAPI)
	assert.Equal(t, "test api", doc.Info.Title)

	ref, ok := doc.Components.Schemas["BarAddress"]
	assert.True(t, ok)
	assert.NotNil(t, ref.Value)
	assert.Contains(t, ref.Value.Properties, "street")
	assert.Equal(t, []string{"street"}, ref.Value.Required)
}

func TestExportRewritesLazyRefs(t *testing.T) {
	r := registry.New()
	_, err := r.LoadBytes([]byte(`{
		"id": "http://x.y.z/node",
		"type": "object",
		"properties": {"next": {"$ref": "http://x.y.z/node"}}
	}`))
	require.Nil(t, err)

	doc, err := Export(context.Background(), r, "test api", "1.0.0")
	assert.Nil(t, err)

	bs, err := json.Marshal(doc)
	assert.Nil(t, err)
	assert.Contains(t, string(bs), "#/components/schemas/Node")
}

func TestExportNameCollisions(t *testing.T) {
	r := registry.New()
	_, err := r.LoadBytes([]byte(`{"id": "http://a.b.c/foo/thing", "type": "object"}`))
	require.Nil(t, err)
	_, err = r.LoadBytes([]byte(`{"id": "http://x.y.z/foo/thing", "type": "object"}`))
	require.Nil(t, err)

	doc, err := Export(context.Background(), r, "test api", "1.0.0")
	assert.Nil(t, err)
	assert.Equal(t, 2, len(doc.Components.Schemas))
	assert.Contains(t, doc.Components.Schemas, "FooThing")
	assert.Contains(t, doc.Components.Schemas, "FooThing2")
}
