package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetArgs struct {
	Name     string `json:"name" jsonschema:"description=who to greet"`
	Greeting string `json:"greeting,omitempty"`
}

func TestSchemaFor(t *testing.T) {
	raw, err := SchemaFor[greetArgs]()
	require.NoError(t, err)

	var s map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &s))
	assert.Equal(t, "object", s["type"])
	assert.NotContains(t, s, "$ref")

	props, ok := s["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "name")
	assert.Contains(t, props, "greeting")
	assert.Equal(t, []interface{}{"name"}, s["required"])
}

func TestValidateRequired(t *testing.T) {
	schema, err := SchemaFor[greetArgs]()
	require.NoError(t, err)

	assert.NoError(t, ValidateRequired(json.RawMessage(`{"name":"ada"}`), schema))
	assert.Error(t, ValidateRequired(json.RawMessage(`{"greeting":"hi"}`), schema))
	assert.Error(t, ValidateRequired(json.RawMessage(`[1]`), schema))
	assert.Error(t, ValidateRequired(nil, schema))
	assert.NoError(t, ValidateRequired(json.RawMessage(`{}`), nil))
}
