package utils

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects the JSON schema of T with definitions inlined and the
// struct at the root, the shape expected for a tool input schema.
func SchemaFor[T any]() (json.RawMessage, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	data, err := json.Marshal(r.Reflect(new(T)))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// ValidateRequired checks that data is a JSON object carrying every property
// listed as required by schema. It is not a full schema validator.
func ValidateRequired(data json.RawMessage, schema json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	var s struct {
		Type     string   `json:"type"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &s); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	if s.Type != "" && s.Type != "object" {
		return nil
	}

	args := map[string]json.RawMessage{}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &args); err != nil {
			return fmt.Errorf("arguments must be an object: %w", err)
		}
	}
	for _, name := range s.Required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required argument %q", name)
		}
	}
	return nil
}
