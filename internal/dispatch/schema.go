package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// InputSchema renders the descriptor's parameters as a JSON Schema object.
// Undeclared properties are rejected, mirroring what [Registry.Invoke]
// enforces.
func (d Descriptor) InputSchema() *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:                 "object",
		Properties:           make(map[string]*jsonschema.Schema, len(d.Parameters)),
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
	for _, p := range d.Parameters {
		s.Properties[p.Name] = &jsonschema.Schema{
			Type:        p.Kind.String(),
			Description: p.Description,
		}
		if p.Required {
			s.Required = append(s.Required, p.Name)
		}
	}
	return s
}

// SchemaMap returns [Descriptor.InputSchema] as a generic JSON object, the
// shape LLM SDKs expect for function parameters.
func (d Descriptor) SchemaMap() (map[string]any, error) {
	raw, err := json.Marshal(d.InputSchema())
	if err != nil {
		return nil, fmt.Errorf("dispatch: marshal schema for %q: %w", d.Name, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("dispatch: decode schema for %q: %w", d.Name, err)
	}
	return m, nil
}
