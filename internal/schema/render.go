package schema

// Description is the public JSON-schema-style rendering of an entry.
type Description struct {
	Schema               string                   `json:"$schema"`
	Type                 string                   `json:"type"`
	Description          string                   `json:"description,omitempty"`
	Properties           map[string]PropertyShape `json:"properties"`
	Required             []string                 `json:"required"`
	AdditionalProperties bool                     `json:"additionalProperties"`
}

// PropertyShape describes a single property.
type PropertyShape struct {
	Type string `json:"type"`
}

const jsonSchemaDraft = "http://json-schema.org/draft-07/schema#"

// Render converts an entry into its structural description. The
// required set is every non-optional field; unknown fields render as
// empty-typed properties.
func Render(entry EventSchema) Description {
	properties := make(map[string]PropertyShape, len(entry.Fields))
	required := make([]string, 0, len(entry.Fields))

	for _, field := range entry.Fields {
		shape := PropertyShape{}
		switch field.Type {
		case FieldString:
			shape.Type = "string"
		case FieldInteger:
			shape.Type = "integer"
		case FieldNumber:
			shape.Type = "number"
		}
		properties[field.Name] = shape
		if !field.Optional {
			required = append(required, field.Name)
		}
	}

	return Description{
		Schema:               jsonSchemaDraft,
		Type:                 "object",
		Description:          entry.Description,
		Properties:           properties,
		Required:             required,
		AdditionalProperties: true,
	}
}
