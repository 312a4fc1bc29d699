// Package schema declares the field-level contract a validated record must
// satisfy before it reaches the dimension builders.
package schema

import "strings"

// Field is one named, typed source field.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // "string" | "int" | "float" | "date"
	Required bool   `json:"required"`
}

// Contract is the full field contract for the sales extract.
type Contract struct {
	Fields []Field `json:"fields"`
}

// Required returns the names of required fields, in declaration order.
func (c Contract) Required() []string {
	var out []string
	for _, f := range c.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Kinds returns field name -> normalized kind for validation.
func (c Contract) Kinds() map[string]string {
	out := make(map[string]string, len(c.Fields))
	for _, f := range c.Fields {
		out[f.Name] = NormalizeKind(f.Type)
	}
	return out
}

// NormalizeKind folds SQL-ish type aliases into the four kinds the
// transformer understands.
func NormalizeKind(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "bigint", "int8", "integer", "int4", "int2", "int":
		return "int"
	case "float", "float8", "double", "real", "numeric":
		return "float"
	case "date", "timestamp", "timestamptz":
		return "date"
	case "text", "string", "varchar":
		return "string"
	default:
		return strings.ToLower(strings.TrimSpace(t))
	}
}
