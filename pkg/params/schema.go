package params

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is a compiled JSON Schema document.
type Schema struct {
	doc      map[string]any
	compiled *gojsonschema.Schema
}

// NewSchema compiles doc. The document is normalized through JSON first so
// Go literals with typed maps and slices behave like decoded JSON.
func NewSchema(doc map[string]any) (*Schema, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}

	var normalized map[string]any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(normalized))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Schema{doc: normalized, compiled: compiled}, nil
}

// MustSchema is NewSchema for package-level schemas; it panics on error.
func MustSchema(doc map[string]any) *Schema {
	s, err := NewSchema(doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Document returns the normalized schema document.
func (s *Schema) Document() map[string]any {
	return s.doc
}

// Object builds a draft-07 object schema document.
func Object(properties map[string]any, required ...string) map[string]any {
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func (s *Schema) validate(value any) error {
	result, err := s.compiled.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return &ProcessingError{Reason: err.Error()}
	}
	if result.Valid() {
		return nil
	}

	type issue struct {
		field  string
		reason string
	}
	issues := make([]issue, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		field := re.Field()
		if field == "(root)" {
			field = ""
		}
		if re.Type() == "required" {
			if prop, ok := re.Details()["property"].(string); ok {
				if field == "" {
					field = prop
				} else {
					field = field + "." + prop
				}
			}
		}
		issues = append(issues, issue{field: field, reason: re.Description()})
	}

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].field != issues[j].field {
			return issues[i].field < issues[j].field
		}
		return issues[i].reason < issues[j].reason
	})

	pe := &ProcessingError{
		Field:  issues[0].field,
		Reason: issues[0].reason,
	}
	for _, is := range issues {
		if is.field == "" {
			pe.Issues = append(pe.Issues, is.reason)
			continue
		}
		pe.Issues = append(pe.Issues, is.field+": "+is.reason)
	}
	return pe
}

func typesOf(node map[string]any) []string {
	switch t := node["type"].(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func hasType(node map[string]any, want string) bool {
	for _, t := range typesOf(node) {
		if t == want {
			return true
		}
	}
	return false
}

// declaresStringOnly reports whether node only admits strings.
func declaresStringOnly(node map[string]any) bool {
	types := typesOf(node)
	return len(types) == 1 && types[0] == "string"
}

func propertySchema(node map[string]any, key string) map[string]any {
	if node == nil {
		return nil
	}
	props, _ := node["properties"].(map[string]any)
	if props == nil {
		return nil
	}
	child, _ := props[key].(map[string]any)
	return child
}

func itemSchema(node map[string]any) map[string]any {
	if node == nil {
		return nil
	}
	items, _ := node["items"].(map[string]any)
	return items
}

// coerce converts numeric-looking strings to numbers where node declares a
// numeric type and does not also admit strings.
func coerce(value any, node map[string]any) any {
	if node == nil {
		return value
	}

	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			v[k] = coerce(child, propertySchema(node, k))
		}
		return v
	case []any:
		items := itemSchema(node)
		for i, child := range v {
			v[i] = coerce(child, items)
		}
		return v
	case string:
		if hasType(node, "string") {
			return v
		}
		numeric := hasType(node, "number")
		integer := hasType(node, "integer")
		if !numeric && !integer {
			return v
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return v
		}
		if !numeric && f != float64(int64(f)) {
			return v
		}
		return f
	}
	return value
}
