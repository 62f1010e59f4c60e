package params

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/aide/internal/observability"
	"github.com/rs/zerolog"
)

// maxNestingDepth bounds how many levels of JSON-encoded strings are expanded.
const maxNestingDepth = 4

// Processor normalizes LLM-produced tool arguments so they can be executed
// against a strict schema.
type Processor struct {
	logger zerolog.Logger
}

func NewProcessor(logger zerolog.Logger) *Processor {
	return &Processor{logger: logger.With().Str("component", "params").Logger()}
}

// Process parses raw into a structured value and validates it against
// schema. raw may be text (string, []byte, json.RawMessage) or an already
// decoded value. A nil schema skips coercion and validation.
func (p *Processor) Process(raw any, schema *Schema) (any, error) {
	value, stage, err := p.parse(raw)
	if err != nil {
		observability.RecordParamFailure()
		p.logger.Debug().Err(err).Msg("Parameter payload could not be parsed")
		return nil, err
	}

	var doc map[string]any
	if schema != nil {
		doc = schema.doc
	}

	value = expandNested(value, doc, 0)
	if schema != nil {
		value = coerce(value, doc)
		if err := schema.validate(value); err != nil {
			observability.RecordParamFailure()
			p.logger.Debug().Err(err).Str("stage", string(stage)).Msg("Parameter validation failed")
			return nil, err
		}
	}

	observability.RecordParamRepair(string(stage))
	if stage != StageStrict && stage != StageStructured {
		p.logger.Debug().Str("stage", string(stage)).Msg("Parameter payload repaired")
	}
	return value, nil
}

// ProcessObject is Process for payloads that must decode to a JSON object.
func (p *Processor) ProcessObject(raw any, schema *Schema) (map[string]any, error) {
	value, err := p.Process(raw, schema)
	if err != nil {
		return nil, err
	}
	obj, ok := value.(map[string]any)
	if !ok {
		observability.RecordParamFailure()
		return nil, &ProcessingError{Reason: fmt.Sprintf("expected an object, got %s", kindOf(value))}
	}
	return obj, nil
}

func (p *Processor) parse(raw any) (any, Stage, error) {
	var text string
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, StageStructured, nil
	case string:
		text = v
	case []byte:
		text = string(v)
	case json.RawMessage:
		text = string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", &ProcessingError{Reason: fmt.Sprintf("unsupported parameter value: %v", err)}
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, "", &ProcessingError{Reason: err.Error()}
		}
		if out == nil {
			// typed nil maps and pointers
			out = map[string]any{}
		}
		return out, StageStructured, nil
	}

	if strings.TrimSpace(text) == "" {
		return map[string]any{}, StageStrict, nil
	}

	repaired, stage, err := repairText(text)
	if err != nil {
		return nil, "", err
	}

	var out any
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, "", &ProcessingError{Reason: err.Error()}
	}
	return out, stage, nil
}

// expandNested replaces string values that hold encoded JSON objects or
// arrays with their decoded form. Fields the schema declares as strings are
// left alone.
func expandNested(value any, node map[string]any, depth int) any {
	if depth > maxNestingDepth {
		return value
	}

	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			v[k] = expandNested(child, propertySchema(node, k), depth)
		}
		return v
	case []any:
		items := itemSchema(node)
		for i, child := range v {
			v[i] = expandNested(child, items, depth)
		}
		return v
	case string:
		if node != nil && declaresStringOnly(node) {
			return v
		}
		s := strings.TrimSpace(v)
		if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
			return v
		}
		decoded, ok := decodeNested(s, node)
		if !ok {
			return v
		}
		return expandNested(decoded, node, depth+1)
	}
	return value
}

// decodeNested parses s strictly. Fields declared as objects or arrays also
// get the repair pipeline.
func decodeNested(s string, node map[string]any) (any, bool) {
	text := s
	if !json.Valid([]byte(text)) {
		if node == nil || !(hasType(node, "object") || hasType(node, "array")) {
			return nil, false
		}
		repaired, _, err := repairText(text)
		if err != nil {
			return nil, false
		}
		text = repaired
	}

	var out any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, false
	}
	switch out.(type) {
	case map[string]any, []any:
		return out, true
	}
	return nil, false
}

func kindOf(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
