// Package tools resolves, authorizes, rate limits and executes the tools an
// assistant can call on behalf of a user.
package tools

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Category groups tools by what they do
type Category string

const (
	CategorySearch        Category = "search"
	CategoryRead          Category = "read"
	CategoryWrite         Category = "write"
	CategoryCalendar      Category = "calendar"
	CategoryCommunication Category = "communication"
	CategoryGeneral       Category = "general"
)

// AllCategories returns all valid tool categories
func AllCategories() []Category {
	return []Category{
		CategorySearch,
		CategoryRead,
		CategoryWrite,
		CategoryCalendar,
		CategoryCommunication,
		CategoryGeneral,
	}
}

// IsValidCategory checks if a category is valid
func IsValidCategory(category string) bool {
	cat := Category(strings.ToLower(category))
	for _, valid := range AllCategories() {
		if cat == valid {
			return true
		}
	}
	return false
}

// Parameter defines a parameter for a tool
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Definition describes a tool to the registry and to the LLM
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Category    Category    `json:"category"`
	Parameters  []Parameter `json:"parameters,omitempty"`
	// Schema overrides the schema generated from Parameters.
	Schema map[string]any `json:"schema,omitempty"`
	// Builtin tools need no authorization.
	Builtin bool `json:"builtin,omitempty"`
}

// Principal identifies the user a tool runs for
type Principal struct {
	UserID string
	// Connected lists the external services the user has authorized.
	Connected map[string]bool
}

// HasService reports whether the user connected service.
func (p Principal) HasService(service string) bool {
	return p.Connected[service]
}

// Result represents the result of a tool execution
type Result struct {
	Success   bool           `json:"success"`
	Output    any            `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Text renders the output for prompts and workspace notes.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	if !r.Success {
		return r.Error
	}
	switch v := r.Output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Tool is the contract every tool implements
type Tool interface {
	Definition() Definition
	Authorize(ctx context.Context, principal Principal) bool
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Handler is the function signature for tool execution
type Handler func(ctx context.Context, params map[string]any) (any, error)

// FuncTool adapts a handler to Tool. Service, when set, must be connected by
// the principal for the tool to be authorized.
type FuncTool struct {
	Def     Definition
	Service string
	Handler Handler
}

func (f *FuncTool) Definition() Definition {
	return f.Def
}

func (f *FuncTool) Authorize(_ context.Context, principal Principal) bool {
	if f.Def.Builtin || f.Service == "" {
		return true
	}
	return principal.HasService(f.Service)
}

func (f *FuncTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	out, err := f.Handler(ctx, params)
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, Output: out}, nil
}

// validateDefinition validates a tool definition
func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Category != "" && !IsValidCategory(string(def.Category)) {
		return fmt.Errorf("invalid category: %s", def.Category)
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}
	return nil
}

// schemaDocument returns the JSON Schema for a definition
func schemaDocument(def Definition) map[string]any {
	if def.Schema != nil {
		return def.Schema
	}

	properties := make(map[string]any, len(def.Parameters))
	var required []string
	for _, param := range def.Parameters {
		prop := map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if len(param.Enum) > 0 {
			prop["enum"] = param.Enum
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		properties[param.Name] = prop
		if param.Required {
			required = append(required, param.Name)
		}
	}

	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

// TruncateUTF8 cuts s to at most max bytes without splitting a rune.
func TruncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 0 {
		return ""
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
