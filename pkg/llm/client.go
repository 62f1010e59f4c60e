package llm

import (
	"context"
	"fmt"
	"strings"
)

// Role of a conversation message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request contains the parameters for one completion
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64

	// JSON asks the model to answer with a single JSON object.
	JSON bool
}

// Usage tracks token consumption
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the text produced by a completion
type Response struct {
	Content  string
	Provider string
	Model    string
	Usage    Usage
}

// Client produces completions. Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Provider is a Client bound to one vendor API
type Provider interface {
	Client

	// Name returns the provider name
	Name() string
}

// ClientFunc adapts a function to Client
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

func (f ClientFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

const jsonInstruction = "Respond with a single valid JSON object and nothing else."

// systemPrompt returns the system text sent to the provider
func (r Request) systemPrompt() string {
	if !r.JSON {
		return r.System
	}
	if r.System == "" {
		return jsonInstruction
	}
	return r.System + "\n\n" + jsonInstruction
}

// NewProvider creates the provider for an auth profile
func NewProvider(profile AuthProfile) (Provider, error) {
	switch strings.ToLower(profile.Provider) {
	case ProviderAnthropic:
		return NewAnthropicProvider(profile.APIKey, profile.BaseURL), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(profile.APIKey, profile.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// EstimateTokens provides a rough token count for messages
func EstimateTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content)
	}
	// 1 token is roughly 4 characters
	return (total + 3) / 4
}
