// Package llmtest provides scripted llm.Client implementations for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/harun/aide/pkg/llm"
)

// ErrScriptExhausted is returned when no reply matches a request
var ErrScriptExhausted = errors.New("llmtest: no scripted reply")

// Reply is one scripted completion
type Reply struct {
	// Match selects the reply when set; otherwise replies are consumed in order.
	Match   func(req llm.Request) bool
	Content string
	Err     error

	// Sticky replies are not consumed when matched.
	Sticky bool
}

// Scripted replays Replies. It records every request it receives.
type Scripted struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.Request
}

// New creates a scripted client
func New(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

// Add appends replies to the script
func (s *Scripted) Add(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

// Complete returns the first matching reply
func (s *Scripted) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	for i, r := range s.replies {
		if r.Match != nil && !r.Match(req) {
			continue
		}
		if !r.Sticky {
			s.replies = append(s.replies[:i:i], s.replies[i+1:]...)
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return &llm.Response{
			Content:  r.Content,
			Provider: "scripted",
			Model:    req.Model,
			Usage:    llm.Usage{InputTokens: llm.EstimateTokens(req.Messages), OutputTokens: len(r.Content) / 4},
		}, nil
	}
	return nil, ErrScriptExhausted
}

// Requests returns the requests received so far
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]llm.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Failing is a client that always returns err
func Failing(err error) llm.Client {
	return llm.ClientFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, err
	})
}

// PromptContains matches requests whose last message contains substr
func PromptContains(substr string) func(llm.Request) bool {
	return func(req llm.Request) bool {
		if len(req.Messages) == 0 {
			return false
		}
		return strings.Contains(req.Messages[len(req.Messages)-1].Content, substr)
	}
}
