package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchTool(handler Handler) *FuncTool {
	if handler == nil {
		handler = func(_ context.Context, p map[string]any) (any, error) {
			return "results for " + p["query"].(string), nil
		}
	}
	return &FuncTool{
		Def: Definition{
			Name:        "web_search",
			Description: "Search the web",
			Category:    CategorySearch,
			Parameters: []Parameter{
				{Name: "query", Type: "string", Required: true, Description: "Search query"},
				{Name: "limit", Type: "integer", Description: "Max results"},
			},
		},
		Handler: handler,
	}
}

func mailTool() *FuncTool {
	return &FuncTool{
		Def: Definition{
			Name:        "gmail_send",
			Description: "Send an email",
			Category:    CategoryCommunication,
			Parameters:  []Parameter{{Name: "to", Type: "string", Required: true, Description: "Recipient"}},
		},
		Service: "gmail",
		Handler: func(context.Context, map[string]any) (any, error) { return "sent", nil },
	}
}

func newTestRegistry(t *testing.T, cfg Config, principal Principal, tools ...Tool) *Registry {
	t.Helper()
	r := NewRegistry(cfg, principal)
	for _, tool := range tools {
		require.NoError(t, r.Register(tool))
	}
	return r
}

func TestRegistry_Register(t *testing.T) {
	t.Run("should reject duplicate names", func(t *testing.T) {
		r := newTestRegistry(t, Config{}, Principal{}, searchTool(nil))
		assert.Error(t, r.Register(searchTool(nil)))
	})

	t.Run("should reject invalid definitions", func(t *testing.T) {
		r := NewRegistry(Config{}, Principal{})
		err := r.Register(&FuncTool{Def: Definition{Name: "x"}})
		assert.Error(t, err)
	})
}

func TestRegistry_Available(t *testing.T) {
	t.Run("should hide tools the user has not connected", func(t *testing.T) {
		r := newTestRegistry(t, Config{}, Principal{UserID: "u1"}, searchTool(nil), mailTool(), NewVirtualFS())

		names := definitionNames(r.Available(context.Background()))
		assert.Equal(t, []string{"virtual_fs", "web_search"}, names)
	})

	t.Run("should include connected services", func(t *testing.T) {
		principal := Principal{UserID: "u1", Connected: map[string]bool{"gmail": true}}
		r := newTestRegistry(t, Config{}, principal, mailTool())

		assert.True(t, r.Has(context.Background(), "gmail_send"))
	})

	t.Run("should apply the policy", func(t *testing.T) {
		cfg := Config{Policy: &Policy{Allow: []string{"*"}, Deny: []string{"web_search"}}}
		r := newTestRegistry(t, cfg, Principal{}, searchTool(nil), NewVirtualFS())

		assert.Equal(t, []string{"virtual_fs"}, definitionNames(r.Available(context.Background())))
	})
}

func TestRegistry_Call(t *testing.T) {
	ctx := context.Background()

	t.Run("should normalize parameters before execution", func(t *testing.T) {
		r := newTestRegistry(t, Config{}, Principal{}, searchTool(nil))

		inv, err := r.Call(ctx, "web_search", `{query: golang generics, limit: "3"}`)
		require.NoError(t, err)
		assert.True(t, inv.Result.Success)
		assert.Equal(t, "results for golang generics", inv.Result.Output)
		assert.Equal(t, float64(3), inv.Parameters["limit"])
		assert.Equal(t, CategorySearch, inv.Category)
	})

	tests := []struct {
		name string
		cfg  Config
		tool string
		raw  any
		kind ErrorKind
	}{
		{name: "should report unknown tools", tool: "nope", raw: "{}", kind: KindUnknownTool},
		{name: "should report unauthorized tools", tool: "gmail_send", raw: `{"to": "a@b.c"}`, kind: KindUnauthorized},
		{name: "should report policy denials", cfg: Config{Policy: &Policy{Deny: []string{"web_search"}}}, tool: "web_search", raw: `{"query": "x"}`, kind: KindDenied},
		{name: "should report invalid parameters", tool: "web_search", raw: `{"limit": 2}`, kind: KindInvalidParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t, tt.cfg, Principal{}, searchTool(nil), mailTool())

			inv, err := r.Call(ctx, tt.tool, tt.raw)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
			require.NotNil(t, inv)
			assert.False(t, inv.Result.Success)
		})
	}

	t.Run("should enforce rate limits", func(t *testing.T) {
		cfg := Config{RateLimits: map[string]float64{"web_search": 1}}
		r := newTestRegistry(t, cfg, Principal{}, searchTool(nil))

		_, err := r.Call(ctx, "web_search", `{"query": "a"}`)
		require.NoError(t, err)
		_, err = r.Call(ctx, "web_search", `{"query": "b"}`)
		assert.Equal(t, KindRateLimited, KindOf(err))
	})

	t.Run("should time out slow tools", func(t *testing.T) {
		slow := searchTool(func(ctx context.Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		r := newTestRegistry(t, Config{Timeout: 20 * time.Millisecond}, Principal{}, slow)

		_, err := r.Call(ctx, "web_search", `{"query": "a"}`)
		assert.Equal(t, KindTimeout, KindOf(err))
	})

	t.Run("should wrap tool failures", func(t *testing.T) {
		boom := errors.New("upstream 500")
		broken := searchTool(func(context.Context, map[string]any) (any, error) { return nil, boom })
		r := newTestRegistry(t, Config{}, Principal{}, broken)

		_, err := r.Call(ctx, "web_search", `{"query": "a"}`)
		assert.Equal(t, KindFailed, KindOf(err))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("should truncate large output", func(t *testing.T) {
		big := searchTool(func(context.Context, map[string]any) (any, error) {
			return strings.Repeat("x", 100), nil
		})
		r := newTestRegistry(t, Config{MaxOutputBytes: 10}, Principal{}, big)

		inv, err := r.Call(ctx, "web_search", `{"query": "a"}`)
		require.NoError(t, err)
		assert.True(t, inv.Result.Truncated)
		assert.True(t, strings.HasPrefix(inv.Result.Output.(string), "xxxxxxxxxx\n"))
	})

	t.Run("should keep truncated output valid utf-8", func(t *testing.T) {
		big := searchTool(func(context.Context, map[string]any) (any, error) {
			return strings.Repeat("é", 20), nil
		})
		r := newTestRegistry(t, Config{MaxOutputBytes: 5}, Principal{}, big)

		inv, err := r.Call(ctx, "web_search", `{"query": "a"}`)
		require.NoError(t, err)
		out := inv.Result.Output.(string)
		assert.True(t, utf8.ValidString(out))
		assert.True(t, strings.HasPrefix(out, "éé\n"))
	})

	t.Run("should track usage", func(t *testing.T) {
		r := newTestRegistry(t, Config{}, Principal{}, searchTool(nil))

		_, _ = r.Call(ctx, "web_search", `{"query": "a"}`)
		_, _ = r.Call(ctx, "web_search", `{}`)

		usage := r.Usage()["web_search"]
		assert.Equal(t, 2, usage.Calls)
		assert.Equal(t, 1, usage.Failures)
	})
}

func TestPolicy(t *testing.T) {
	var nilPolicy *Policy
	assert.True(t, nilPolicy.IsAllowed("anything", false))

	p := &Policy{Allow: []string{"web_search"}}
	assert.True(t, p.IsAllowed("web_search", false))
	assert.False(t, p.IsAllowed("gmail_send", false))
	assert.True(t, p.IsAllowed("virtual_fs", true))

	conflicting := &Policy{Allow: []string{"*"}, Deny: []string{"*"}}
	assert.Error(t, conflicting.Validate())
}

func definitionNames(defs []Definition) []string {
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	return names
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "should keep short text", in: "abc", max: 5, want: "abc"},
		{name: "should cut ascii at the limit", in: "abcdef", max: 3, want: "abc"},
		{name: "should back off to a rune start", in: "aé", max: 2, want: "a"},
		{name: "should keep whole runes", in: "日本語", max: 7, want: "日本"},
		{name: "should return nothing for a zero limit", in: "abc", max: 0, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateUTF8(tt.in, tt.max))
		})
	}
}
