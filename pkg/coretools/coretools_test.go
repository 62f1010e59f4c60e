package coretools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/aide/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolByName(t *testing.T, all []tools.Tool, name string) tools.Tool {
	t.Helper()
	for _, tool := range all {
		if tool.Definition().Name == name {
			return tool
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func TestTools(t *testing.T) {
	t.Run("should require an existing directory", func(t *testing.T) {
		_, err := Tools(Options{})
		assert.Error(t, err)

		_, err = Tools(Options{Root: filepath.Join(t.TempDir(), "missing")})
		assert.Error(t, err)
	})

	t.Run("should skip writers when read only", func(t *testing.T) {
		all, err := Tools(Options{Root: t.TempDir(), ReadOnly: true})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("should register with the tool registry", func(t *testing.T) {
		all, err := Tools(Options{Root: t.TempDir()})
		require.NoError(t, err)

		registry := tools.NewRegistry(tools.Config{}, tools.Principal{UserID: "u1"})
		for _, tool := range all {
			require.NoError(t, registry.Register(tool))
		}
	})
}

func TestFileTools(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	all, err := Tools(Options{Root: root})
	require.NoError(t, err)

	t.Run("should write then read a file", func(t *testing.T) {
		_, err := toolByName(t, all, "write_file").Execute(ctx, map[string]any{"path": "notes/a.md", "content": "hello"})
		require.NoError(t, err)
		_, err = toolByName(t, all, "write_file").Execute(ctx, map[string]any{"path": "notes/a.md", "content": " world", "append": true})
		require.NoError(t, err)

		res, err := toolByName(t, all, "read_file").Execute(ctx, map[string]any{"path": "notes/a.md"})
		require.NoError(t, err)
		out := res.Output.(map[string]any)
		assert.Equal(t, "hello world", out["content"])
		assert.Equal(t, false, out["truncated"])
	})

	t.Run("should truncate large reads", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), []byte("0123456789"), 0o644))

		res, err := toolByName(t, all, "read_file").Execute(ctx, map[string]any{"path": "big.txt", "max_bytes": 4})
		require.NoError(t, err)
		out := res.Output.(map[string]any)
		assert.Equal(t, "0123", out["content"])
		assert.Equal(t, true, out["truncated"])
	})

	t.Run("should not split a rune when truncating", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(root, "accents.txt"), []byte("héllo"), 0o644))

		res, err := toolByName(t, all, "read_file").Execute(ctx, map[string]any{"path": "accents.txt", "max_bytes": 2})
		require.NoError(t, err)
		out := res.Output.(map[string]any)
		assert.Equal(t, "h", out["content"])
		assert.Equal(t, true, out["truncated"])
	})

	t.Run("should replace the first occurrence", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(root, "e.txt"), []byte("a a a"), 0o644))

		_, err := toolByName(t, all, "edit_file").Execute(ctx, map[string]any{"path": "e.txt", "search": "a", "replace": "b"})
		require.NoError(t, err)
		data, _ := os.ReadFile(filepath.Join(root, "e.txt"))
		assert.Equal(t, "b a a", string(data))

		_, err = toolByName(t, all, "edit_file").Execute(ctx, map[string]any{"path": "e.txt", "search": "zzz", "replace": "b"})
		assert.Error(t, err)
	})

	t.Run("should list files", func(t *testing.T) {
		res, err := toolByName(t, all, "list_files").Execute(ctx, map[string]any{"recursive": true})
		require.NoError(t, err)
		files := res.Output.(map[string]any)["files"].([]string)
		assert.Contains(t, files, filepath.Join("notes", "a.md"))
		assert.Contains(t, files, "big.txt")
	})

	t.Run("should reject paths outside the root", func(t *testing.T) {
		_, err := toolByName(t, all, "read_file").Execute(ctx, map[string]any{"path": "../etc/passwd"})
		assert.ErrorContains(t, err, "outside workspace root")

		_, err = toolByName(t, all, "read_file").Execute(ctx, map[string]any{"path": "https://example.com"})
		assert.Error(t, err)
	})
}
