// Package coretools provides tools over a local directory so the assistant
// can read and edit the user's files on the host.
package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/harun/aide/pkg/tools"
)

const (
	defaultMaxBytes = 200000
	maxListEntries  = 500
)

// Options configures the file tools
type Options struct {
	// Root is the directory every path is resolved against. Paths outside it
	// are rejected.
	Root string
	// ReadOnly skips the write and edit tools.
	ReadOnly bool
}

// Tools returns the file tools rooted at opts.Root
func Tools(opts Options) ([]tools.Tool, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, errors.New("workspace root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", root)
	}

	out := []tools.Tool{readFileTool(root), listFilesTool(root)}
	if !opts.ReadOnly {
		out = append(out, writeFileTool(root), editFileTool(root))
	}
	return out, nil
}

func readFileTool(root string) *tools.FuncTool {
	return &tools.FuncTool{
		Def: tools.Definition{
			Name:        "read_file",
			Description: "Read a file from the workspace.",
			Category:    tools.CategoryRead,
			Parameters: []tools.Parameter{
				{Name: "path", Type: "string", Description: "Relative file path", Required: true},
				{Name: "max_bytes", Type: "integer", Description: "Maximum bytes to read (default 200000)", Default: defaultMaxBytes},
			},
		},
		Handler: func(_ context.Context, params map[string]any) (any, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePath(root, pathValue)
			if err != nil {
				return nil, err
			}

			data, truncated, err := readFileWithLimit(target, int64(intParam(params["max_bytes"], defaultMaxBytes)))
			if err != nil {
				return nil, err
			}

			return map[string]any{
				"path":      pathValue,
				"content":   string(data),
				"truncated": truncated,
				"bytes":     len(data),
			}, nil
		},
	}
}

func listFilesTool(root string) *tools.FuncTool {
	return &tools.FuncTool{
		Def: tools.Definition{
			Name:        "list_files",
			Description: "List files under a workspace directory.",
			Category:    tools.CategoryRead,
			Parameters: []tools.Parameter{
				{Name: "path", Type: "string", Description: "Relative directory (default workspace root)"},
				{Name: "recursive", Type: "boolean", Description: "Walk subdirectories (default false)"},
			},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			dir := root
			if raw, _ := params["path"].(string); strings.TrimSpace(raw) != "" {
				var err error
				if dir, err = resolvePath(root, raw); err != nil {
					return nil, err
				}
			}
			recursive, _ := params["recursive"].(bool)

			var files []string
			err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if path == dir {
					return nil
				}
				rel, _ := filepath.Rel(root, path)
				if d.IsDir() {
					if !recursive {
						files = append(files, rel+"/")
						return fs.SkipDir
					}
					return nil
				}
				files = append(files, rel)
				if len(files) >= maxListEntries {
					return fs.SkipAll
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			sort.Strings(files)

			return map[string]any{
				"path":  dir,
				"files": files,
				"count": len(files),
			}, nil
		},
	}
}

func writeFileTool(root string) *tools.FuncTool {
	return &tools.FuncTool{
		Def: tools.Definition{
			Name:        "write_file",
			Description: "Write content to a file in the workspace.",
			Category:    tools.CategoryWrite,
			Parameters: []tools.Parameter{
				{Name: "path", Type: "string", Description: "Relative file path", Required: true},
				{Name: "content", Type: "string", Description: "File content", Required: true},
				{Name: "append", Type: "boolean", Description: "Append to file (default false)"},
			},
		},
		Handler: func(_ context.Context, params map[string]any) (any, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePath(root, pathValue)
			if err != nil {
				return nil, err
			}
			content, _ := params["content"].(string)
			appendMode, _ := params["append"].(bool)

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, err
			}

			flag := os.O_CREATE | os.O_WRONLY
			if appendMode {
				flag |= os.O_APPEND
			} else {
				flag |= os.O_TRUNC
			}
			f, err := os.OpenFile(target, flag, 0644)
			if err != nil {
				return nil, err
			}
			if _, err := f.WriteString(content); err != nil {
				f.Close()
				return nil, err
			}
			if err := f.Close(); err != nil {
				return nil, err
			}

			return map[string]any{
				"path":   pathValue,
				"bytes":  len(content),
				"append": appendMode,
			}, nil
		},
	}
}

func editFileTool(root string) *tools.FuncTool {
	return &tools.FuncTool{
		Def: tools.Definition{
			Name:        "edit_file",
			Description: "Replace text in a workspace file.",
			Category:    tools.CategoryWrite,
			Parameters: []tools.Parameter{
				{Name: "path", Type: "string", Description: "Relative file path", Required: true},
				{Name: "search", Type: "string", Description: "Text to search for", Required: true},
				{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
				{Name: "replace_all", Type: "boolean", Description: "Replace all occurrences (default false)"},
			},
		},
		Handler: func(_ context.Context, params map[string]any) (any, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePath(root, pathValue)
			if err != nil {
				return nil, err
			}
			search, _ := params["search"].(string)
			replace, _ := params["replace"].(string)
			replaceAll, _ := params["replace_all"].(bool)
			if search == "" {
				return nil, fmt.Errorf("search is required")
			}

			data, err := os.ReadFile(target)
			if err != nil {
				return nil, err
			}
			content := string(data)

			occurrences := strings.Count(content, search)
			if occurrences == 0 {
				return nil, fmt.Errorf("search text not found")
			}
			var updated string
			if replaceAll {
				updated = strings.ReplaceAll(content, search, replace)
			} else {
				occurrences = 1
				updated = strings.Replace(content, search, replace, 1)
			}

			if err := os.WriteFile(target, []byte(updated), 0644); err != nil {
				return nil, err
			}

			return map[string]any{
				"path":        pathValue,
				"occurrences": occurrences,
			}, nil
		},
	}
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	if limit <= 0 {
		limit = defaultMaxBytes
	}
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, file, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	extra := make([]byte, 1)
	n, _ := file.Read(extra)
	data := buf.Bytes()
	if n > 0 {
		data = trimPartialRune(data)
	}
	return data, n > 0, nil
}

// trimPartialRune drops a multi-byte rune cut off at the end of data
func trimPartialRune(data []byte) []byte {
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				return data[:i]
			}
			break
		}
	}
	return data
}

// resolvePath joins pathValue to root and rejects anything that escapes it
func resolvePath(root string, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", err
	}
	if rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..") {
		return candidate, nil
	}
	return "", fmt.Errorf("path %q is outside workspace root", pathValue)
}

func intParam(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		if n > 0 {
			return n
		}
	case int64:
		if n > 0 {
			return int(n)
		}
	case float64:
		if n > 0 {
			return int(n)
		}
	}
	return fallback
}
