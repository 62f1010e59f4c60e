package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// VirtualFSName is the registry name of the builtin file tool.
const VirtualFSName = "virtual_fs"

var (
	ErrFileExists    = errors.New("file already exists")
	ErrFileNotFound  = errors.New("file not found")
	ErrInvalidName   = errors.New("invalid filename")
	ErrUnknownAction = errors.New("unknown action")
)

// File is a document held by VirtualFS
type File struct {
	Name      string    `json:"filename"`
	Content   string    `json:"content"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VirtualFS is an in-memory file store scoped to one user. It backs the
// assistant workspace and is exposed to the LLM as the virtual_fs tool.
type VirtualFS struct {
	mu    sync.RWMutex
	files map[string]*File
	now   func() time.Time
}

func NewVirtualFS() *VirtualFS {
	return &VirtualFS{
		files: make(map[string]*File),
		now:   time.Now,
	}
}

func (v *VirtualFS) Definition() Definition {
	return Definition{
		Name:        VirtualFSName,
		Description: "Create, read, update and search scratch files that persist across steps of a task",
		Category:    CategoryWrite,
		Builtin:     true,
		Parameters: []Parameter{
			{Name: "action", Type: "string", Required: true, Description: "Operation to perform",
				Enum: []string{"create", "read", "update", "write", "append", "delete", "exists", "list", "search"}},
			{Name: "filename", Type: "string", Description: "Target file name"},
			{Name: "content", Type: "string", Description: "File content for create, update, write and append"},
			{Name: "query", Type: "string", Description: "Search term for the search action"},
		},
	}
}

func (v *VirtualFS) Authorize(context.Context, Principal) bool {
	return true
}

// Execute dispatches on the action parameter. File-level problems are
// reported as unsuccessful results rather than errors.
func (v *VirtualFS) Execute(_ context.Context, params map[string]any) (*Result, error) {
	action, _ := params["action"].(string)
	filename, _ := params["filename"].(string)
	content, hasContent := params["content"].(string)

	var (
		out map[string]any
		err error
	)
	switch action {
	case "create":
		out, err = v.create(filename, content, false)
	case "write":
		out, err = v.create(filename, content, true)
	case "read":
		var f File
		f, err = v.Read(filename)
		out = map[string]any{"file": f}
	case "update":
		if !hasContent {
			err = fmt.Errorf("content is required for update")
			break
		}
		out, err = v.update(filename, content)
	case "append":
		out, err = v.appendTo(filename, content)
	case "delete":
		err = v.Delete(filename)
		out = map[string]any{"deleted": filename}
	case "exists":
		out = map[string]any{"filename": filename, "exists": v.Exists(filename)}
	case "list":
		out = map[string]any{"files": v.List()}
	case "search":
		query, _ := params["query"].(string)
		if query == "" {
			query = content
		}
		out = map[string]any{"query": query, "matches": v.Search(query)}
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	out["operation"] = action
	return &Result{Success: true, Output: out}, nil
}

func (v *VirtualFS) create(name, content string, overwrite bool) (map[string]any, error) {
	if err := validFilename(name); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if f, ok := v.files[name]; ok {
		if !overwrite {
			return nil, fmt.Errorf("%w: %s", ErrFileExists, name)
		}
		f.Content = content
		f.Version++
		f.UpdatedAt = now
		return map[string]any{"file": *f}, nil
	}

	f := &File{Name: name, Content: content, Version: 1, CreatedAt: now, UpdatedAt: now}
	v.files[name] = f
	return map[string]any{"file": *f}, nil
}

func (v *VirtualFS) update(name, content string) (map[string]any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	f, ok := v.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	previous := f.Version
	f.Content = content
	f.Version++
	f.UpdatedAt = v.now()
	return map[string]any{"file": *f, "previous_version": previous}, nil
}

func (v *VirtualFS) appendTo(name, content string) (map[string]any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	f, ok := v.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	f.Content += content
	f.Version++
	f.UpdatedAt = v.now()
	return map[string]any{"file": *f, "bytes_added": len(content)}, nil
}

// Create adds a new file. It fails if the file exists.
func (v *VirtualFS) Create(name, content string) error {
	_, err := v.create(name, content, false)
	return err
}

// Write creates or overwrites a file.
func (v *VirtualFS) Write(name, content string) error {
	_, err := v.create(name, content, true)
	return err
}

// Append adds content to the end of an existing file.
func (v *VirtualFS) Append(name, content string) error {
	_, err := v.appendTo(name, content)
	return err
}

// Read returns a copy of the named file.
func (v *VirtualFS) Read(name string) (File, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	f, ok := v.files[name]
	if !ok {
		return File{}, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return *f, nil
}

// Exists reports whether the file exists
func (v *VirtualFS) Exists(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.files[name]
	return ok
}

// Delete removes a file
func (v *VirtualFS) Delete(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.files[name]; !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	delete(v.files, name)
	return nil
}

// Prune keeps the newest keep files whose names start with prefix and
// deletes the rest. It returns the deleted names.
func (v *VirtualFS) Prune(prefix string, keep int) []string {
	if keep < 0 {
		keep = 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	var matched []*File
	for name, f := range v.files {
		if strings.HasPrefix(name, prefix) {
			matched = append(matched, f)
		}
	}
	if len(matched) <= keep {
		return nil
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Name > matched[j].Name
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	removed := make([]string, 0, len(matched)-keep)
	for _, f := range matched[keep:] {
		delete(v.files, f.Name)
		removed = append(removed, f.Name)
	}
	return removed
}

// List returns file metadata, newest first.
func (v *VirtualFS) List() []map[string]any {
	v.mu.RLock()
	files := make([]*File, 0, len(v.files))
	for _, f := range v.files {
		files = append(files, f)
	}
	v.mu.RUnlock()

	sort.Slice(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].Name < files[j].Name
		}
		return files[i].CreatedAt.After(files[j].CreatedAt)
	})

	out := make([]map[string]any, 0, len(files))
	for _, f := range files {
		out = append(out, map[string]any{
			"filename":   f.Name,
			"size_bytes": len(f.Content),
			"version":    f.Version,
			"updated_at": f.UpdatedAt,
		})
	}
	return out
}

// Search finds files whose name or content contains query, case-insensitively.
func (v *VirtualFS) Search(query string) []map[string]any {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	names := make([]string, 0, len(v.files))
	for name := range v.files {
		names = append(names, name)
	}
	sort.Strings(names)

	var matches []map[string]any
	for _, name := range names {
		f := v.files[name]
		var lines []string
		for i, line := range strings.Split(f.Content, "\n") {
			if strings.Contains(strings.ToLower(line), q) {
				lines = append(lines, fmt.Sprintf("%d: %s", i+1, line))
			}
		}
		nameMatch := strings.Contains(strings.ToLower(name), q)
		if !nameMatch && len(lines) == 0 {
			continue
		}
		matches = append(matches, map[string]any{
			"filename":      name,
			"name_match":    nameMatch,
			"content_lines": lines,
		})
	}
	return matches
}

func validFilename(name string) error {
	if name == "" || len(name) > 255 {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, "<>:\"|?*\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
