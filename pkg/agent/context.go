package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/aide/pkg/flow"
	"github.com/harun/aide/pkg/llm"
	"github.com/harun/aide/pkg/planner"
	"github.com/harun/aide/pkg/tools"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const taskIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Intent is the classification of a goal
type Intent struct {
	Complexity     string `json:"complexity"`
	Category       string `json:"task_category"`
	UserIntent     string `json:"user_intent"`
	RequiresTools  bool   `json:"requires_tools"`
	EstimatedSteps int    `json:"estimated_steps"`
	Heuristic      bool   `json:"-"`
}

// ToolInvocationRecord is one entry of the invocation log
type ToolInvocationRecord struct {
	Tool          string         `json:"tool"`
	Category      tools.Category `json:"category,omitempty"`
	RawParameters any            `json:"raw_parameters,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Success       bool           `json:"success"`
	Result        any            `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Duration      time.Duration  `json:"duration"`
}

// ResultText renders the result or error for prompts.
func (r ToolInvocationRecord) ResultText() string {
	if !r.Success {
		return r.Error
	}
	switch v := r.Result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Workspace is the turn's scratch document
type Workspace struct {
	Filename  string    `json:"filename"`
	Content   string    `json:"content"`
	TaskID    string    `json:"task_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolCall is a pending request to run a tool
type ToolCall struct {
	Tool       string `json:"tool"`
	Parameters any    `json:"parameters"`
}

// NodeError is a failure a node recovered from
type NodeError struct {
	Node string
	Err  error
}

// SharedContext is the mutable state of one turn. It is owned by a single
// engine run and is never shared across turns, so it carries no lock.
type SharedContext struct {
	TurnID      string
	UserID      string
	Goal        string
	Mode        Mode
	Personality string

	// History is the conversation so far, oldest first, ending with the goal.
	History []llm.Message

	Intent    *Intent
	Plan      *planner.Plan
	PlanError error
	Workspace *Workspace

	Invocations    []ToolInvocationRecord
	StepsCompleted int
	Terminated     bool

	// Pending holds the tool calls requested by ReturnTo.
	Pending  []ToolCall
	ReturnTo flow.Action

	Thoughts    []string
	Iterations  int
	Draft       string
	Response    string
	Synthesized bool

	// FailureReason explains why a plan stopped early.
	FailureReason string
	Errors        []NodeError
	Budget        *flow.BudgetExceededError

	now func() time.Time
}

// NewSharedContext creates the state for one turn
func NewSharedContext(turnID, userID, goal string, mode Mode, history []llm.Message) *SharedContext {
	h := make([]llm.Message, 0, len(history)+1)
	h = append(h, history...)
	h = append(h, llm.Message{Role: llm.RoleUser, Content: goal})
	return &SharedContext{
		TurnID:  turnID,
		UserID:  userID,
		Goal:    goal,
		Mode:    mode,
		History: h,
		now:     time.Now,
	}
}

func (s *SharedContext) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// Record appends an invocation to the log
func (s *SharedContext) Record(rec ToolInvocationRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.clock()
	}
	s.Invocations = append(s.Invocations, rec)
}

// RecordInvocation converts a registry invocation and appends it.
func (s *SharedContext) RecordInvocation(inv *tools.Invocation, err error) ToolInvocationRecord {
	rec := ToolInvocationRecord{
		Tool:          inv.Tool,
		Category:      inv.Category,
		RawParameters: inv.Raw,
		Parameters:    inv.Parameters,
		Timestamp:     inv.Timestamp,
		Duration:      inv.Duration,
	}
	if inv.Result != nil {
		rec.Success = inv.Result.Success && err == nil
		rec.Result = inv.Result.Output
		rec.Error = inv.Result.Error
	}
	if err != nil && rec.Error == "" {
		rec.Error = err.Error()
	}
	s.Record(rec)
	return rec
}

// RecordError notes a failure a node recovered from
func (s *SharedContext) RecordError(node string, err error) {
	if err == nil {
		return
	}
	s.Errors = append(s.Errors, NodeError{Node: node, Err: err})
}

// BudgetExceeded implements flow.BudgetAware.
func (s *SharedContext) BudgetExceeded(err *flow.BudgetExceededError) {
	s.Budget = err
}

// Successful returns the successful invocations whose category is in cats,
// or all successful invocations when cats is empty.
func (s *SharedContext) Successful(cats ...tools.Category) []ToolInvocationRecord {
	var out []ToolInvocationRecord
	for _, rec := range s.Invocations {
		if !rec.Success {
			continue
		}
		if len(cats) == 0 {
			out = append(out, rec)
			continue
		}
		for _, c := range cats {
			if rec.Category == c {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}

// ToolsUsed returns the distinct tool names in first-use order
func (s *SharedContext) ToolsUsed() []string {
	seen := make(map[string]bool)
	var names []string
	for _, rec := range s.Invocations {
		if !seen[rec.Tool] {
			seen[rec.Tool] = true
			names = append(names, rec.Tool)
		}
	}
	return names
}

// RecentHistory returns the last n messages
func (s *SharedContext) RecentHistory(n int) []llm.Message {
	if n <= 0 || len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// Complexity returns the classified complexity, focused when unknown.
func (s *SharedContext) Complexity() string {
	if s.Intent == nil || s.Intent.Complexity == "" {
		return planner.ComplexityFocused
	}
	return s.Intent.Complexity
}

// EnsureWorkspace creates the turn workspace named <prefix>_<task id>.md on
// first call and mirrors it into fs. Later calls return the existing
// workspace and report created=false.
func (s *SharedContext) EnsureWorkspace(fs *tools.VirtualFS, prefix string, render func(taskID string) string) (ws *Workspace, created bool, err error) {
	if s.Workspace != nil {
		return s.Workspace, false, nil
	}

	taskID, err := gonanoid.Generate(taskIDAlphabet, 8)
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate task id: %w", err)
	}
	ws = &Workspace{
		Filename:  fmt.Sprintf("%s_%s.md", prefix, taskID),
		Content:   render(taskID),
		TaskID:    taskID,
		CreatedAt: s.clock(),
	}
	if fs != nil {
		if err := fs.Write(ws.Filename, ws.Content); err != nil {
			return nil, false, fmt.Errorf("failed to mirror workspace: %w", err)
		}
	}
	s.Workspace = ws
	return ws, true, nil
}

// SyncWorkspace reloads the workspace content from fs, picking up edits the
// LLM made through the file tool.
func (s *SharedContext) SyncWorkspace(fs *tools.VirtualFS) {
	if s.Workspace == nil || fs == nil {
		return
	}
	if f, err := fs.Read(s.Workspace.Filename); err == nil {
		s.Workspace.Content = f.Content
	}
}

// UpdateWorkspace replaces the workspace content and mirrors it into fs.
func (s *SharedContext) UpdateWorkspace(fs *tools.VirtualFS, content string) error {
	if s.Workspace == nil {
		return errors.New("workspace not initialized")
	}
	s.Workspace.Content = content
	if fs == nil {
		return nil
	}
	return fs.Write(s.Workspace.Filename, content)
}

// AppendWorkspace adds text under the section header, or at the end when the
// section does not exist.
func (s *SharedContext) AppendWorkspace(fs *tools.VirtualFS, header, text string) error {
	if s.Workspace == nil {
		return errors.New("workspace not initialized")
	}
	s.SyncWorkspace(fs)
	return s.UpdateWorkspace(fs, insertUnder(s.Workspace.Content, header, text))
}

// insertUnder places text at the end of the section started by header.
func insertUnder(content, header, text string) string {
	idx := strings.Index(content, header)
	if idx < 0 {
		return strings.TrimRight(content, "\n") + "\n" + text + "\n"
	}
	bodyStart := idx + len(header)
	next := strings.Index(content[bodyStart:], "\n## ")
	if next < 0 {
		return strings.TrimRight(content, "\n") + "\n" + text + "\n"
	}
	cut := bodyStart + next
	return strings.TrimRight(content[:cut], "\n") + "\n" + text + "\n" + content[cut:]
}
