package planner

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a todo status change would move
// backwards or skip a state.
var ErrInvalidTransition = errors.New("invalid todo status transition")

// Status represents the execution status of a todo
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Todo is one atomic sub-task of a plan
type Todo struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Status      Status         `json:"status"`
	Tool        string         `json:"tool,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	DependsOn   []string       `json:"depends_on,omitempty"` // IDs of todos that must be done first
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	StartedAt   time.Time      `json:"started_at,omitempty"`
	FinishedAt  time.Time      `json:"finished_at,omitempty"`
}

// Transition moves the todo to next. Only pending -> in_progress and
// in_progress -> done|failed are accepted.
func (t *Todo) Transition(next Status) error {
	ok := false
	switch t.Status {
	case StatusPending:
		ok = next == StatusInProgress
	case StatusInProgress:
		ok = next == StatusDone || next == StatusFailed
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s (todo %s)", ErrInvalidTransition, t.Status, next, t.ID)
	}

	now := time.Now()
	switch next {
	case StatusInProgress:
		t.StartedAt = now
	case StatusDone, StatusFailed:
		t.FinishedAt = now
	}
	t.Status = next
	return nil
}

// Finished reports whether the todo reached a final status.
func (t *Todo) Finished() bool {
	return t.Status == StatusDone || t.Status == StatusFailed
}

// Plan is an ordered list of todos for one goal
type Plan struct {
	ID              string    `json:"id"`
	Goal            string    `json:"goal"`
	Summary         string    `json:"summary"`
	SuccessCriteria string    `json:"success_criteria,omitempty"`
	Todos           []*Todo   `json:"todos"`
	CreatedAt       time.Time `json:"created_at"`
}

// Get returns the todo with the given ID, or nil.
func (p *Plan) Get(id string) *Todo {
	for _, t := range p.Todos {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Next returns the todo to run: a todo already in progress (being retried)
// or else the first pending todo whose dependencies are all done. It returns
// nil when nothing is runnable.
func (p *Plan) Next() *Todo {
	for _, t := range p.Todos {
		if t.Status == StatusInProgress {
			return t
		}
	}
	for _, t := range p.Todos {
		if t.Status == StatusPending && p.ready(t) {
			return t
		}
	}
	return nil
}

func (p *Plan) ready(t *Todo) bool {
	for _, dep := range t.DependsOn {
		d := p.Get(dep)
		if d == nil || d.Status != StatusDone {
			return false
		}
	}
	return true
}

// Blocked returns pending todos that can never run because a dependency
// failed or is itself blocked.
func (p *Plan) Blocked() []*Todo {
	if p.Next() != nil {
		return nil
	}
	var blocked []*Todo
	for _, t := range p.Todos {
		if t.Status == StatusPending {
			blocked = append(blocked, t)
		}
	}
	return blocked
}

// Counts returns the number of todos per status.
func (p *Plan) Counts() map[Status]int {
	counts := make(map[Status]int, 4)
	for _, t := range p.Todos {
		counts[t.Status]++
	}
	return counts
}

// Failed returns the todos that finished with a failure.
func (p *Plan) Failed() []*Todo {
	var failed []*Todo
	for _, t := range p.Todos {
		if t.Status == StatusFailed {
			failed = append(failed, t)
		}
	}
	return failed
}

// Done reports whether no todo is runnable any more.
func (p *Plan) Done() bool {
	return p.Next() == nil
}

// ToolInfo describes a tool the planner may reference
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Search      bool   `json:"search,omitempty"`
}

// Draft is an unvalidated plan, typically decoded from LLM output
type Draft struct {
	Summary         string      `json:"plan_summary"`
	SuccessCriteria string      `json:"success_criteria"`
	Todos           []DraftTodo `json:"todos"`
}

// DraftTodo is one proposed todo
type DraftTodo struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Tool        string         `json:"tool_required"`
	Parameters  map[string]any `json:"tool_parameters"`
	DependsOn   []string       `json:"dependencies"`
}

// PlanningError reports a goal that could not be decomposed into todos
type PlanningError struct {
	Goal    string
	Reason  string
	Dropped []string
}

func (e *PlanningError) Error() string {
	msg := fmt.Sprintf("planning failed: %s", e.Reason)
	if len(e.Dropped) > 0 {
		msg += fmt.Sprintf(" (dropped %d todos naming unavailable tools)", len(e.Dropped))
	}
	return msg
}
