package planner

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testTools = []ToolInfo{
	{Name: "web_search", Search: true},
	{Name: "virtual_fs"},
}

func TestBuild(t *testing.T) {
	p := NewPlanner(5)

	t.Run("valid plan", func(t *testing.T) {
		draft := Draft{
			Summary: "Find and save",
			Todos: []DraftTodo{
				{ID: "a", Title: "Search", Tool: "web_search", Parameters: map[string]any{"query": "go"}},
				{ID: "b", Title: "Save", Tool: "virtual_fs", DependsOn: []string{"a"}},
			},
		}

		plan, err := p.Build("learn go", draft, testTools)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if plan.ID == "" {
			t.Error("Plan ID is empty")
		}
		if len(plan.Todos) != 2 {
			t.Fatalf("Expected 2 todos, got %d", len(plan.Todos))
		}
		if plan.Todos[0].ID != "todo_1" || plan.Todos[1].ID != "todo_2" {
			t.Errorf("Unexpected IDs: %s, %s", plan.Todos[0].ID, plan.Todos[1].ID)
		}
		if len(plan.Todos[1].DependsOn) != 1 || plan.Todos[1].DependsOn[0] != "todo_1" {
			t.Errorf("Dependency not remapped: %v", plan.Todos[1].DependsOn)
		}
		for _, todo := range plan.Todos {
			if todo.Status != StatusPending {
				t.Errorf("Expected pending, got %s", todo.Status)
			}
		}
	})

	t.Run("drops unavailable tools and dangling dependencies", func(t *testing.T) {
		draft := Draft{
			Todos: []DraftTodo{
				{ID: "mail", Title: "Send mail", Tool: "gmail_send"},
				{ID: "notes", Title: "Write notes", Tool: "virtual_fs", DependsOn: []string{"mail", "ghost"}},
			},
		}

		plan, err := p.Build("notify", draft, testTools)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if len(plan.Todos) != 1 {
			t.Fatalf("Expected 1 todo, got %d", len(plan.Todos))
		}
		if plan.Todos[0].Tool != "virtual_fs" {
			t.Errorf("Expected virtual_fs todo, got %s", plan.Todos[0].Tool)
		}
		if len(plan.Todos[0].DependsOn) != 0 {
			t.Errorf("Expected dependencies stripped, got %v", plan.Todos[0].DependsOn)
		}
	})

	t.Run("caps the number of todos", func(t *testing.T) {
		var todos []DraftTodo
		for i := 0; i < 9; i++ {
			todos = append(todos, DraftTodo{Title: "step"})
		}

		plan, err := p.Build("many", Draft{Todos: todos}, testTools)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if len(plan.Todos) != 5 {
			t.Errorf("Expected 5 todos, got %d", len(plan.Todos))
		}
	})

	t.Run("rejects circular dependencies", func(t *testing.T) {
		draft := Draft{
			Todos: []DraftTodo{
				{ID: "a", Title: "A", DependsOn: []string{"b"}},
				{ID: "b", Title: "B", DependsOn: []string{"a"}},
			},
		}

		_, err := p.Build("loop", draft, testTools)
		var pe *PlanningError
		if !errors.As(err, &pe) {
			t.Fatalf("Expected PlanningError, got %v", err)
		}
		if !strings.Contains(pe.Reason, "circular") {
			t.Errorf("Unexpected reason: %s", pe.Reason)
		}
	})

	t.Run("rejects plans with nothing executable", func(t *testing.T) {
		draft := Draft{Todos: []DraftTodo{{ID: "x", Tool: "calendar"}}}

		_, err := p.Build("cal", draft, testTools)
		var pe *PlanningError
		if !errors.As(err, &pe) {
			t.Fatalf("Expected PlanningError, got %v", err)
		}
		if len(pe.Dropped) != 1 {
			t.Errorf("Expected 1 dropped todo, got %d", len(pe.Dropped))
		}
	})
}

func TestTodoTransition(t *testing.T) {
	todo := &Todo{ID: "todo_1", Status: StatusPending}

	if err := todo.Transition(StatusDone); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for pending -> done, got %v", err)
	}
	if err := todo.Transition(StatusInProgress); err != nil {
		t.Fatalf("pending -> in_progress failed: %v", err)
	}
	if todo.StartedAt.IsZero() {
		t.Error("StartedAt not set")
	}
	if err := todo.Transition(StatusFailed); err != nil {
		t.Fatalf("in_progress -> failed failed: %v", err)
	}
	for _, next := range []Status{StatusPending, StatusInProgress, StatusDone} {
		if err := todo.Transition(next); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Expected failed -> %s to be rejected", next)
		}
	}
}

func TestPlanNext(t *testing.T) {
	newPlan := func() *Plan {
		return &Plan{Todos: []*Todo{
			{ID: "todo_1", Status: StatusPending},
			{ID: "todo_2", Status: StatusPending, DependsOn: []string{"todo_1"}},
			{ID: "todo_3", Status: StatusPending},
		}}
	}

	t.Run("skips todos with unmet dependencies", func(t *testing.T) {
		plan := newPlan()
		plan.Todos[0].Status = StatusFailed

		next := plan.Next()
		if next == nil || next.ID != "todo_3" {
			t.Fatalf("Expected todo_3, got %v", next)
		}
	})

	t.Run("prefers a todo being retried", func(t *testing.T) {
		plan := newPlan()
		plan.Todos[2].Status = StatusInProgress

		if next := plan.Next(); next == nil || next.ID != "todo_3" {
			t.Fatalf("Expected todo_3, got %v", next)
		}
	})

	t.Run("reports blocked todos", func(t *testing.T) {
		plan := newPlan()
		plan.Todos[0].Status = StatusFailed
		plan.Todos[2].Status = StatusDone

		if !plan.Done() {
			t.Fatal("Expected plan to be done")
		}
		blocked := plan.Blocked()
		if len(blocked) != 1 || blocked[0].ID != "todo_2" {
			t.Errorf("Expected todo_2 blocked, got %v", blocked)
		}
	})
}

func TestFallback(t *testing.T) {
	p := NewPlanner(DefaultMaxTodos)

	tests := []struct {
		complexity string
		tools      []ToolInfo
		want       int
	}{
		{ComplexitySimple, testTools, 1},
		{ComplexityFocused, testTools, 2},
		{ComplexityFocused, []ToolInfo{{Name: "virtual_fs"}}, 1},
		{ComplexityComplex, testTools, 4},
		{ComplexityComplex, nil, 1},
	}

	for _, tt := range tests {
		draft := Fallback("write a business plan", tt.complexity, tt.tools, "virtual_fs")
		plan, err := p.Build("write a business plan", draft, tt.tools)
		if err != nil {
			t.Fatalf("%s: Build failed: %v", tt.complexity, err)
		}
		if len(plan.Todos) != tt.want {
			t.Errorf("%s: expected %d todos, got %d", tt.complexity, tt.want, len(plan.Todos))
		}
	}
}

func TestReflect(t *testing.T) {
	plan := &Plan{ID: "p1", Todos: []*Todo{
		{ID: "todo_1", Title: "Search", Status: StatusDone, Attempts: 1},
		{ID: "todo_2", Title: "Send", Status: StatusFailed, Attempts: 1, Error: "tool timeout"},
		{ID: "todo_3", Title: "Save", Status: StatusPending},
	}}

	r := Reflect(plan)
	if r.Completed != 1 || r.Failed != 1 || r.Pending != 1 {
		t.Fatalf("Unexpected counts: %+v", r)
	}
	if len(r.Suggestions) != 1 {
		t.Fatalf("Expected 1 suggestion, got %d", len(r.Suggestions))
	}
	summary := r.Summary()
	if !strings.Contains(summary, "Completed 1 of 3") || !strings.Contains(summary, "timed out") {
		t.Errorf("Unexpected summary: %s", summary)
	}
}

func TestRenderMarkdown(t *testing.T) {
	plan := &Plan{
		Goal:      "goal",
		Summary:   "summary",
		CreatedAt: time.Date(2025, 9, 12, 16, 0, 0, 0, time.UTC),
		Todos:     []*Todo{{ID: "todo_1", Title: "Search", Tool: "web_search"}},
	}

	doc := RenderMarkdown(plan, "abc123")
	for _, want := range []string{"# Task Plan: abc123", "### 1. Search (ID: todo_1)", ExecutionLogHeader, "2025-09-12T16:00:00Z"} {
		if !strings.Contains(doc, want) {
			t.Errorf("Missing %q in:\n%s", want, doc)
		}
	}
}
