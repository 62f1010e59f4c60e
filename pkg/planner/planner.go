package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxTodos bounds a plan when no limit is configured.
const DefaultMaxTodos = 8

// Planner turns drafts into validated, tool-aware plans
type Planner struct {
	maxTodos int
}

// NewPlanner creates a planner that keeps at most maxTodos todos per plan
func NewPlanner(maxTodos int) *Planner {
	if maxTodos <= 0 {
		maxTodos = DefaultMaxTodos
	}
	return &Planner{maxTodos: maxTodos}
}

// MaxTodos returns the configured plan size limit.
func (p *Planner) MaxTodos() int {
	return p.maxTodos
}

// Build validates draft against the tools available to the user. Todos that
// name an unavailable tool are dropped, dependencies on dropped or unknown
// todos are removed, the list is capped and IDs are reassigned as todo_<n>.
// A plan with no todos left, or with a dependency cycle, is a PlanningError.
func (p *Planner) Build(goal string, draft Draft, available []ToolInfo) (*Plan, error) {
	tools := make(map[string]bool, len(available))
	for _, t := range available {
		tools[t.Name] = true
	}

	type entry struct {
		draftID string
		todo    DraftTodo
	}

	var (
		kept    []entry
		dropped []string
		seen    = make(map[string]bool)
	)
	for i, dt := range draft.Todos {
		id := strings.TrimSpace(dt.ID)
		if id == "" || seen[id] {
			id = fmt.Sprintf("draft_%d", i+1)
		}
		seen[id] = true

		tool := strings.TrimSpace(dt.Tool)
		if tool != "" && !tools[tool] {
			dropped = append(dropped, id)
			continue
		}
		dt.Tool = tool
		kept = append(kept, entry{draftID: id, todo: dt})
	}

	if len(kept) > p.maxTodos {
		for _, e := range kept[p.maxTodos:] {
			dropped = append(dropped, e.draftID)
		}
		kept = kept[:p.maxTodos]
	}

	if len(kept) == 0 {
		return nil, &PlanningError{Goal: goal, Reason: "no executable todos", Dropped: dropped}
	}

	ids := make(map[string]string, len(kept))
	for i, e := range kept {
		ids[e.draftID] = fmt.Sprintf("todo_%d", i+1)
	}

	plan := &Plan{
		ID:              uuid.New().String(),
		Goal:            goal,
		Summary:         strings.TrimSpace(draft.Summary),
		SuccessCriteria: strings.TrimSpace(draft.SuccessCriteria),
		Todos:           make([]*Todo, 0, len(kept)),
		CreatedAt:       time.Now(),
	}
	if plan.Summary == "" {
		plan.Summary = fmt.Sprintf("Plan for: %s", goal)
	}

	for _, e := range kept {
		id := ids[e.draftID]
		var deps []string
		depSeen := make(map[string]bool)
		for _, d := range e.todo.DependsOn {
			target, ok := ids[strings.TrimSpace(d)]
			if !ok || target == id || depSeen[target] {
				continue
			}
			depSeen[target] = true
			deps = append(deps, target)
		}
		sort.Strings(deps)

		title := strings.TrimSpace(e.todo.Title)
		if title == "" {
			title = firstLine(e.todo.Description)
		}

		plan.Todos = append(plan.Todos, &Todo{
			ID:          id,
			Title:       title,
			Description: strings.TrimSpace(e.todo.Description),
			Status:      StatusPending,
			Tool:        e.todo.Tool,
			Parameters:  e.todo.Parameters,
			DependsOn:   deps,
		})
	}

	if err := checkCircularDependencies(plan.Todos); err != nil {
		return nil, &PlanningError{Goal: goal, Reason: err.Error(), Dropped: dropped}
	}

	return plan, nil
}

// checkCircularDependencies detects cycles with a depth-first search
func checkCircularDependencies(todos []*Todo) error {
	graph := make(map[string][]string, len(todos))
	order := make([]string, 0, len(todos))
	for _, t := range todos {
		graph[t.ID] = t.DependsOn
		order = append(order, t.ID)
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(string) bool
	hasCycle = func(id string) bool {
		visited[id] = true
		recStack[id] = true

		for _, dep := range graph[id] {
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if recStack[dep] {
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for _, id := range order {
		if !visited[id] && hasCycle(id) {
			return fmt.Errorf("circular dependency detected involving todo: %s", id)
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 60 {
		s = s[:60]
	}
	if s == "" {
		return "Untitled step"
	}
	return s
}
