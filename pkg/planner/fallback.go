package planner

import "fmt"

// Complexity levels produced by intent classification.
const (
	ComplexitySimple  = "simple"
	ComplexityFocused = "focused"
	ComplexityComplex = "complex"
)

// Fallback returns a heuristic draft for when the LLM cannot produce a plan.
// Search steps use the first available search tool and file steps use
// workspaceTool; steps naming tools that are not available are dropped later
// by Build.
func Fallback(goal, complexity string, available []ToolInfo, workspaceTool string) Draft {
	search := ""
	for _, t := range available {
		if t.Search {
			search = t.Name
			break
		}
	}

	switch complexity {
	case ComplexitySimple:
		return Draft{
			Summary:         "Answer the request directly",
			SuccessCriteria: "The user's request is answered",
			Todos: []DraftTodo{{
				ID:          "todo_1",
				Title:       "Complete simple request",
				Description: "Handle the user's request directly",
			}},
		}

	case ComplexityComplex:
		draft := Draft{
			Summary:         fmt.Sprintf("Research and report on: %s", goal),
			SuccessCriteria: "All todos completed successfully",
		}
		if search != "" {
			draft.Todos = append(draft.Todos, DraftTodo{
				ID:          "research",
				Title:       "Initial research",
				Description: "Conduct comprehensive research on the topic",
				Tool:        search,
				Parameters:  map[string]any{"query": goal},
			})
		}
		draft.Todos = append(draft.Todos,
			DraftTodo{
				ID:          "workspace",
				Title:       "Create workspace",
				Description: "Set up an organized workspace for the project",
				Tool:        workspaceTool,
				Parameters:  map[string]any{"action": "create", "filename": "project_workspace.md", "content": "# Project Workspace\n"},
			},
			DraftTodo{
				ID:          "analyze",
				Title:       "Analyze findings",
				Description: "Analyze and synthesize research findings",
				DependsOn:   []string{"research", "workspace"},
			},
			DraftTodo{
				ID:          "deliverable",
				Title:       "Create final deliverable",
				Description: "Create the final output",
				Tool:        workspaceTool,
				Parameters:  map[string]any{"action": "write", "filename": "final_report.md", "content": fmt.Sprintf("# Report\n\n%s\n", goal)},
				DependsOn:   []string{"analyze"},
			},
		)
		return draft

	default:
		draft := Draft{
			Summary:         fmt.Sprintf("Answer: %s", goal),
			SuccessCriteria: "All todos completed successfully",
		}
		if search != "" {
			draft.Todos = append(draft.Todos, DraftTodo{
				ID:          "research",
				Title:       "Research information",
				Description: "Gather relevant information for the request",
				Tool:        search,
				Parameters:  map[string]any{"query": goal},
			})
		}
		draft.Todos = append(draft.Todos, DraftTodo{
			ID:          "respond",
			Title:       "Create response",
			Description: "Compile findings into a helpful response",
			Tool:        workspaceTool,
			Parameters:  map[string]any{"action": "write", "filename": "response.md", "content": fmt.Sprintf("# Response\n\n%s\n", goal)},
			DependsOn:   []string{"research"},
		})
		return draft
	}
}
