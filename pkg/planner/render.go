package planner

import (
	"fmt"
	"strings"
	"time"
)

// ExecutionLogHeader marks the section that progress entries are appended to.
const ExecutionLogHeader = "## Execution Log"

// RenderMarkdown renders the plan workspace document.
func RenderMarkdown(plan *Plan, taskID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task Plan: %s\n\n", taskID)
	fmt.Fprintf(&b, "## Goal\n%s\n\n", plan.Goal)
	fmt.Fprintf(&b, "## Plan Summary\n%s\n\n", plan.Summary)
	if plan.SuccessCriteria != "" {
		fmt.Fprintf(&b, "## Success Criteria\n%s\n\n", plan.SuccessCriteria)
	}

	b.WriteString("## Todo List\n")
	for i, t := range plan.Todos {
		tool := t.Tool
		if tool == "" {
			tool = "None"
		}
		deps := "None"
		if len(t.DependsOn) > 0 {
			deps = strings.Join(t.DependsOn, ", ")
		}
		fmt.Fprintf(&b, "\n### %d. %s (ID: %s)\n", i+1, t.Title, t.ID)
		fmt.Fprintf(&b, "- Description: %s\n", t.Description)
		fmt.Fprintf(&b, "- Tool: %s\n", tool)
		fmt.Fprintf(&b, "- Dependencies: %s\n", deps)
	}

	fmt.Fprintf(&b, "\n%s\n- %s: plan created\n", ExecutionLogHeader, plan.CreatedAt.UTC().Format(time.RFC3339))
	return b.String()
}

// LogEntry formats one execution log line for todo.
func LogEntry(todo *Todo, summary string, at time.Time) string {
	mark := "done"
	switch todo.Status {
	case StatusFailed:
		mark = "failed"
	case StatusInProgress:
		mark = "retrying"
	}
	line := fmt.Sprintf("- %s: [%s] %s (%s, attempt %d)", at.UTC().Format(time.RFC3339), mark, todo.Title, todo.ID, todo.Attempts)
	if todo.Tool != "" {
		line += fmt.Sprintf(" tool=%s", todo.Tool)
	}
	if summary != "" {
		line += "\n  " + strings.ReplaceAll(summary, "\n", " ")
	}
	return line
}
