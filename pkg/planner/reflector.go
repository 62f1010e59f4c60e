package planner

import (
	"fmt"
	"strings"
)

// Reflection summarizes how a plan went
type Reflection struct {
	PlanID      string       `json:"plan_id"`
	Completed   int          `json:"completed"`
	Failed      int          `json:"failed"`
	Pending     int          `json:"pending"`
	Issues      []Issue      `json:"issues"`
	Suggestions []Suggestion `json:"suggestions"`
}

// Issue represents a problem identified during reflection
type Issue struct {
	TodoID      string        `json:"todo_id"`
	Severity    IssueSeverity `json:"severity"`
	Description string        `json:"description"`
	Error       string        `json:"error,omitempty"`
}

// IssueSeverity represents the severity of an issue
type IssueSeverity string

const (
	IssueSeverityLow    IssueSeverity = "low"
	IssueSeverityMedium IssueSeverity = "medium"
	IssueSeverityHigh   IssueSeverity = "high"
)

// Suggestion is a user-facing hint about a failed or skipped todo
type Suggestion struct {
	TodoID      string `json:"todo_id"`
	Description string `json:"description"`
}

// Reflect reviews a finished (or abandoned) plan.
func Reflect(plan *Plan) *Reflection {
	r := &Reflection{}
	if plan == nil {
		return r
	}
	r.PlanID = plan.ID

	for _, todo := range plan.Todos {
		switch todo.Status {
		case StatusDone:
			r.Completed++
			if todo.Attempts > 1 {
				r.Issues = append(r.Issues, Issue{
					TodoID:      todo.ID,
					Severity:    IssueSeverityLow,
					Description: fmt.Sprintf("%q needed %d attempts", todo.Title, todo.Attempts),
				})
			}
		case StatusFailed:
			r.Failed++
			r.Issues = append(r.Issues, Issue{
				TodoID:      todo.ID,
				Severity:    severityFor(todo),
				Description: fmt.Sprintf("%q failed", todo.Title),
				Error:       todo.Error,
			})
			if s := suggestionFor(todo); s != nil {
				r.Suggestions = append(r.Suggestions, *s)
			}
		default:
			r.Pending++
			r.Issues = append(r.Issues, Issue{
				TodoID:      todo.ID,
				Severity:    IssueSeverityMedium,
				Description: fmt.Sprintf("%q was not run", todo.Title),
			})
		}
	}
	return r
}

// Summary renders a one-paragraph description of the reflection.
func (r *Reflection) Summary() string {
	total := r.Completed + r.Failed + r.Pending
	if total == 0 {
		return "No plan steps were executed."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Completed %d of %d planned steps", r.Completed, total)
	if r.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", r.Failed)
	}
	if r.Pending > 0 {
		fmt.Fprintf(&b, ", %d not run", r.Pending)
	}
	b.WriteString(".")
	for _, s := range r.Suggestions {
		b.WriteString(" ")
		b.WriteString(s.Description)
	}
	return b.String()
}

func severityFor(todo *Todo) IssueSeverity {
	if todo.Attempts >= 2 {
		return IssueSeverityHigh
	}
	return IssueSeverityMedium
}

// suggestionFor maps common error patterns to a hint
func suggestionFor(todo *Todo) *Suggestion {
	if todo.Error == "" {
		return nil
	}

	msg := strings.ToLower(todo.Error)
	hint := "Review the error and try again."
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		hint = "The step timed out; retrying later may succeed."
	case strings.Contains(msg, "rate limit"):
		hint = "The tool is rate limited; wait before retrying."
	case strings.Contains(msg, "not authorized") || strings.Contains(msg, "permission") || strings.Contains(msg, "denied"):
		hint = "Access to the tool is not authorized; check the connected accounts."
	case strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist"):
		hint = "A required resource was not found."
	case strings.Contains(msg, "parameter"):
		hint = "The tool arguments were invalid."
	}
	return &Suggestion{TodoID: todo.ID, Description: fmt.Sprintf("%s: %s", todo.Title, hint)}
}
