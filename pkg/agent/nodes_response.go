package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/aide/pkg/flow"
	"github.com/harun/aide/pkg/planner"
)

const (
	nodeRespond = "respond"
	nodeEnd     = "end"
)

type respondPrep struct {
	prompt string
	// direct is an answer that needs no LLM call
	direct string
}

// respondNode writes the final answer
type respondNode struct {
	rt *runtime
}

func (n *respondNode) Name() string { return nodeRespond }

func (n *respondNode) Prep(_ context.Context, state *SharedContext) (any, error) {
	state.SyncWorkspace(n.rt.fs)

	// a draft written by think with nothing gathered since is the answer
	if state.Draft != "" && len(state.Invocations) == 0 && !state.Synthesized && state.Plan == nil {
		return &respondPrep{direct: state.Draft}, nil
	}

	var extra strings.Builder
	if state.Plan != nil {
		fmt.Fprintf(&extra, "\nPlan progress:\n%s\n", planProgress(state))
		fmt.Fprintf(&extra, "Review: %s\n", planner.Reflect(state.Plan).Summary())
	}
	if state.Synthesized && state.Workspace != nil {
		fmt.Fprintf(&extra, "\nConsolidated document (%s):\n%s\n", state.Workspace.Filename, state.Workspace.Content)
	} else if state.Draft != "" {
		fmt.Fprintf(&extra, "\nDraft answer:\n%s\n", state.Draft)
	}
	if state.Budget != nil {
		extra.WriteString("\nThe work was cut short by the step budget; say what is still missing.\n")
	}

	prompt := fmt.Sprintf(respondInstructions,
		state.Goal,
		renderHistory(state.RecentHistory(n.rt.cfg.HistoryWindow)),
		strings.Join(state.Thoughts, "\n"),
		renderInvocations(state.Invocations, 0),
		extra.String(),
	)
	return &respondPrep{prompt: prompt}, nil
}

func (n *respondNode) Exec(ctx context.Context, state *SharedContext, prep any) (any, error) {
	p := prep.(*respondPrep)
	if p.direct != "" {
		return p.direct, nil
	}
	text, err := n.rt.ask(ctx, state, p.prompt, false)
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(text), nil
}

func (n *respondNode) ExecFallback(ctx context.Context, state *SharedContext, _ any, err error) (any, error) {
	state.RecordError(nodeRespond, err)
	n.rt.nodeLogger(ctx, nodeRespond).Warn().Err(err).Msg("Response generation failed, using template")
	return fallbackResponse(state), nil
}

func (n *respondNode) Post(_ context.Context, state *SharedContext, _, exec any) (flow.Action, error) {
	state.Response = exec.(string)
	state.Terminated = true
	return flow.ActionEnd, nil
}

// endNode closes the run and guarantees a non-empty response
type endNode struct{}

func (n *endNode) Name() string { return nodeEnd }

func (n *endNode) Prep(context.Context, *SharedContext) (any, error) {
	return nil, nil
}

func (n *endNode) Exec(_ context.Context, state *SharedContext, _ any) (any, error) {
	switch {
	case strings.TrimSpace(state.Response) != "":
		return state.Response, nil
	case strings.TrimSpace(state.Draft) != "":
		return state.Draft, nil
	default:
		return fallbackResponse(state), nil
	}
}

func (n *endNode) Post(_ context.Context, state *SharedContext, _, exec any) (flow.Action, error) {
	state.Response = exec.(string)
	state.Terminated = true
	return flow.ActionEnd, nil
}

func planProgress(state *SharedContext) string {
	var b strings.Builder
	for _, t := range state.Plan.Todos {
		fmt.Fprintf(&b, "- [%s] %s", t.Status, t.Title)
		switch {
		case t.Error != "":
			fmt.Fprintf(&b, ": %s", t.Error)
		case t.Result != "":
			fmt.Fprintf(&b, ": %s", truncate(t.Result, 200))
		}
		b.WriteByte('\n')
	}
	if state.FailureReason != "" {
		fmt.Fprintf(&b, "Stopped early: %s\n", state.FailureReason)
	}
	return strings.TrimRight(b.String(), "\n")
}

// fallbackResponse renders an answer from the state alone
func fallbackResponse(state *SharedContext) string {
	var b strings.Builder
	if state.Budget != nil {
		b.WriteString("I ran out of time for this request, so here is what I have so far. ")
	}

	switch {
	case state.Synthesized && state.Workspace != nil && strings.TrimSpace(state.Workspace.Content) != "":
		b.WriteString("Here is what I put together:\n\n")
		b.WriteString(state.Workspace.Content)

	case state.Plan != nil && len(state.Plan.Todos) > 0:
		counts := state.Plan.Counts()
		fmt.Fprintf(&b, "I worked through your request in %d steps: %d of %d tasks completed",
			state.StepsCompleted, counts[planner.StatusDone], len(state.Plan.Todos))
		if failed := counts[planner.StatusFailed]; failed > 0 {
			fmt.Fprintf(&b, ", %d failed", failed)
		}
		b.WriteString(".\n\n")
		b.WriteString(planProgress(state))
		for _, hint := range planner.Reflect(state.Plan).Suggestions {
			b.WriteString("\n")
			b.WriteString(hint.Description)
		}

	case len(state.Successful()) > 0:
		recs := state.Successful()
		parts := make([]string, 0, len(recs))
		for _, r := range recs {
			parts = append(parts, fmt.Sprintf("%s: %s", r.Tool, truncate(r.ResultText(), 100)))
		}
		fmt.Fprintf(&b, "I've completed your request using %d tools. Here's what I accomplished: %s",
			len(recs), strings.Join(parts, "; "))

	case len(state.Invocations) > 0:
		b.WriteString("I attempted to use tools to help with your request, but encountered some issues. Please try again or rephrase your request.")

	default:
		fmt.Fprintf(&b, "I understand you want help with: %s. I'm ready to assist you with various tasks using my available tools.", state.Goal)
	}
	return strings.TrimSpace(b.String())
}
