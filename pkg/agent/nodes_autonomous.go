package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harun/aide/pkg/flow"
)

const (
	nodeWorkspace  = "workspace"
	nodeThink      = "think"
	nodeTools      = "tools"
	nodeSynthesize = "synthesize"

	researchWorkspacePrefix = "research"

	findingsHeader = "## Findings"
	sourcesHeader  = "## Sources"
	notesHeader    = "## Notes"
)

// renderResearchWorkspace returns the initial research document
func renderResearchWorkspace(goal string, at time.Time) string {
	return fmt.Sprintf("# Research Findings: %s\n\n_Created: %s_\n\n%s\n\n%s\n\n%s\n",
		firstLine(goal), at.UTC().Format(time.RFC3339), findingsHeader, sourcesHeader, notesHeader)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(s, 80)
}

// workspaceNode creates the research workspace of an autonomous turn
type workspaceNode struct {
	rt *runtime
}

func (n *workspaceNode) Name() string { return nodeWorkspace }

func (n *workspaceNode) Prep(context.Context, *SharedContext) (any, error) {
	return nil, nil
}

func (n *workspaceNode) Exec(ctx context.Context, state *SharedContext, _ any) (any, error) {
	_, created, err := n.rt.ensureWorkspace(ctx, state, researchWorkspacePrefix, func(string) string {
		return renderResearchWorkspace(state.Goal, n.rt.now())
	})
	return created, err
}

func (n *workspaceNode) ExecFallback(ctx context.Context, state *SharedContext, _ any, err error) (any, error) {
	// the turn can still run without a scratchpad
	state.RecordError(nodeWorkspace, err)
	n.rt.nodeLogger(ctx, nodeWorkspace).Warn().Err(err).Msg("Failed to create workspace")
	return false, nil
}

func (n *workspaceNode) Post(ctx context.Context, state *SharedContext, _, exec any) (flow.Action, error) {
	if created, _ := exec.(bool); created {
		n.rt.nodeLogger(ctx, nodeWorkspace).Debug().Str("file", state.Workspace.Filename).Msg("Workspace created")
	}
	return flow.ActionThink, nil
}

type decision struct {
	Thinking  string     `json:"thinking"`
	Action    string     `json:"action"`
	ToolCalls []ToolCall `json:"tool_calls"`
	Response  string     `json:"response"`
}

type thinkPrep struct {
	prompt          string
	searchAvailable bool
	ceiling         bool
}

// thinkNode picks the next step. In autonomous mode it loops on itself and
// every respond or end choice passes the completion gate first.
type thinkNode struct {
	rt         *runtime
	autonomous bool
}

func (n *thinkNode) Name() string { return nodeThink }

func (n *thinkNode) Prep(ctx context.Context, state *SharedContext) (any, error) {
	defs := n.rt.available(ctx)
	prep := &thinkPrep{searchAvailable: searchAvailable(defs)}
	if n.autonomous && state.Iterations >= n.rt.cfg.Autonomous.MaxIterations {
		prep.ceiling = true
		return prep, nil
	}

	state.SyncWorkspace(n.rt.fs)
	wsName, wsContent := "none", "(no workspace)"
	if state.Workspace != nil {
		wsName, wsContent = state.Workspace.Filename, state.Workspace.Content
	}
	actions := `"tools" | "respond" | "end"`
	if n.autonomous {
		actions = `"tools" | "think" | "synthesize" | "respond" | "end"`
	}
	prep.prompt = fmt.Sprintf(thinkInstructions,
		state.Goal,
		renderHistory(state.RecentHistory(n.rt.cfg.HistoryWindow)),
		renderTools(n.rt.registry, defs),
		renderInvocations(state.Invocations, 20),
		wsName, wsContent,
		strings.Join(state.Thoughts, "\n"),
		actions,
	)
	return prep, nil
}

func (n *thinkNode) Exec(ctx context.Context, state *SharedContext, prep any) (any, error) {
	p := prep.(*thinkPrep)
	if p.ceiling {
		return &decision{
			Thinking: fmt.Sprintf("Reached the limit of %d iterations", n.rt.cfg.Autonomous.MaxIterations),
			Action:   string(flow.ActionRespond),
		}, nil
	}
	var d decision
	if err := n.rt.decide(ctx, state, p.prompt, decisionSchema, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (n *thinkNode) ExecFallback(ctx context.Context, state *SharedContext, _ any, err error) (any, error) {
	if ctx.Err() != nil {
		return nil, err
	}
	state.RecordError(nodeThink, err)
	n.rt.nodeLogger(ctx, nodeThink).Warn().Err(err).Msg("Thinking failed, responding with what is known")
	return &decision{
		Thinking: "I encountered an issue while processing your request.",
		Action:   string(flow.ActionRespond),
	}, nil
}

func (n *thinkNode) Post(ctx context.Context, state *SharedContext, prep, exec any) (flow.Action, error) {
	p := prep.(*thinkPrep)
	d := exec.(*decision)
	logger := n.rt.nodeLogger(ctx, nodeThink)

	state.Iterations++
	if d.Thinking != "" {
		state.Thoughts = append(state.Thoughts, d.Thinking)
	}
	if d.Response != "" {
		state.Draft = d.Response
	}

	if p.ceiling {
		logger.Warn().Int("iterations", state.Iterations-1).Msg("Iteration ceiling reached")
		if n.rt.gate.Validate(state, p.searchAvailable).Verdict == VerdictNeedsSynthesis {
			return flow.ActionSynthesize, nil
		}
		return flow.ActionRespond, nil
	}

	action := flow.Action(d.Action)
	logger.Debug().Str("action", string(action)).Int("iteration", state.Iterations).Msg("Decision made")

	switch action {
	case flow.ActionTools:
		calls := validCalls(d.ToolCalls)
		if len(calls) > 0 {
			state.Pending = calls
			state.ReturnTo = flow.ActionRespond
			if n.autonomous {
				state.ReturnTo = flow.ActionThink
			}
			return flow.ActionTools, nil
		}
		if n.autonomous {
			return flow.ActionThink, nil
		}
		return flow.ActionRespond, nil

	case flow.ActionThink, flow.ActionSynthesize:
		if !n.autonomous {
			return flow.ActionRespond, nil
		}
		return action, nil

	default: // respond, end
		if !n.autonomous {
			if action == flow.ActionEnd && state.Draft != "" {
				state.Response = state.Draft
				return flow.ActionEnd, nil
			}
			return flow.ActionRespond, nil
		}

		verdict := n.rt.gate.Validate(state, p.searchAvailable)
		switch verdict.Verdict {
		case VerdictNeedsSynthesis:
			logger.Info().Strs("issues", verdict.Issues).Msg("Completion gate requires synthesis")
			return flow.ActionSynthesize, nil
		case VerdictNeedsResearch:
			logger.Info().Strs("issues", verdict.Issues).Msg("Completion gate requires more research")
			state.Thoughts = append(state.Thoughts, "Not done yet: "+strings.Join(verdict.Issues, "; "))
			return flow.ActionThink, nil
		}
		if action == flow.ActionEnd && state.Draft != "" {
			state.Response = state.Draft
			return flow.ActionEnd, nil
		}
		return flow.ActionRespond, nil
	}
}

func validCalls(calls []ToolCall) []ToolCall {
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		if strings.TrimSpace(c.Tool) != "" {
			out = append(out, c)
		}
	}
	return out
}

// toolsNode runs the pending tool calls and routes back to the requester
type toolsNode struct {
	rt *runtime
}

func (n *toolsNode) Name() string { return nodeTools }

func (n *toolsNode) Prep(_ context.Context, state *SharedContext) (any, error) {
	calls := state.Pending
	state.Pending = nil
	return calls, nil
}

func (n *toolsNode) Exec(ctx context.Context, _ *SharedContext, prep any) (any, error) {
	calls := prep.([]ToolCall)
	results := make([]invocationResult, 0, len(calls))
	for _, c := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inv, err := n.rt.registry.Call(ctx, c.Tool, c.Parameters)
		results = append(results, invocationResult{inv: inv, err: err})
	}
	return results, nil
}

func (n *toolsNode) Post(ctx context.Context, state *SharedContext, _, exec any) (flow.Action, error) {
	logger := n.rt.nodeLogger(ctx, nodeTools)
	failed := 0
	for _, r := range exec.([]invocationResult) {
		rec := state.RecordInvocation(r.inv, r.err)
		state.StepsCompleted++
		if !rec.Success {
			failed++
			logger.Warn().Str("tool", rec.Tool).Str("error", rec.Error).Msg("Tool call failed")
		}
	}
	logger.Debug().Int("calls", len(exec.([]invocationResult))).Int("failed", failed).Msg("Tool calls completed")

	route := state.ReturnTo
	if route == "" {
		route = flow.ActionRespond
	}
	if route == flow.ActionThink && !state.Synthesized &&
		state.StepsCompleted > n.rt.cfg.Autonomous.SynthesisStepThreshold {
		return flow.ActionSynthesize, nil
	}
	return route, nil
}

// synthesizeNode consolidates research into the workspace document
type synthesizeNode struct {
	rt *runtime
}

func (n *synthesizeNode) Name() string { return nodeSynthesize }

func (n *synthesizeNode) Prep(_ context.Context, state *SharedContext) (any, error) {
	state.SyncWorkspace(n.rt.fs)
	current := "(empty)"
	if state.Workspace != nil {
		current = state.Workspace.Content
	}
	research := renderResearch(state.Successful())
	return fmt.Sprintf(synthesizeInstructions, state.Goal, current, research), nil
}

func (n *synthesizeNode) Exec(ctx context.Context, state *SharedContext, prep any) (any, error) {
	text, err := n.rt.ask(ctx, state, prep.(string), false)
	if err != nil {
		return nil, err
	}
	doc := StripEmptySections(text)
	if doc == "" {
		return nil, errEmptyCompletion
	}
	return doc, nil
}

func (n *synthesizeNode) ExecFallback(ctx context.Context, state *SharedContext, _ any, err error) (any, error) {
	if ctx.Err() != nil {
		return nil, err
	}
	state.RecordError(nodeSynthesize, err)
	n.rt.nodeLogger(ctx, nodeSynthesize).Warn().Err(err).Msg("Synthesis failed, compiling findings from tool results")
	return compileFindings(state), nil
}

func (n *synthesizeNode) Post(ctx context.Context, state *SharedContext, _, exec any) (flow.Action, error) {
	doc := exec.(string)
	if _, _, err := n.rt.ensureWorkspace(ctx, state, researchWorkspacePrefix, func(string) string { return doc }); err != nil {
		state.RecordError(nodeSynthesize, err)
	} else if err := state.UpdateWorkspace(n.rt.fs, doc); err != nil {
		state.RecordError(nodeSynthesize, err)
	}
	state.Synthesized = true
	state.Draft = doc

	n.rt.nodeLogger(ctx, nodeSynthesize).Info().Int("chars", len(doc)).Msg("Workspace synthesized")
	return flow.ActionRespond, nil
}

func renderResearch(recs []ToolInvocationRecord) string {
	if len(recs) == 0 {
		return "(no tool results)"
	}
	var b strings.Builder
	for i, r := range recs {
		fmt.Fprintf(&b, "### %d. %s %s\n%s\n\n", i+1, r.Tool, paramSummary(r.Parameters), r.ResultText())
	}
	return strings.TrimSpace(b.String())
}

func paramSummary(p map[string]any) string {
	if len(p) == 0 {
		return ""
	}
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return truncate(string(data), 120)
}

// compileFindings builds the consolidated document without the LLM: the
// workspace content with the successful tool results under Findings and the
// calls that produced them under Sources.
func compileFindings(state *SharedContext) string {
	content := renderResearchWorkspace(state.Goal, time.Now())
	if state.Workspace != nil && state.Workspace.Content != "" {
		content = state.Workspace.Content
	}

	recs := state.Successful()
	for i, r := range recs {
		text := strings.TrimSpace(r.ResultText())
		if text == "" {
			continue
		}
		content = insertUnder(content, findingsHeader, fmt.Sprintf("\n### %d. %s\n%s", i+1, r.Tool, text))
		source := fmt.Sprintf("- %s %s", r.Tool, paramSummary(r.Parameters))
		content = insertUnder(content, sourcesHeader, strings.TrimSpace(source))
	}
	if doc := StripEmptySections(content); doc != "" {
		return doc
	}
	return fmt.Sprintf("# Results: %s\n\nNo research results were gathered for this request.", firstLine(state.Goal))
}
