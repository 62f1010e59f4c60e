package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/harun/aide/pkg/flow"
	"github.com/harun/aide/pkg/planner"
	"github.com/harun/aide/pkg/tools"
)

const (
	nodeClassify = "classify"
	nodePlan     = "plan"
	nodeExecute  = "execute"

	planWorkspacePrefix = "task_plan"
)

var (
	complexPattern  = regexp.MustCompile(`(?i)\b(research|analy[sz]e|analysis|comprehensive|detailed|business plan)\b`)
	greetingPattern = regexp.MustCompile(`(?i)\b(hi|hello|hey|thanks|thank you|good (morning|afternoon|evening))\b`)
)

// classifyHeuristic classifies goal without the LLM
func classifyHeuristic(goal string) *Intent {
	switch {
	case complexPattern.MatchString(goal):
		return &Intent{
			Complexity:     planner.ComplexityComplex,
			Category:       "research",
			UserIntent:     goal,
			RequiresTools:  true,
			EstimatedSteps: 6,
			Heuristic:      true,
		}
	case greetingPattern.MatchString(goal):
		return &Intent{
			Complexity:     planner.ComplexitySimple,
			Category:       "conversation",
			UserIntent:     goal,
			EstimatedSteps: 1,
			Heuristic:      true,
		}
	default:
		return &Intent{
			Complexity:     planner.ComplexityFocused,
			Category:       "task",
			UserIntent:     goal,
			RequiresTools:  true,
			EstimatedSteps: 3,
			Heuristic:      true,
		}
	}
}

// classifyNode decides whether a goal needs planning
type classifyNode struct {
	rt *runtime
}

func (n *classifyNode) Name() string { return nodeClassify }

func (n *classifyNode) Prep(_ context.Context, state *SharedContext) (any, error) {
	return fmt.Sprintf(classifyInstructions, state.Goal, renderHistory(state.RecentHistory(3))), nil
}

func (n *classifyNode) Exec(ctx context.Context, state *SharedContext, prep any) (any, error) {
	var intent Intent
	if err := n.rt.decide(ctx, state, prep.(string), intentSchema, &intent); err != nil {
		return nil, err
	}
	if intent.UserIntent == "" {
		intent.UserIntent = state.Goal
	}
	return &intent, nil
}

func (n *classifyNode) ExecFallback(ctx context.Context, state *SharedContext, _ any, err error) (any, error) {
	if ctx.Err() != nil {
		return nil, err
	}
	state.RecordError(nodeClassify, err)
	n.rt.nodeLogger(ctx, nodeClassify).Warn().Err(err).Msg("Classification failed, using heuristic")
	return classifyHeuristic(state.Goal), nil
}

func (n *classifyNode) Post(ctx context.Context, state *SharedContext, _, exec any) (flow.Action, error) {
	intent := exec.(*Intent)
	state.Intent = intent

	n.rt.nodeLogger(ctx, nodeClassify).Debug().
		Str("complexity", intent.Complexity).
		Bool("requires_tools", intent.RequiresTools).
		Bool("heuristic", intent.Heuristic).
		Msg("Goal classified")

	if intent.Complexity == planner.ComplexitySimple && !intent.RequiresTools {
		return flow.ActionRespond, nil
	}
	if intent.RequiresTools {
		return flow.ActionPlan, nil
	}
	return flow.ActionRespond, nil
}

type planPrep struct {
	prompt string
	infos  []planner.ToolInfo
}

// planNode builds a tool-aware plan and its workspace document
type planNode struct {
	rt *runtime
}

func (n *planNode) Name() string { return nodePlan }

func (n *planNode) Prep(ctx context.Context, state *SharedContext) (any, error) {
	infos := toolInfos(n.rt.available(ctx))
	var b strings.Builder
	for _, t := range infos {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	prompt := fmt.Sprintf(planInstructions, state.Goal, state.Complexity(), n.rt.planner.MaxTodos(), b.String())
	return &planPrep{prompt: prompt, infos: infos}, nil
}

func (n *planNode) Exec(ctx context.Context, state *SharedContext, prep any) (any, error) {
	var draft planner.Draft
	if err := n.rt.decide(ctx, state, prep.(*planPrep).prompt, draftSchema, &draft); err != nil {
		return nil, err
	}
	return draft, nil
}

func (n *planNode) ExecFallback(ctx context.Context, state *SharedContext, prep any, err error) (any, error) {
	if ctx.Err() != nil {
		return nil, err
	}
	state.RecordError(nodePlan, err)
	n.rt.nodeLogger(ctx, nodePlan).Warn().Err(err).Msg("Planning failed, using fallback plan")
	return planner.Fallback(state.Goal, state.Complexity(), prep.(*planPrep).infos, tools.VirtualFSName), nil
}

func (n *planNode) Post(ctx context.Context, state *SharedContext, prep, exec any) (flow.Action, error) {
	logger := n.rt.nodeLogger(ctx, nodePlan)
	infos := prep.(*planPrep).infos

	plan, err := n.rt.planner.Build(state.Goal, exec.(planner.Draft), infos)
	if err != nil {
		state.RecordError(nodePlan, err)
		logger.Warn().Err(err).Msg("Draft plan rejected, trying fallback plan")
		plan, err = n.rt.planner.Build(state.Goal, planner.Fallback(state.Goal, state.Complexity(), infos, tools.VirtualFSName), infos)
	}
	if err != nil {
		var pe *planner.PlanningError
		if !errors.As(err, &pe) {
			err = &planner.PlanningError{Goal: state.Goal, Reason: err.Error()}
		}
		state.PlanError = err
		state.RecordError(nodePlan, err)
		plan = &planner.Plan{Goal: state.Goal, Summary: "No executable plan", CreatedAt: n.rt.now()}
	}
	state.Plan = plan

	if _, _, err := n.rt.ensureWorkspace(ctx, state, planWorkspacePrefix, func(taskID string) string {
		return planner.RenderMarkdown(plan, taskID)
	}); err != nil {
		state.RecordError(nodePlan, err)
		logger.Warn().Err(err).Msg("Failed to create plan workspace")
	}

	logger.Info().Str("plan_id", plan.ID).Int("todos", len(plan.Todos)).Msg("Plan created")
	return flow.ActionExecute, nil
}

type stepOutcome struct {
	todo       *planner.Todo
	invocation *invocationResult
	eval       *evaluation
	evalErr    error
}

type invocationResult struct {
	inv *tools.Invocation
	err error
}

type evaluation struct {
	Completed    bool   `json:"todo_completed"`
	Summary      string `json:"execution_summary"`
	PlanComplete bool   `json:"plan_complete"`
}

// executeNode runs one todo per step and loops until the plan is exhausted
type executeNode struct {
	rt *runtime
}

func (n *executeNode) Name() string { return nodeExecute }

func (n *executeNode) Prep(_ context.Context, state *SharedContext) (any, error) {
	if state.Plan == nil || state.StepsCompleted >= n.rt.cfg.Planner.MaxSteps {
		return nil, nil
	}
	todo := state.Plan.Next()
	if todo == nil {
		return nil, nil
	}
	if todo.Status == planner.StatusPending {
		if err := todo.Transition(planner.StatusInProgress); err != nil {
			return nil, err
		}
	}
	todo.Attempts++
	return todo, nil
}

func (n *executeNode) Exec(ctx context.Context, state *SharedContext, prep any) (any, error) {
	todo, _ := prep.(*planner.Todo)
	if todo == nil {
		return nil, nil
	}
	out := &stepOutcome{todo: todo}

	succeeded := true
	outcome := todo.Description
	if todo.Tool != "" {
		inv, err := n.rt.registry.Call(ctx, todo.Tool, todo.Parameters)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		out.invocation = &invocationResult{inv: inv, err: err}
		succeeded = err == nil
		if err != nil {
			outcome = err.Error()
		} else if inv.Result != nil {
			outcome = inv.Result.Text()
		}
	}

	if succeeded && n.rt.cfg.Planner.EvaluateSteps {
		var ev evaluation
		tool := todo.Tool
		if tool == "" {
			tool = "none"
		}
		prompt := fmt.Sprintf(evaluateInstructions, state.Goal, todo.Title, todo.ID, tool, outcome, remaining(state.Plan, todo))
		if err := n.rt.decide(ctx, state, prompt, evaluationSchema, &ev); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			out.evalErr = err
		} else {
			out.eval = &ev
		}
	}
	return out, nil
}

func (n *executeNode) Post(ctx context.Context, state *SharedContext, _, exec any) (flow.Action, error) {
	logger := n.rt.nodeLogger(ctx, nodeExecute)
	out, _ := exec.(*stepOutcome)
	if out == nil {
		n.finish(state)
		return flow.ActionRespond, nil
	}

	todo := out.todo
	state.StepsCompleted++

	toolFailed := false
	var summary string
	if out.invocation != nil {
		inv, err := out.invocation.inv, out.invocation.err
		if inv != nil {
			rec := state.RecordInvocation(inv, err)
			summary = truncate(rec.ResultText(), 200)
		}
		if err != nil {
			toolFailed = true
			todo.Error = err.Error()
		}
	}
	if out.evalErr != nil {
		state.RecordError(nodeExecute, out.evalErr)
	}
	if out.eval != nil && out.eval.Summary != "" {
		summary = out.eval.Summary
	}

	switch {
	case toolFailed:
		if err := todo.Transition(planner.StatusFailed); err != nil {
			return "", err
		}
	case out.eval != nil && !out.eval.Completed && todo.Attempts <= n.rt.cfg.Planner.MaxTodoRetries:
		// stays in progress, Plan.Next picks it up again
	case out.eval != nil && !out.eval.Completed:
		todo.Error = fmt.Sprintf("not completed after %d attempts", todo.Attempts)
		if err := todo.Transition(planner.StatusFailed); err != nil {
			return "", err
		}
	default:
		todo.Result = summary
		if err := todo.Transition(planner.StatusDone); err != nil {
			return "", err
		}
	}

	if state.Workspace != nil {
		entry := planner.LogEntry(todo, summary, n.rt.now())
		if err := state.AppendWorkspace(n.rt.fs, planner.ExecutionLogHeader, entry); err != nil {
			state.RecordError(nodeExecute, err)
		}
	}

	logger.Info().
		Str("todo", todo.ID).
		Str("status", string(todo.Status)).
		Int("attempt", todo.Attempts).
		Int("steps_completed", state.StepsCompleted).
		Msg("Todo executed")

	if out.eval != nil && out.eval.PlanComplete && todo.Finished() {
		return flow.ActionRespond, nil
	}
	if state.Plan.Next() != nil && state.StepsCompleted < n.rt.cfg.Planner.MaxSteps {
		return flow.ActionExecute, nil
	}
	n.finish(state)
	return flow.ActionRespond, nil
}

// finish records why a plan stopped with unfinished todos
func (n *executeNode) finish(state *SharedContext) {
	if state.Plan == nil || state.FailureReason != "" {
		return
	}
	if blocked := state.Plan.Blocked(); len(blocked) > 0 {
		ids := make([]string, 0, len(blocked))
		for _, t := range blocked {
			ids = append(ids, t.ID)
		}
		state.FailureReason = "Dependency deadlock - blocked todos: " + strings.Join(ids, ", ")
		return
	}
	if state.Plan.Next() != nil {
		state.FailureReason = fmt.Sprintf("step limit of %d reached", n.rt.cfg.Planner.MaxSteps)
	}
}

func remaining(plan *planner.Plan, current *planner.Todo) string {
	var b strings.Builder
	for _, t := range plan.Todos {
		if t == current || t.Finished() {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", t.ID, t.Title)
	}
	if b.Len() == 0 {
		return "(none)"
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return tools.TruncateUTF8(s, n) + "..."
}
