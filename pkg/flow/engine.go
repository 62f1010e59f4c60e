package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/aide/internal/observability"
	"github.com/harun/aide/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "aide.flow"

// Limits bound a single run. Zero values disable the corresponding check.
type Limits struct {
	MaxSteps int
	Timeout  time.Duration
	// FallbackTimeout bounds the fallback step once the run deadline has
	// passed. Zero means Timeout.
	FallbackTimeout time.Duration
}

// StepRecord describes one executed node.
type StepRecord struct {
	Node     string
	Action   Action
	Duration time.Duration
	Forced   bool
}

// Result summarizes a finished run.
type Result struct {
	Steps      int
	Path       []StepRecord
	LastNode   string
	LastAction Action
	Budget     *BudgetExceededError
	Duration   time.Duration
}

// Engine runs a frozen graph. One engine may serve many concurrent runs as
// long as each run has its own state.
type Engine[S any] struct {
	name     string
	graph    *Graph[S]
	limits   Limits
	fallback Node[S]
	now      func() time.Time
}

// NewEngine validates graph and freezes a copy of its edge table.
func NewEngine[S any](name string, graph *Graph[S], limits Limits) (*Engine[S], error) {
	if graph == nil {
		return nil, ErrNilStart
	}
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph %q: %w", name, err)
	}
	if limits.MaxSteps < 0 {
		return nil, fmt.Errorf("invalid graph %q: negative step limit", name)
	}
	return &Engine[S]{
		name:   name,
		graph:  graph.clone(),
		limits: limits,
		now:    time.Now,
	}, nil
}

// WithFallback names the node run as the final step when a budget is
// exceeded. The node must belong to the graph.
func (e *Engine[S]) WithFallback(node Node[S]) (*Engine[S], error) {
	if node == nil {
		e.fallback = nil
		return e, nil
	}
	if n, ok := e.graph.Node(node.Name()); !ok || n != node {
		return nil, fmt.Errorf("%w: fallback %q", ErrUnknownNode, node.Name())
	}
	e.fallback = node
	return e, nil
}

func (e *Engine[S]) Name() string {
	return e.name
}

func (e *Engine[S]) Limits() Limits {
	return e.limits
}

// Run drives state from the start node until a terminal node finishes, a
// budget forces the fallback node, or ctx is cancelled. The returned Result is
// never nil.
func (e *Engine[S]) Run(ctx context.Context, state S) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "flow.run",
		attribute.String("flow.topology", e.name),
		attribute.Int("flow.max_steps", e.limits.MaxSteps),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().
		Str("component", "flow").
		Str("topology", e.name).
		Logger()

	started := e.now()
	res := &Result{}

	stepCtx := ctx
	if e.limits.Timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, e.limits.Timeout)
		defer cancel()
	}

	finish := func(outcome string, err error) (*Result, error) {
		res.Duration = e.now().Sub(started)
		span.SetAttributes(
			attribute.Int("flow.steps", res.Steps),
			attribute.String("flow.outcome", outcome),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RecordFlowRun(e.name, outcome, res.Steps)
		logger.Debug().
			Int("steps", res.Steps).
			Str("outcome", outcome).
			Str("last_node", res.LastNode).
			Dur("duration", res.Duration).
			Msg("Flow run finished")
		return res, err
	}

	exceeded := func(budget *BudgetExceededError, node string) {
		res.Budget = budget
		observability.RecordBudgetExceeded(e.name, budget.Limit)
		if aware, ok := any(state).(BudgetAware); ok {
			aware.BudgetExceeded(budget)
		}
		logger.Warn().
			Str("limit", budget.Limit).
			Int("steps", budget.Steps).
			Str("node", node).
			Msg("Flow budget exceeded")
	}

	current := e.graph.Start()
	// interrupted is set when the run deadline cut a step short
	var interrupted *BudgetExceededError
	for {
		if err := ctx.Err(); err != nil {
			return finish("cancelled", err)
		}

		forced := false
		budget := interrupted
		if budget == nil {
			budget = e.checkBudget(current, res.Steps+1, started)
			if budget != nil {
				exceeded(budget, current.Name())
			}
		}
		if budget != nil {
			if e.fallback == nil {
				return finish("budget_exceeded", nil)
			}
			current = e.fallback
			forced = true
		}

		runCtx := stepCtx
		if forced {
			// The fallback answers even when the run deadline has passed.
			var cancel context.CancelFunc
			runCtx, cancel = e.fallbackContext(ctx)
			defer cancel()
		}

		action, dur, err := e.step(runCtx, current, state)
		res.Steps++
		res.LastNode = current.Name()
		res.LastAction = action
		res.Path = append(res.Path, StepRecord{
			Node:     current.Name(),
			Action:   action,
			Duration: dur,
			Forced:   forced,
		})
		observability.RecordFlowStep(e.name, current.Name(), string(action), dur)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return finish("cancelled", err)
			}
			if !forced && ctx.Err() == nil && stepCtx.Err() != nil {
				interrupted = e.timeBudget(res.Steps, e.now().Sub(started),
					fmt.Sprintf("run deadline %s interrupted %q", e.limits.Timeout, current.Name()))
				exceeded(interrupted, current.Name())
				if e.fallback != nil && (e.limits.MaxSteps == 0 || res.Steps < e.limits.MaxSteps) {
					continue
				}
				return finish("budget_exceeded", nil)
			}
			return finish("failed", err)
		}

		if forced {
			return finish("budget_exceeded", nil)
		}

		next, ok, err := e.graph.next(current.Name(), action)
		if err != nil {
			observability.RecordEngineError(e.name, current.Name())
			logger.Error().Err(err).Str("node", current.Name()).Msg("No transition for action")
			return finish("engine_error", err)
		}
		if !ok {
			return finish("completed", nil)
		}
		current = next
	}
}

// checkBudget runs before step k (1-based). It reports a steps budget when the
// last allowed step would go to a non-terminal node, and a time budget once
// the deadline has passed. The fallback then takes step k, so a run never
// executes more than MaxSteps nodes.
func (e *Engine[S]) checkBudget(current Node[S], k int, started time.Time) *BudgetExceededError {
	elapsed := e.now().Sub(started)
	if e.limits.Timeout > 0 && elapsed >= e.limits.Timeout {
		return e.timeBudget(k-1, elapsed, fmt.Sprintf("run exceeded %s", e.limits.Timeout))
	}
	if e.limits.MaxSteps > 0 && k >= e.limits.MaxSteps && !e.graph.Terminal(current.Name()) {
		return &BudgetExceededError{
			Limit:   LimitSteps,
			Steps:   k - 1,
			Elapsed: elapsed,
			Reason:  fmt.Sprintf("reached %d steps before %q", e.limits.MaxSteps, current.Name()),
		}
	}
	return nil
}

func (e *Engine[S]) timeBudget(steps int, elapsed time.Duration, reason string) *BudgetExceededError {
	return &BudgetExceededError{
		Limit:   LimitTime,
		Steps:   steps,
		Elapsed: elapsed,
		Reason:  reason,
	}
}

// fallbackContext detaches the fallback step from the run deadline while
// still bounding it, so a stalled collaborator cannot hold the answer back.
func (e *Engine[S]) fallbackContext(ctx context.Context) (context.Context, context.CancelFunc) {
	grace := e.limits.FallbackTimeout
	if grace <= 0 {
		grace = e.limits.Timeout
	}
	if grace <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, grace)
}

func (e *Engine[S]) step(ctx context.Context, node Node[S], state S) (Action, time.Duration, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "flow.step",
		attribute.String("flow.topology", e.name),
		attribute.String("flow.node", node.Name()),
	)
	defer span.End()

	started := e.now()
	action, err := e.phases(ctx, node, state)
	dur := e.now().Sub(started)

	span.SetAttributes(attribute.String("flow.action", string(action)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return action, dur, err
}

func (e *Engine[S]) phases(ctx context.Context, node Node[S], state S) (Action, error) {
	prep, err := node.Prep(ctx, state)
	if err != nil {
		return "", &StepError{Node: node.Name(), Phase: "prep", Err: err}
	}

	out, err := node.Exec(ctx, state, prep)
	if err != nil {
		fb, ok := node.(ExecFallback[S])
		if !ok {
			return "", &StepError{Node: node.Name(), Phase: "exec", Err: err}
		}
		out, err = fb.ExecFallback(ctx, state, prep, err)
		if err != nil {
			return "", &StepError{Node: node.Name(), Phase: "exec", Err: err}
		}
	}

	action, err := node.Post(ctx, state, prep, out)
	if err != nil {
		return "", &StepError{Node: node.Name(), Phase: "post", Err: err}
	}
	if action == "" {
		action = ActionDefault
	}
	return action, nil
}
