// Package flow interprets directed graphs of nodes over a shared state.
//
// A node runs in three phases. Prep gathers inputs from the state, Exec does
// the work (an LLM call, a tool call) and Post writes results back and returns
// the action used to pick the next node. Edges are looked up in a table built
// before the run, so self-loops iterate without growing the call stack.
package flow

import "context"

// Action is the routing label returned by Node.Post.
type Action string

// Common actions shared by the agent topologies.
const (
	ActionDefault    Action = "default"
	ActionTools      Action = "tools"
	ActionThink      Action = "think"
	ActionSynthesize Action = "synthesize"
	ActionRespond    Action = "respond"
	ActionPlan       Action = "plan"
	ActionExecute    Action = "execute"
	ActionEnd        Action = "end"
)

// Node is one unit of work in a graph. S is the state type shared by every
// node of the graph; it is passed by reference and never copied.
type Node[S any] interface {
	Name() string
	Prep(ctx context.Context, state S) (any, error)
	Exec(ctx context.Context, state S, prep any) (any, error)
	Post(ctx context.Context, state S, prep, exec any) (Action, error)
}

// ExecFallback is implemented by nodes that recover from their own Exec
// failures. The engine hands the error to the node instead of failing the step.
type ExecFallback[S any] interface {
	ExecFallback(ctx context.Context, state S, prep any, err error) (any, error)
}

// BudgetAware is implemented by states that want to know when the engine
// cut a run short.
type BudgetAware interface {
	BudgetExceeded(err *BudgetExceededError)
}

// Func adapts plain functions to Node. Nil phases are skipped; a nil PostFn
// returns ActionDefault.
type Func[S any] struct {
	ID     string
	PrepFn func(ctx context.Context, state S) (any, error)
	ExecFn func(ctx context.Context, state S, prep any) (any, error)
	PostFn func(ctx context.Context, state S, prep, exec any) (Action, error)
}

func (f *Func[S]) Name() string {
	return f.ID
}

func (f *Func[S]) Prep(ctx context.Context, state S) (any, error) {
	if f.PrepFn == nil {
		return nil, nil
	}
	return f.PrepFn(ctx, state)
}

func (f *Func[S]) Exec(ctx context.Context, state S, prep any) (any, error) {
	if f.ExecFn == nil {
		return prep, nil
	}
	return f.ExecFn(ctx, state, prep)
}

func (f *Func[S]) Post(ctx context.Context, state S, prep, exec any) (Action, error) {
	if f.PostFn == nil {
		return ActionDefault, nil
	}
	return f.PostFn(ctx, state, prep, exec)
}
