package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState struct {
	visits  []string
	counter int
	budget  *BudgetExceededError
}

func (s *testState) BudgetExceeded(err *BudgetExceededError) {
	s.budget = err
}

func node(name string, post func(s *testState) Action) *Func[*testState] {
	return &Func[*testState]{
		ID: name,
		PostFn: func(_ context.Context, s *testState, _, _ any) (Action, error) {
			s.visits = append(s.visits, name)
			if post == nil {
				return ActionDefault, nil
			}
			return post(s), nil
		},
	}
}

func always(a Action) func(*testState) Action {
	return func(*testState) Action { return a }
}

func TestEngine_Run(t *testing.T) {
	t.Run("should follow edges until a terminal node", func(t *testing.T) {
		think := node("think", always(ActionTools))
		tools := node("tools", always(ActionRespond))
		respond := node("respond", always(ActionEnd))
		end := node("end", nil)

		g := NewGraph[*testState](think).
			Connect(think, ActionTools, tools).
			Connect(tools, ActionRespond, respond).
			Connect(respond, ActionEnd, end)

		engine, err := NewEngine("simple", g, Limits{MaxSteps: 10})
		require.NoError(t, err)

		state := &testState{}
		res, err := engine.Run(context.Background(), state)
		require.NoError(t, err)

		assert.Equal(t, []string{"think", "tools", "respond", "end"}, state.visits)
		assert.Equal(t, 4, res.Steps)
		assert.Equal(t, "end", res.LastNode)
		assert.Nil(t, res.Budget)
	})

	t.Run("should iterate over self loops", func(t *testing.T) {
		execute := node("execute", func(s *testState) Action {
			s.counter++
			if s.counter < 3 {
				return ActionExecute
			}
			return ActionRespond
		})
		respond := node("respond", nil)

		g := NewGraph[*testState](execute).
			Connect(execute, ActionExecute, execute).
			Connect(execute, ActionRespond, respond)

		engine, err := NewEngine("loop", g, Limits{MaxSteps: 10})
		require.NoError(t, err)

		state := &testState{}
		res, err := engine.Run(context.Background(), state)
		require.NoError(t, err)
		assert.Equal(t, []string{"execute", "execute", "execute", "respond"}, state.visits)
		assert.Equal(t, 4, res.Steps)
	})

	t.Run("should use the default edge for unknown actions", func(t *testing.T) {
		a := node("a", always("surprise"))
		b := node("b", nil)

		g := NewGraph[*testState](a).Default(a, b)
		engine, err := NewEngine("default", g, Limits{})
		require.NoError(t, err)

		state := &testState{}
		_, err = engine.Run(context.Background(), state)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, state.visits)
	})

	t.Run("should fail with EngineError on an unmatched action", func(t *testing.T) {
		a := node("a", always("nowhere"))
		b := node("b", nil)

		g := NewGraph[*testState](a).Connect(a, ActionRespond, b)
		engine, err := NewEngine("broken", g, Limits{})
		require.NoError(t, err)

		res, err := engine.Run(context.Background(), &testState{})
		require.Error(t, err)

		var engineErr *EngineError
		require.True(t, errors.As(err, &engineErr))
		assert.Equal(t, "a", engineErr.Node)
		assert.Equal(t, Action("nowhere"), engineErr.Action)
		assert.NotNil(t, res)
		assert.Equal(t, 1, res.Steps)
	})
}

func TestEngine_Budget(t *testing.T) {
	loopForever := func() (*Graph[*testState], *Func[*testState]) {
		think := node("think", always(ActionThink))
		respond := node("respond", always(ActionEnd))
		end := node("end", nil)

		g := NewGraph[*testState](think).
			Connect(think, ActionThink, think).
			Connect(think, ActionRespond, respond).
			Connect(respond, ActionEnd, end)
		return g, respond
	}

	for _, maxSteps := range []int{1, 2, 5, 20} {
		t.Run("should stop within the step ceiling", func(t *testing.T) {
			g, respond := loopForever()
			engine, err := NewEngine("autonomous", g, Limits{MaxSteps: maxSteps})
			require.NoError(t, err)
			_, err = engine.WithFallback(respond)
			require.NoError(t, err)

			state := &testState{}
			res, err := engine.Run(context.Background(), state)
			require.NoError(t, err)

			assert.LessOrEqual(t, res.Steps, maxSteps)
			assert.Equal(t, "respond", res.LastNode)
			require.NotNil(t, res.Budget)
			assert.Equal(t, LimitSteps, res.Budget.Limit)
			assert.Same(t, res.Budget, state.budget)
			assert.True(t, res.Path[len(res.Path)-1].Forced)
		})
	}

	t.Run("should stop without a fallback", func(t *testing.T) {
		g, _ := loopForever()
		engine, err := NewEngine("autonomous", g, Limits{MaxSteps: 3})
		require.NoError(t, err)

		res, err := engine.Run(context.Background(), &testState{})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Steps)
		assert.NotNil(t, res.Budget)
	})

	t.Run("should run a terminal node at the last step", func(t *testing.T) {
		a := node("a", always(ActionEnd))
		end := node("end", nil)
		g := NewGraph[*testState](a).Connect(a, ActionEnd, end)

		engine, err := NewEngine("short", g, Limits{MaxSteps: 2})
		require.NoError(t, err)

		res, err := engine.Run(context.Background(), &testState{})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Steps)
		assert.Nil(t, res.Budget)
	})

	t.Run("should enforce the time ceiling", func(t *testing.T) {
		g, respond := loopForever()
		engine, err := NewEngine("autonomous", g, Limits{Timeout: time.Minute})
		require.NoError(t, err)
		_, err = engine.WithFallback(respond)
		require.NoError(t, err)

		clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		engine.now = func() time.Time {
			clock = clock.Add(10 * time.Second)
			return clock
		}

		res, err := engine.Run(context.Background(), &testState{})
		require.NoError(t, err)
		require.NotNil(t, res.Budget)
		assert.Equal(t, LimitTime, res.Budget.Limit)
		assert.Equal(t, "respond", res.LastNode)
	})

	blocking := func(name string) *Func[*testState] {
		return &Func[*testState]{
			ID: name,
			ExecFn: func(ctx context.Context, _ *testState, _ any) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			PostFn: func(context.Context, *testState, any, any) (Action, error) {
				return ActionRespond, nil
			},
		}
	}

	t.Run("should run the fallback when the deadline interrupts a step", func(t *testing.T) {
		wait := blocking("think")
		respond := node("respond", always(ActionEnd))
		g := NewGraph[*testState](wait).Connect(wait, ActionRespond, respond)

		engine, err := NewEngine("autonomous", g, Limits{Timeout: 20 * time.Millisecond})
		require.NoError(t, err)
		_, err = engine.WithFallback(respond)
		require.NoError(t, err)

		state := &testState{}
		res, err := engine.Run(context.Background(), state)
		require.NoError(t, err)

		require.NotNil(t, res.Budget)
		assert.Equal(t, LimitTime, res.Budget.Limit)
		assert.Same(t, res.Budget, state.budget)
		assert.Equal(t, "respond", res.LastNode)
		require.Len(t, res.Path, 2)
		assert.True(t, res.Path[1].Forced)
		assert.Equal(t, []string{"respond"}, state.visits)
	})

	t.Run("should bound a stalled fallback", func(t *testing.T) {
		wait := blocking("think")
		stuck := blocking("respond")
		g := NewGraph[*testState](wait).Connect(wait, ActionRespond, stuck)

		engine, err := NewEngine("autonomous", g, Limits{Timeout: 10 * time.Millisecond, FallbackTimeout: 10 * time.Millisecond})
		require.NoError(t, err)
		_, err = engine.WithFallback(stuck)
		require.NoError(t, err)

		res, err := engine.Run(context.Background(), &testState{})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		require.NotNil(t, res.Budget)
		assert.Equal(t, 2, res.Steps)
	})

	t.Run("should not exceed the step ceiling after an interrupted step", func(t *testing.T) {
		wait := blocking("final")
		respond := node("respond", always(ActionEnd))
		end := node("end", nil)
		g := NewGraph[*testState](wait).Connect(respond, ActionEnd, end)

		engine, err := NewEngine("autonomous", g, Limits{MaxSteps: 1, Timeout: 10 * time.Millisecond})
		require.NoError(t, err)
		_, err = engine.WithFallback(respond)
		require.NoError(t, err)

		res, err := engine.Run(context.Background(), &testState{})
		require.NoError(t, err)
		require.NotNil(t, res.Budget)
		assert.Equal(t, LimitTime, res.Budget.Limit)
		assert.Equal(t, 1, res.Steps)
		assert.Equal(t, "final", res.LastNode)
	})
}

func TestEngine_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	think := node("think", func(s *testState) Action {
		s.counter++
		if s.counter == 2 {
			cancel()
		}
		return ActionThink
	})
	g := NewGraph[*testState](think).Connect(think, ActionThink, think)

	engine, err := NewEngine("cancel", g, Limits{MaxSteps: 100})
	require.NoError(t, err)

	res, err := engine.Run(ctx, &testState{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, res.Steps)
}

func TestEngine_ExecFallback(t *testing.T) {
	t.Run("should hand exec failures to the node", func(t *testing.T) {
		n := &fallbackNode{}
		g := NewGraph[*testState](n)

		engine, err := NewEngine("fallback", g, Limits{})
		require.NoError(t, err)

		state := &testState{}
		_, err = engine.Run(context.Background(), state)
		require.NoError(t, err)
		assert.Equal(t, []string{"recovered"}, state.visits)
		assert.Equal(t, 1, n.execCalls)
	})

	t.Run("should fail the step without a fallback", func(t *testing.T) {
		boom := errors.New("boom")
		n := &Func[*testState]{
			ID: "broken",
			ExecFn: func(context.Context, *testState, any) (any, error) {
				return nil, boom
			},
		}
		engine, err := NewEngine("fails", NewGraph[*testState](n), Limits{})
		require.NoError(t, err)

		_, err = engine.Run(context.Background(), &testState{})
		assert.ErrorIs(t, err, boom)

		var stepErr *StepError
		require.True(t, errors.As(err, &stepErr))
		assert.Equal(t, "exec", stepErr.Phase)
	})
}

type fallbackNode struct {
	execCalls int
}

func (n *fallbackNode) Name() string { return "fallback" }

func (n *fallbackNode) Prep(context.Context, *testState) (any, error) { return nil, nil }

func (n *fallbackNode) Exec(context.Context, *testState, any) (any, error) {
	n.execCalls++
	return nil, errors.New("llm unavailable")
}

func (n *fallbackNode) ExecFallback(_ context.Context, _ *testState, _ any, _ error) (any, error) {
	return "recovered", nil
}

func (n *fallbackNode) Post(_ context.Context, s *testState, _, exec any) (Action, error) {
	s.visits = append(s.visits, exec.(string))
	return ActionEnd, nil
}

func TestGraph_Validate(t *testing.T) {
	t.Run("should reject a nil start", func(t *testing.T) {
		_, err := NewEngine("nil", NewGraph[*testState](nil), Limits{})
		assert.ErrorIs(t, err, ErrNilStart)
	})

	t.Run("should reject duplicate node names", func(t *testing.T) {
		a := node("same", nil)
		b := node("same", nil)
		g := NewGraph[*testState](a).Connect(a, ActionEnd, b)
		assert.ErrorIs(t, g.Validate(), ErrDuplicateNode)
	})

	t.Run("should reject a fallback outside the graph", func(t *testing.T) {
		a := node("a", nil)
		engine, err := NewEngine("fb", NewGraph[*testState](a), Limits{})
		require.NoError(t, err)
		_, err = engine.WithFallback(node("other", nil))
		assert.ErrorIs(t, err, ErrUnknownNode)
	})

	t.Run("should freeze the edge table", func(t *testing.T) {
		a := node("a", always(ActionEnd))
		b := node("b", nil)
		c := node("c", nil)
		g := NewGraph[*testState](a).Connect(a, ActionEnd, b)

		engine, err := NewEngine("frozen", g, Limits{})
		require.NoError(t, err)
		g.Connect(a, ActionEnd, c)

		state := &testState{}
		_, err = engine.Run(context.Background(), state)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, state.visits)
	})

	t.Run("should list nodes and terminals", func(t *testing.T) {
		think := node("think", nil)
		tools := node("tools", nil)
		end := node("end", nil)
		g := NewGraph[*testState](think).
			Connect(think, ActionTools, tools).
			Connect(think, ActionEnd, end).
			Default(tools, think)

		assert.Equal(t, []string{"end", "think", "tools"}, g.Nodes())
		assert.True(t, g.Terminal("end"))
		assert.False(t, g.Terminal("tools"))
	})
}
