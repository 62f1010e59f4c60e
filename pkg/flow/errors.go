package flow

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNilStart      = errors.New("graph has no start node")
	ErrDuplicateNode = errors.New("node name already used by another node")
	ErrUnknownNode   = errors.New("edge references a node outside the graph")
)

// Budget limits.
const (
	LimitSteps = "steps"
	LimitTime  = "time"
)

// EngineError reports an action with no matching edge on a node that has
// outgoing edges. It is a topology defect and aborts the run.
type EngineError struct {
	Node   string
	Action Action
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("flow: node %q returned action %q with no matching transition", e.Node, e.Action)
}

// BudgetExceededError records that the engine stopped a run at its step or
// time ceiling. It is not fatal: the engine routes to the fallback node.
type BudgetExceededError struct {
	Limit   string
	Steps   int
	Elapsed time.Duration
	Reason  string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("flow: %s budget exceeded after %d steps (%s): %s",
		e.Limit, e.Steps, e.Elapsed.Round(time.Millisecond), e.Reason)
}

// StepError wraps a failure returned by a node phase.
type StepError struct {
	Node  string
	Phase string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("flow: node %q failed in %s: %v", e.Node, e.Phase, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
