package agent

import (
	"fmt"

	"github.com/harun/aide/pkg/flow"
)

// Engine is a flow engine over turn state
type Engine = flow.Engine[*SharedContext]

func limits(cfg Config) flow.Limits {
	return flow.Limits{MaxSteps: cfg.MaxSteps, Timeout: cfg.Timeout}
}

// newSimpleEngine: think -> {tools | respond | end}; tools -> respond; respond -> end.
func newSimpleEngine(rt *runtime) (*Engine, error) {
	think := &thinkNode{rt: rt}
	tools := &toolsNode{rt: rt}
	respond := &respondNode{rt: rt}
	end := &endNode{}

	g := flow.NewGraph[*SharedContext](think).
		Connect(think, flow.ActionTools, tools).
		Connect(think, flow.ActionRespond, respond).
		Connect(think, flow.ActionEnd, end).
		Connect(tools, flow.ActionRespond, respond).
		Connect(respond, flow.ActionEnd, end)

	return build(string(ModeSimple), g, rt.cfg, respond)
}

// newAutonomousEngine: workspace -> think; think -> {tools | synthesize |
// respond | think | end}; tools -> {think | synthesize | respond};
// synthesize -> respond; respond -> end.
func newAutonomousEngine(rt *runtime) (*Engine, error) {
	workspace := &workspaceNode{rt: rt}
	think := &thinkNode{rt: rt, autonomous: true}
	tools := &toolsNode{rt: rt}
	synthesize := &synthesizeNode{rt: rt}
	respond := &respondNode{rt: rt}
	end := &endNode{}

	g := flow.NewGraph[*SharedContext](workspace).
		Connect(workspace, flow.ActionThink, think).
		Connect(think, flow.ActionTools, tools).
		Connect(think, flow.ActionSynthesize, synthesize).
		Connect(think, flow.ActionRespond, respond).
		Connect(think, flow.ActionThink, think).
		Connect(think, flow.ActionEnd, end).
		Connect(tools, flow.ActionThink, think).
		Connect(tools, flow.ActionSynthesize, synthesize).
		Connect(tools, flow.ActionRespond, respond).
		Connect(synthesize, flow.ActionRespond, respond).
		Connect(respond, flow.ActionEnd, end)

	return build(string(ModeAutonomous), g, rt.cfg, respond)
}

// newIntentEngine: classify -> {plan | respond}; plan -> execute;
// execute -> {execute | respond}; respond -> end.
func newIntentEngine(rt *runtime) (*Engine, error) {
	classify := &classifyNode{rt: rt}
	plan := &planNode{rt: rt}
	execute := &executeNode{rt: rt}
	respond := &respondNode{rt: rt}
	end := &endNode{}

	g := flow.NewGraph[*SharedContext](classify).
		Connect(classify, flow.ActionPlan, plan).
		Connect(classify, flow.ActionRespond, respond).
		Connect(plan, flow.ActionExecute, execute).
		Connect(execute, flow.ActionExecute, execute).
		Connect(execute, flow.ActionRespond, respond).
		Connect(respond, flow.ActionEnd, end)

	return build(string(ModeIntent), g, rt.cfg, respond)
}

func build(name string, g *flow.Graph[*SharedContext], cfg Config, fallback flow.Node[*SharedContext]) (*Engine, error) {
	e, err := flow.NewEngine(name, g, limits(cfg))
	if err != nil {
		return nil, err
	}
	if e, err = e.WithFallback(fallback); err != nil {
		return nil, fmt.Errorf("topology %s: %w", name, err)
	}
	return e, nil
}

func newEngines(rt *runtime) (map[Mode]*Engine, error) {
	builders := map[Mode]func(*runtime) (*Engine, error){
		ModeSimple:     newSimpleEngine,
		ModeAutonomous: newAutonomousEngine,
		ModeIntent:     newIntentEngine,
	}
	engines := make(map[Mode]*Engine, len(builders))
	for mode, b := range builders {
		e, err := b(rt)
		if err != nil {
			return nil, err
		}
		engines[mode] = e
	}
	return engines, nil
}
