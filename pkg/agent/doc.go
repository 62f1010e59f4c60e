// Package agent runs assistant turns over flow graphs.
//
// Invariants:
// - A SharedContext belongs to exactly one turn and one engine run.
// - The workspace document is created at most once per turn.
// - The invocation log is append-only; every tool attempt is recorded.
// - Run always returns a natural-language response.
//
// Usage:
//
//	a, _ := agent.NewAssistant(agent.Options{UserID: "u1", LLM: client, Config: agent.DefaultConfig()})
//	a.Attach(store)
//	_ = a.Init(ctx)
//	res, _ := a.Run(ctx, agent.TurnRequest{Goal: "plan my week", Mode: agent.ModeIntent})
//	_ = res.Response
package agent
