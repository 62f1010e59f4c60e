// Package llm wraps vendor completion APIs behind a single Complete call.
//
// Invariants:
// - Profiles are tried in priority order; profiles in cooldown are skipped.
// - Only retryable errors (rate limits, 5xx, network resets) are retried.
// - Every provider call is recorded in metrics.
//
// Usage:
//
//	client, _ := llm.NewFailover(llm.FailoverConfig{
//		Profiles: []llm.AuthProfile{{ID: "main", Provider: "anthropic", APIKey: key}},
//		Model:    "claude-sonnet-4-5",
//	})
//	resp, _ := client.Complete(ctx, llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}}})
//	_ = resp
package llm
