// Package history persists per-user conversation messages.
//
// Backends: memory, JSONL files, SQL (sqlite, postgres, mysql via sqlx),
// Redis lists and Badger. Open wraps every backend with tracing and metrics.
//
// Usage:
//
//	store, _ := history.Open(ctx, history.Config{Backend: "jsonl", Path: "/tmp/aide/history"})
//	defer store.Close()
//	_ = store.Append(ctx, "user-1", history.Message{Role: "user", Content: "hello"})
//	msgs, _ := store.Load(ctx, "user-1", 20)
//	_ = msgs
package history
