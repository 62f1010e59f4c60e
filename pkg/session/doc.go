// Package session caches one long-lived orchestrator per user.
//
// Invariants:
// - Concurrent first requests for a user build exactly one instance.
// - Entries idle beyond the threshold are never returned; the sweep evicts them.
// - Shutdown stops the sweep and clears every entry.
//
// Usage:
//
//	cache := session.New(session.Config{IdleTimeout: time.Hour}, buildAssistant)
//	_ = cache.Start()
//	defer cache.Shutdown(ctx)
//	assistant, _ := cache.GetOrCreate(ctx, "user-1", store)
//	_ = assistant
package session
