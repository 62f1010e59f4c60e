// Package tools registers per-user tools and executes them through a single
// call path.
//
// Invariants:
// - Tool names are unique within a registry.
// - Raw arguments are repaired and schema-validated before execution.
// - Builtin tools skip authorization; external tools need the user's service.
//
// Usage:
//
//	reg := tools.NewRegistry(tools.Config{}, tools.Principal{UserID: "u1"})
//	_ = reg.Register(tools.NewVirtualFS())
//	inv, err := reg.Call(ctx, "virtual_fs", `{action: 'list'}`)
//	_, _ = inv, err
package tools
