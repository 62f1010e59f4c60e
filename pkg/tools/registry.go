package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/aide/internal/observability"
	"github.com/harun/aide/internal/tracing"
	"github.com/harun/aide/pkg/params"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = 10 * 1024
)

// Config controls execution limits for a registry
type Config struct {
	Timeout              time.Duration
	Policy               *Policy
	RateLimits           map[string]float64 // calls per minute by tool name
	DefaultRatePerMinute float64            // 0 disables limiting
	MaxOutputBytes       int
}

// Invocation is the outcome of one Call
type Invocation struct {
	Tool       string
	Category   Category
	Raw        any
	Parameters map[string]any
	Result     *Result
	Duration   time.Duration
	Timestamp  time.Time
}

type registered struct {
	tool   Tool
	def    Definition
	schema *params.Schema
}

// Registry holds the tools of one user. It is safe for concurrent use.
type Registry struct {
	cfg       Config
	principal Principal
	processor *params.Processor
	logger    zerolog.Logger

	mu       sync.RWMutex
	tools    map[string]*registered
	limiters map[string]*rate.Limiter
	usage    map[string]*Usage
}

// NewRegistry creates an empty registry for principal
func NewRegistry(cfg Config, principal Principal) *Registry {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}

	logger := log.Logger.With().
		Str("component", "tools").
		Str("user_id", principal.UserID).
		Logger()

	return &Registry{
		cfg:       cfg,
		principal: principal,
		processor: params.NewProcessor(logger),
		logger:    logger,
		tools:     make(map[string]*registered),
		limiters:  make(map[string]*rate.Limiter),
		usage:     make(map[string]*Usage),
	}
}

// Principal returns the user the registry executes for.
func (r *Registry) Principal() Principal {
	return r.principal
}

// Register validates the tool definition and compiles its schema.
func (r *Registry) Register(tool Tool) error {
	def := tool.Definition()
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}
	if def.Category == "" {
		def.Category = CategoryGeneral
	}

	schema, err := params.NewSchema(schemaDocument(def))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}
	r.tools[def.Name] = &registered{tool: tool, def: def, schema: schema}

	perMinute := r.cfg.DefaultRatePerMinute
	if v, ok := r.cfg.RateLimits[def.Name]; ok {
		perMinute = v
	}
	if perMinute > 0 {
		burst := int(perMinute)
		if burst < 1 {
			burst = 1
		}
		r.limiters[def.Name] = rate.NewLimiter(rate.Limit(perMinute/60), burst)
	}

	r.logger.Debug().Str("tool", def.Name).Str("category", string(def.Category)).Msg("Tool registered")
	return nil
}

// Resolve returns the tool, its definition and compiled schema.
func (r *Registry) Resolve(name string) (Tool, Definition, *params.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.tools[name]
	if !ok {
		return nil, Definition{}, nil, invocationError(name, KindUnknownTool, nil)
	}
	return reg.tool, reg.def, reg.schema, nil
}

// Available lists the definitions the principal may use, sorted by name.
func (r *Registry) Available(ctx context.Context) []Definition {
	r.mu.RLock()
	regs := make([]*registered, 0, len(r.tools))
	for _, reg := range r.tools {
		regs = append(regs, reg)
	}
	r.mu.RUnlock()

	defs := make([]Definition, 0, len(regs))
	for _, reg := range regs {
		if !r.cfg.Policy.IsAllowed(reg.def.Name, reg.def.Builtin) {
			continue
		}
		if !reg.def.Builtin && !reg.tool.Authorize(ctx, r.principal) {
			continue
		}
		defs = append(defs, reg.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Has reports whether name is registered and available to the principal.
func (r *Registry) Has(ctx context.Context, name string) bool {
	for _, def := range r.Available(ctx) {
		if def.Name == name {
			return true
		}
	}
	return false
}

// Call normalizes raw arguments against the tool schema and executes the
// tool. The returned Invocation is non-nil whenever the tool was resolved,
// so callers can log failed attempts.
func (r *Registry) Call(ctx context.Context, name string, raw any) (*Invocation, error) {
	started := time.Now()
	inv := &Invocation{Tool: name, Raw: raw, Timestamp: started}

	ctx, span := tracing.StartSpan(ctx, "aide.tools", "tools.call", attribute.String("tool.name", name))
	defer span.End()

	fail := func(kind ErrorKind, err error) (*Invocation, error) {
		inv.Duration = time.Since(started)
		ie := invocationError(name, kind, err)
		inv.Result = &Result{Success: false, Error: ie.Error()}
		r.recordUsage(name, inv.Duration, false)
		observability.RecordToolError(name, string(kind))
		observability.RecordToolInvocation(name, inv.Duration, false)
		span.RecordError(ie)
		span.SetStatus(codes.Error, string(kind))
		return inv, ie
	}

	tool, def, schema, err := r.Resolve(name)
	if err != nil {
		r.logger.Warn().Str("tool", name).Msg("Tool not found")
		return fail(KindUnknownTool, nil)
	}
	inv.Category = def.Category

	if !r.cfg.Policy.IsAllowed(name, def.Builtin) {
		r.logger.Warn().Str("tool", name).Msg("Tool execution blocked by policy")
		observability.RecordAuthorizationAudit(ctx, name, r.principal.UserID, "policy")
		return fail(KindDenied, errors.New("blocked by policy"))
	}
	if !def.Builtin && !tool.Authorize(ctx, r.principal) {
		r.logger.Warn().Str("tool", name).Msg("Tool not authorized for user")
		observability.RecordAuthorizationAudit(ctx, name, r.principal.UserID, "not authorized")
		return fail(KindUnauthorized, errors.New("not authorized for user"))
	}
	if lim := r.limiter(name); lim != nil && !lim.Allow() {
		return fail(KindRateLimited, errors.New("rate limit exceeded"))
	}

	normalized, err := r.processor.ProcessObject(raw, schema)
	if err != nil {
		return fail(KindInvalidParameters, err)
	}
	inv.Parameters = normalized

	res, kind, err := r.execute(ctx, tool, normalized)
	if err != nil {
		return fail(kind, err)
	}

	inv.Duration = time.Since(started)
	inv.Result = res
	r.recordUsage(name, inv.Duration, res.Success)
	observability.RecordToolInvocation(name, inv.Duration, res.Success)
	observability.RecordToolAudit(ctx, name, r.principal.UserID, status(res.Success), map[string]interface{}{
		"duration_ms": inv.Duration.Milliseconds(),
		"truncated":   res.Truncated,
	})
	span.SetAttributes(attribute.Bool("tool.success", res.Success))

	r.logger.Debug().
		Str("tool", name).
		Dur("duration", inv.Duration).
		Bool("success", res.Success).
		Msg("Tool execution completed")

	if !res.Success {
		return inv, invocationError(name, KindFailed, errors.New(res.Error))
	}
	return inv, nil
}

// execute runs the tool under the configured timeout
func (r *Registry) execute(ctx context.Context, tool Tool, args map[string]any) (*Result, ErrorKind, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		res, err := tool.Execute(timeoutCtx, args)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return nil, KindTimeout, out.err
			}
			return nil, KindFailed, out.err
		}
		if out.res == nil {
			out.res = &Result{Success: true}
		}
		out.res.Output, out.res.Truncated = r.truncateOutput(out.res.Output)
		return out.res, "", nil

	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return nil, KindFailed, ctx.Err()
		}
		return nil, KindTimeout, fmt.Errorf("tool execution timeout after %v", r.cfg.Timeout)
	}
}

// truncateOutput truncates string output that exceeds the size limit
func (r *Registry) truncateOutput(output any) (any, bool) {
	str, ok := output.(string)
	if !ok || len(str) <= r.cfg.MaxOutputBytes {
		return output, false
	}

	r.logger.Warn().
		Int("original", len(str)).
		Int("truncated", r.cfg.MaxOutputBytes).
		Msg("Output truncated")

	return TruncateUTF8(str, r.cfg.MaxOutputBytes) + "\n... [output truncated]", true
}

func (r *Registry) limiter(name string) *rate.Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[name]
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
