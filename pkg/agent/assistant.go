package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/aide/internal/observability"
	"github.com/harun/aide/internal/tracing"
	"github.com/harun/aide/pkg/flow"
	"github.com/harun/aide/pkg/history"
	"github.com/harun/aide/pkg/llm"
	"github.com/harun/aide/pkg/planner"
	"github.com/harun/aide/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrEmptyGoal = errors.New("goal cannot be empty")
	ErrNoLLM     = errors.New("llm client is required")
	ErrClosed    = errors.New("assistant is closed")
)

const emptyGoalResponse = "Please tell me what you would like help with."

// Options configures a new Assistant
type Options struct {
	UserID string
	LLM    llm.Client
	Config Config

	Tools      tools.Config
	Principal  tools.Principal
	ExtraTools []tools.Tool

	// Store is the initial history handle; Attach replaces it.
	Store history.Store
}

// TurnRequest is one user request
type TurnRequest struct {
	Goal        string `json:"goal"`
	Mode        Mode   `json:"mode,omitempty"`
	Personality string `json:"personality,omitempty"`
}

// TurnResult is the outcome of Run. Response is never empty.
type TurnResult struct {
	TurnID         string                    `json:"turn_id"`
	Response       string                    `json:"response"`
	Mode           Mode                      `json:"mode"`
	ToolsUsed      []string                  `json:"tools_used"`
	Invocations    []ToolInvocationRecord    `json:"invocations,omitempty"`
	StepsCompleted int                       `json:"steps_completed"`
	Workspace      *Workspace                `json:"workspace,omitempty"`
	Intent         *Intent                   `json:"intent,omitempty"`
	Plan           *planner.Plan             `json:"plan,omitempty"`
	Failures       int                       `json:"failures"`
	FailureReason  string                    `json:"failure_reason,omitempty"`
	Budget         *flow.BudgetExceededError `json:"budget,omitempty"`
	Path           []flow.StepRecord         `json:"path,omitempty"`
	Duration       time.Duration             `json:"duration"`
}

// Assistant is the long-lived orchestrator of one user. It keeps the
// conversation memory, the user's tool registry and virtual file system
// across turns.
type Assistant struct {
	userID   string
	cfg      Config
	registry *tools.Registry
	fs       *tools.VirtualFS
	engines  map[Mode]*Engine
	logger   zerolog.Logger

	mu     sync.Mutex
	store  history.Store
	memory []history.Message
	closed bool
}

// NewAssistant builds an assistant and its topologies
func NewAssistant(opts Options) (*Assistant, error) {
	observability.EnsureRegistered()

	if opts.UserID == "" {
		return nil, errors.New("user id is required")
	}
	if opts.LLM == nil {
		return nil, ErrNoLLM
	}
	if err := opts.Tools.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tool policy: %w", err)
	}

	cfg := opts.Config.withDefaults()
	logger := log.Logger.With().Str("component", "agent").Str("user_id", opts.UserID).Logger()

	principal := opts.Principal
	principal.UserID = opts.UserID
	registry := tools.NewRegistry(opts.Tools, principal)
	fs := tools.NewVirtualFS()
	if err := registry.Register(fs); err != nil {
		return nil, err
	}
	for _, t := range opts.ExtraTools {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	engines, err := newEngines(newRuntime(cfg, opts.LLM, registry, fs, logger))
	if err != nil {
		return nil, err
	}

	return &Assistant{
		userID:   opts.UserID,
		cfg:      cfg,
		registry: registry,
		fs:       fs,
		engines:  engines,
		logger:   logger,
		store:    opts.Store,
	}, nil
}

// UserID returns the user the assistant serves
func (a *Assistant) UserID() string {
	return a.userID
}

// Registry returns the user's tool registry
func (a *Assistant) Registry() *tools.Registry {
	return a.registry
}

// Files returns the user's virtual file system
func (a *Assistant) Files() *tools.VirtualFS {
	return a.fs
}

// Attach swaps in the history handle of the current request.
func (a *Assistant) Attach(store history.Store) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.store = store
}

// Init loads the most recent history from the attached store
func (a *Assistant) Init(ctx context.Context) error {
	a.mu.Lock()
	store := a.store
	a.mu.Unlock()
	if store == nil {
		return nil
	}

	msgs, err := store.Load(ctx, a.userID, a.cfg.MaxMessages)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	a.mu.Lock()
	a.memory = msgs
	a.mu.Unlock()

	a.logger.Debug().Int("messages", len(msgs)).Msg("Conversation memory loaded")
	return nil
}

// Close drops the conversation memory. The history store is owned by the
// caller and stays open.
func (a *Assistant) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.memory = nil
	return nil
}

// Memory returns a copy of the conversation memory
func (a *Assistant) Memory() []history.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]history.Message, len(a.memory))
	copy(out, a.memory)
	return out
}

func (a *Assistant) conversation() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llm.Message, 0, len(a.memory))
	for _, m := range a.memory {
		out = append(out, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	return out
}

// Run executes one turn. The result is never nil and always carries a
// response. The error is set for invalid requests, cancellation and topology
// defects.
func (a *Assistant) Run(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	started := time.Now()
	mode := req.Mode
	if mode == "" {
		mode = a.cfg.DefaultMode
	}

	if strings.TrimSpace(req.Goal) == "" {
		return &TurnResult{Response: emptyGoalResponse, Mode: mode}, ErrEmptyGoal
	}
	engine, ok := a.engines[mode]
	if !ok {
		return &TurnResult{Response: apology(0), Mode: mode}, fmt.Errorf("unknown mode %q", mode)
	}
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return &TurnResult{Response: apology(0), Mode: mode}, ErrClosed
	}

	ctx, turnID := tracing.NewTurnContext(ctx, a.userID)
	ctx, span := tracing.StartSpan(ctx, "aide.agent", "agent.run",
		attribute.String("user_id", a.userID),
		attribute.String("turn_id", turnID),
		attribute.String("agent.mode", string(mode)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, a.logger).With().Str("mode", string(mode)).Logger()

	state := NewSharedContext(turnID, a.userID, req.Goal, mode, a.conversation())
	state.Personality = req.Personality

	logger.Info().Msg("Turn started")
	run, err := engine.Run(ctx, state)

	result := &TurnResult{
		TurnID:         turnID,
		Response:       state.Response,
		Mode:           mode,
		ToolsUsed:      state.ToolsUsed(),
		Invocations:    state.Invocations,
		StepsCompleted: state.StepsCompleted,
		Workspace:      state.Workspace,
		Intent:         state.Intent,
		Plan:           state.Plan,
		FailureReason:  state.FailureReason,
		Budget:         state.Budget,
	}
	if run != nil {
		result.Path = run.Path
	}
	result.Failures = failures(state)

	var runErr error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result.Response = apology(state.StepsCompleted)

		var ee *flow.EngineError
		switch {
		case errors.As(err, &ee), ctx.Err() != nil:
			runErr = err
		default:
			logger.Error().Err(err).Msg("Turn failed")
		}
	} else if strings.TrimSpace(result.Response) == "" {
		result.Response = fallbackResponse(state)
	}

	a.remember(tracing.Detach(ctx), req.Goal, result)

	result.Duration = time.Since(started)
	observability.RecordTurn(string(mode), result.Duration, err == nil)
	span.SetAttributes(
		attribute.Int("agent.steps_completed", result.StepsCompleted),
		attribute.Int("agent.tools_used", len(result.ToolsUsed)),
	)
	logger.Info().
		Int("steps_completed", result.StepsCompleted).
		Int("failures", result.Failures).
		Bool("budget_exceeded", result.Budget != nil).
		Dur("duration", result.Duration).
		Msg("Turn finished")

	return result, runErr
}

// remember appends the exchange to memory and the attached store. Store
// failures are logged; the turn already has its answer.
func (a *Assistant) remember(ctx context.Context, goal string, res *TurnResult) {
	now := time.Now()
	meta := map[string]interface{}{
		"mode":            string(res.Mode),
		"turn_id":         res.TurnID,
		"steps_completed": res.StepsCompleted,
		"tools_used":      res.ToolsUsed,
	}
	if res.Workspace != nil {
		meta["workspace_file"] = res.Workspace.Filename
	}
	if res.Intent != nil {
		meta["complexity_level"] = res.Intent.Complexity
	}
	msgs := []history.Message{
		{Role: string(llm.RoleUser), Content: goal, Timestamp: now},
		{Role: string(llm.RoleAssistant), Content: res.Response, Timestamp: now, Metadata: meta},
	}

	a.mu.Lock()
	a.memory = append(a.memory, msgs...)
	if over := len(a.memory) - a.cfg.MaxMessages; over > 0 {
		a.memory = append([]history.Message(nil), a.memory[over:]...)
	}
	store := a.store
	a.mu.Unlock()

	if store == nil {
		return
	}
	if err := store.Append(ctx, a.userID, msgs...); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to persist conversation")
	}
}

func failures(state *SharedContext) int {
	if state.Plan != nil && len(state.Plan.Todos) > 0 {
		return len(state.Plan.Failed())
	}
	n := 0
	for _, rec := range state.Invocations {
		if !rec.Success {
			n++
		}
	}
	return n
}

func apology(steps int) string {
	return fmt.Sprintf("I apologize, but I encountered an error while processing your request. I completed %d steps before stopping. Please try again.", steps)
}
