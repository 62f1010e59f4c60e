package agent

import (
	"fmt"
	"time"

	"github.com/harun/aide/pkg/planner"
)

// Mode selects the topology used for a turn
type Mode string

const (
	ModeSimple     Mode = "simple"
	ModeAutonomous Mode = "autonomous"
	ModeIntent     Mode = "intent"
)

// ParseMode returns the mode named by s
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSimple, ModeAutonomous, ModeIntent:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// AutonomousConfig tunes the think loop and its completion gate
type AutonomousConfig struct {
	MaxIterations int `json:"max_iterations"`
	// SynthesisStepThreshold forces synthesis once this many steps completed
	// without a consolidated workspace.
	SynthesisStepThreshold int            `json:"synthesis_step_threshold"`
	MinResearch            map[string]int `json:"min_research"`
	MinSynthesisChars      int            `json:"min_synthesis_chars"`
}

// PlannerConfig tunes intent-driven planning and execution
type PlannerConfig struct {
	MaxTodos       int  `json:"max_todos"`
	MaxTodoRetries int  `json:"max_todo_retries"`
	MaxSteps       int  `json:"max_steps"`
	EvaluateSteps  bool `json:"evaluate_steps"`
}

// Config holds assistant behavior settings
type Config struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`

	MaxSteps    int           `json:"max_steps"`
	Timeout     time.Duration `json:"timeout"`
	DefaultMode Mode          `json:"default_mode"`

	// HistoryWindow is the number of recent messages shown to the LLM.
	HistoryWindow int `json:"history_window"`
	// MaxMessages bounds the conversation memory kept per user.
	MaxMessages int `json:"max_messages"`

	SystemPrompt string `json:"system_prompt,omitempty"`

	// KeepWorkspaces is how many turn workspaces of each kind stay in the
	// user's file store.
	KeepWorkspaces int `json:"keep_workspaces"`

	Autonomous AutonomousConfig `json:"autonomous"`
	Planner    PlannerConfig    `json:"planner"`
}

// DefaultConfig returns the default assistant configuration
func DefaultConfig() Config {
	return Config{
		MaxTokens:      4096,
		Temperature:    0.7,
		MaxSteps:       40,
		Timeout:        5 * time.Minute,
		DefaultMode:    ModeAutonomous,
		HistoryWindow:  10,
		MaxMessages:    100,
		KeepWorkspaces: 5,
		Autonomous: AutonomousConfig{
			MaxIterations:          15,
			SynthesisStepThreshold: 20,
			MinResearch: map[string]int{
				planner.ComplexitySimple:  0,
				planner.ComplexityFocused: 2,
				planner.ComplexityComplex: 3,
			},
			MinSynthesisChars: 200,
		},
		Planner: PlannerConfig{
			MaxTodos:       planner.DefaultMaxTodos,
			MaxTodoRetries: 2,
			MaxSteps:       20,
			EvaluateSteps:  true,
		},
	}
}

// withDefaults fills zero values from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = d.MaxSteps
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.DefaultMode == "" {
		c.DefaultMode = d.DefaultMode
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = d.HistoryWindow
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = d.MaxMessages
	}
	if c.KeepWorkspaces <= 0 {
		c.KeepWorkspaces = d.KeepWorkspaces
	}
	if c.Autonomous.MaxIterations <= 0 {
		c.Autonomous.MaxIterations = d.Autonomous.MaxIterations
	}
	if c.Autonomous.SynthesisStepThreshold <= 0 {
		c.Autonomous.SynthesisStepThreshold = d.Autonomous.SynthesisStepThreshold
	}
	if c.Autonomous.MinResearch == nil {
		c.Autonomous.MinResearch = d.Autonomous.MinResearch
	}
	if c.Autonomous.MinSynthesisChars <= 0 {
		c.Autonomous.MinSynthesisChars = d.Autonomous.MinSynthesisChars
	}
	if c.Planner.MaxTodos <= 0 {
		c.Planner.MaxTodos = d.Planner.MaxTodos
	}
	if c.Planner.MaxTodoRetries < 0 {
		c.Planner.MaxTodoRetries = 0
	}
	if c.Planner.MaxSteps <= 0 {
		c.Planner.MaxSteps = d.Planner.MaxSteps
	}
	return c
}
