package config

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/harun/aide/internal/logger"
	"github.com/harun/aide/internal/tracing"
	"github.com/harun/aide/pkg/agent"
	"github.com/harun/aide/pkg/history"
	"github.com/harun/aide/pkg/llm"
	"github.com/harun/aide/pkg/session"
	"github.com/harun/aide/pkg/tools"
)

// Config represents the main aide configuration
type Config struct {
	LLM        LLMConfig        `json:"llm" mapstructure:"llm"`
	Engine     EngineConfig     `json:"engine" mapstructure:"engine"`
	Autonomous AutonomousConfig `json:"autonomous" mapstructure:"autonomous"`
	Planner    PlannerConfig    `json:"planner" mapstructure:"planner"`
	Tools      ToolsConfig      `json:"tools" mapstructure:"tools"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	History    HistoryConfig    `json:"history" mapstructure:"history"`
	Logging    logger.Config    `json:"logging" mapstructure:"logging"`
	Telemetry  TelemetryConfig  `json:"telemetry" mapstructure:"telemetry"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// LLMConfig holds provider profiles and completion settings
type LLMConfig struct {
	Profiles    []ProfileConfig `json:"profiles" mapstructure:"profiles" validate:"dive"`
	Model       string          `json:"model" mapstructure:"model"`
	MaxTokens   int             `json:"max_tokens" mapstructure:"max_tokens" validate:"gt=0,lte=200000"`
	Temperature float64         `json:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	Timeout     time.Duration   `json:"timeout" mapstructure:"timeout" validate:"gte=0"`
	MaxRetries  int             `json:"max_retries" mapstructure:"max_retries" validate:"gte=0,lte=10"`
	BaseDelay   time.Duration   `json:"base_delay" mapstructure:"base_delay" validate:"gte=0"`
	Cooldown    time.Duration   `json:"cooldown" mapstructure:"cooldown" validate:"gte=0"`
}

// ProfileConfig represents an LLM provider profile
type ProfileConfig struct {
	ID       string `json:"id" mapstructure:"id" validate:"required"`
	Provider string `json:"provider" mapstructure:"provider" validate:"required,oneof=anthropic openai"`
	APIKey   string `json:"api_key" mapstructure:"api_key" validate:"required"`
	BaseURL  string `json:"base_url,omitempty" mapstructure:"base_url" validate:"omitempty,url"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// EngineConfig bounds every flow run
type EngineConfig struct {
	MaxSteps       int           `json:"max_steps" mapstructure:"max_steps" validate:"gt=0"`
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout" validate:"gt=0"`
	DefaultMode    string        `json:"default_mode" mapstructure:"default_mode" validate:"oneof=simple autonomous intent"`
	HistoryWindow  int           `json:"history_window" mapstructure:"history_window" validate:"gte=0"`
	KeepWorkspaces int           `json:"keep_workspaces" mapstructure:"keep_workspaces" validate:"gte=0"`
	SystemPrompt   string        `json:"system_prompt,omitempty" mapstructure:"system_prompt"`
	Personality    string        `json:"personality,omitempty" mapstructure:"personality" validate:"omitempty,oneof=professional casual friendly task-focused"`
}

// AutonomousConfig tunes the think loop and its completion gate
type AutonomousConfig struct {
	MaxIterations          int            `json:"max_iterations" mapstructure:"max_iterations" validate:"gt=0"`
	SynthesisStepThreshold int            `json:"synthesis_step_threshold" mapstructure:"synthesis_step_threshold" validate:"gt=0"`
	MinResearch            map[string]int `json:"min_research" mapstructure:"min_research" validate:"dive,keys,oneof=simple focused complex,endkeys,gte=0"`
	MinSynthesisChars      int            `json:"min_synthesis_chars" mapstructure:"min_synthesis_chars" validate:"gte=0"`
}

// PlannerConfig tunes intent-driven planning
type PlannerConfig struct {
	MaxTodos       int  `json:"max_todos" mapstructure:"max_todos" validate:"gt=0,lte=50"`
	MaxTodoRetries int  `json:"max_todo_retries" mapstructure:"max_todo_retries" validate:"gte=0"`
	MaxSteps       int  `json:"max_steps" mapstructure:"max_steps" validate:"gt=0"`
	EvaluateSteps  bool `json:"evaluate_steps" mapstructure:"evaluate_steps"`
}

// ToolsConfig holds tool execution limits and policy
type ToolsConfig struct {
	Timeout              time.Duration      `json:"timeout" mapstructure:"timeout" validate:"gte=0"`
	Allow                []string           `json:"allow" mapstructure:"allow"`
	Deny                 []string           `json:"deny" mapstructure:"deny"`
	RateLimits           map[string]float64 `json:"rate_limits" mapstructure:"rate_limits" validate:"dive,gte=0"`
	DefaultRatePerMinute float64            `json:"default_rate_per_minute" mapstructure:"default_rate_per_minute" validate:"gte=0"`
	MaxOutputBytes       int                `json:"max_output_bytes" mapstructure:"max_output_bytes" validate:"gte=0"`
	// WorkspaceRoot enables the host file tools when set.
	WorkspaceRoot string `json:"workspace_root,omitempty" mapstructure:"workspace_root" validate:"omitempty,dir"`
	ReadOnly      bool   `json:"read_only" mapstructure:"read_only"`
}

// CacheConfig controls per-user assistant eviction
type CacheConfig struct {
	IdleTimeout   time.Duration `json:"idle_timeout" mapstructure:"idle_timeout" validate:"gt=0"`
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" validate:"gt=0"`
}

// HistoryConfig selects the conversation store
type HistoryConfig struct {
	Backend       string        `json:"backend" mapstructure:"backend" validate:"oneof=memory jsonl sqlite postgres mysql redis badger"`
	Path          string        `json:"path,omitempty" mapstructure:"path"`
	DSN           string        `json:"dsn,omitempty" mapstructure:"dsn"`
	RedisAddr     string        `json:"redis_addr,omitempty" mapstructure:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string        `json:"redis_password,omitempty" mapstructure:"redis_password"`
	RedisDB       int           `json:"redis_db" mapstructure:"redis_db" validate:"gte=0"`
	TTL           time.Duration `json:"ttl" mapstructure:"ttl" validate:"gte=0"`
	MaxMessages   int           `json:"max_messages" mapstructure:"max_messages" validate:"gt=0"`
}

// TelemetryConfig holds tracing, metrics and audit settings
type TelemetryConfig struct {
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	Exporter    string  `json:"exporter" mapstructure:"exporter" validate:"omitempty,oneof=none stdout otlp"`
	Endpoint    string  `json:"endpoint,omitempty" mapstructure:"endpoint"`
	Insecure    bool    `json:"insecure" mapstructure:"insecure"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
	MetricsAddr string  `json:"metrics_addr,omitempty" mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	AuditLog    string  `json:"audit_log,omitempty" mapstructure:"audit_log"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	a := agent.DefaultConfig()
	return &Config{
		LLM: LLMConfig{
			Profiles:    []ProfileConfig{},
			Model:       "claude-sonnet-4",
			MaxTokens:   a.MaxTokens,
			Temperature: a.Temperature,
			Timeout:     2 * time.Minute,
			MaxRetries:  llm.DefaultMaxRetries,
			BaseDelay:   llm.DefaultBaseDelay,
			Cooldown:    llm.DefaultCooldown,
		},
		Engine: EngineConfig{
			MaxSteps:       a.MaxSteps,
			Timeout:        a.Timeout,
			DefaultMode:    string(a.DefaultMode),
			HistoryWindow:  a.HistoryWindow,
			KeepWorkspaces: a.KeepWorkspaces,
		},
		Autonomous: AutonomousConfig{
			MaxIterations:          a.Autonomous.MaxIterations,
			SynthesisStepThreshold: a.Autonomous.SynthesisStepThreshold,
			MinResearch:            a.Autonomous.MinResearch,
			MinSynthesisChars:      a.Autonomous.MinSynthesisChars,
		},
		Planner: PlannerConfig{
			MaxTodos:       a.Planner.MaxTodos,
			MaxTodoRetries: a.Planner.MaxTodoRetries,
			MaxSteps:       a.Planner.MaxSteps,
			EvaluateSteps:  a.Planner.EvaluateSteps,
		},
		Tools: ToolsConfig{
			Timeout:        tools.DefaultTimeout,
			Allow:          []string{"*"},
			Deny:           []string{},
			RateLimits:     map[string]float64{},
			MaxOutputBytes: tools.DefaultMaxOutputBytes,
		},
		Cache: CacheConfig{
			IdleTimeout:   session.DefaultIdleTimeout,
			SweepInterval: session.DefaultSweepInterval,
		},
		History: HistoryConfig{
			Backend:     history.BackendJSONL,
			TTL:         30 * 24 * time.Hour,
			MaxMessages: a.MaxMessages,
		},
		Logging: logger.DefaultConfig(),
		Telemetry: TelemetryConfig{
			ServiceName: "aide",
			Exporter:    "none",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.LLM.Profiles = make([]ProfileConfig, len(c.LLM.Profiles))
	for i, p := range c.LLM.Profiles {
		if p.APIKey != "" {
			p.APIKey = mask(p.APIKey)
		}
		out.LLM.Profiles[i] = p
	}
	if out.History.DSN != "" {
		out.History.DSN = "********"
	}
	if out.History.RedisPassword != "" {
		out.History.RedisPassword = "********"
	}
	return &out
}

func mask(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// AgentConfig returns the assistant settings
func (c *Config) AgentConfig() agent.Config {
	return agent.Config{
		Model:          c.LLM.Model,
		MaxTokens:      c.LLM.MaxTokens,
		Temperature:    c.LLM.Temperature,
		MaxSteps:       c.Engine.MaxSteps,
		Timeout:        c.Engine.Timeout,
		DefaultMode:    agent.Mode(c.Engine.DefaultMode),
		HistoryWindow:  c.Engine.HistoryWindow,
		MaxMessages:    c.History.MaxMessages,
		SystemPrompt:   c.Engine.SystemPrompt,
		KeepWorkspaces: c.Engine.KeepWorkspaces,
		Autonomous: agent.AutonomousConfig{
			MaxIterations:          c.Autonomous.MaxIterations,
			SynthesisStepThreshold: c.Autonomous.SynthesisStepThreshold,
			MinResearch:            c.Autonomous.MinResearch,
			MinSynthesisChars:      c.Autonomous.MinSynthesisChars,
		},
		Planner: agent.PlannerConfig{
			MaxTodos:       c.Planner.MaxTodos,
			MaxTodoRetries: c.Planner.MaxTodoRetries,
			MaxSteps:       c.Planner.MaxSteps,
			EvaluateSteps:  c.Planner.EvaluateSteps,
		},
	}
}

// ToolsConfig returns the registry limits. An empty allow and deny list
// means no policy.
func (c *Config) ToolsConfig() tools.Config {
	cfg := tools.Config{
		Timeout:              c.Tools.Timeout,
		RateLimits:           c.Tools.RateLimits,
		DefaultRatePerMinute: c.Tools.DefaultRatePerMinute,
		MaxOutputBytes:       c.Tools.MaxOutputBytes,
	}
	if len(c.Tools.Allow) > 0 || len(c.Tools.Deny) > 0 {
		cfg.Policy = &tools.Policy{Allow: c.Tools.Allow, Deny: c.Tools.Deny}
	}
	return cfg
}

// FailoverConfig returns the LLM failover settings
func (c *Config) FailoverConfig() llm.FailoverConfig {
	profiles := make([]llm.AuthProfile, 0, len(c.LLM.Profiles))
	for _, p := range c.LLM.Profiles {
		profiles = append(profiles, llm.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			BaseURL:  p.BaseURL,
			Priority: p.Priority,
		})
	}
	return llm.FailoverConfig{
		Profiles:   profiles,
		Model:      c.LLM.Model,
		MaxTokens:  c.LLM.MaxTokens,
		Timeout:    c.LLM.Timeout,
		MaxRetries: c.LLM.MaxRetries,
		BaseDelay:  c.LLM.BaseDelay,
		Cooldown:   c.LLM.Cooldown,
	}
}

// HistoryConfig returns the store settings. File backends default to a
// location under the data directory.
func (c *Config) HistoryConfig() history.Config {
	path := c.History.Path
	if path == "" {
		switch c.History.Backend {
		case history.BackendJSONL:
			path = filepath.Join(c.DataDir, "history")
		case history.BackendSQLite:
			path = filepath.Join(c.DataDir, "history.db")
		case history.BackendBadger:
			path = filepath.Join(c.DataDir, "badger")
		}
	}
	return history.Config{
		Backend:       c.History.Backend,
		Path:          path,
		DSN:           c.History.DSN,
		RedisAddr:     c.History.RedisAddr,
		RedisPassword: c.History.RedisPassword,
		RedisDB:       c.History.RedisDB,
		TTL:           c.History.TTL,
		MaxMessages:   c.History.MaxMessages,
	}
}

// CacheConfig returns the session cache settings
func (c *Config) CacheConfig() session.Config {
	return session.Config{
		IdleTimeout:   c.Cache.IdleTimeout,
		SweepInterval: c.Cache.SweepInterval,
	}
}

// TracingOptions returns the OpenTelemetry exporter settings
func (c *Config) TracingOptions() tracing.Options {
	return tracing.Options{
		ServiceName: c.Telemetry.ServiceName,
		Exporter:    c.Telemetry.Exporter,
		Endpoint:    c.Telemetry.Endpoint,
		Insecure:    c.Telemetry.Insecure,
		SampleRatio: c.Telemetry.SampleRatio,
	}
}
