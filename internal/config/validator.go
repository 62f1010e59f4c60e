package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/harun/aide/pkg/history"
)

// Validator validates configuration values
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// ValidateAPIKey validates an API key format. Keys for custom base URLs are
// not checked.
func (v *Validator) ValidateAPIKey(key, provider, baseURL string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}
	if baseURL != "" {
		return nil
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}
	return nil
}

// ValidateConfig runs the struct tag rules and the cross-field checks and
// returns every problem found.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []error{err}
		}
		for _, fe := range verrs {
			errs = append(errs, fieldError(fe))
		}
	}

	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Profiles {
		if p.ID != "" && seen[p.ID] {
			errs = append(errs, fmt.Errorf("llm profile %d: duplicate id %s", i, p.ID))
		}
		seen[p.ID] = true
		if p.Provider != "" && p.APIKey != "" {
			if err := v.ValidateAPIKey(p.APIKey, p.Provider, p.BaseURL); err != nil {
				errs = append(errs, fmt.Errorf("llm profile %s: %w", p.ID, err))
			}
		}
	}

	if policy := cfg.ToolsConfig().Policy; policy != nil {
		if err := policy.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tools: %w", err))
		}
	}

	if cfg.Cache.SweepInterval > cfg.Cache.IdleTimeout && cfg.Cache.IdleTimeout > 0 {
		errs = append(errs, fmt.Errorf("cache.sweep_interval must not exceed cache.idle_timeout"))
	}
	if cfg.Planner.MaxSteps > cfg.Engine.MaxSteps {
		errs = append(errs, fmt.Errorf("planner.max_steps (%d) must not exceed engine.max_steps (%d)", cfg.Planner.MaxSteps, cfg.Engine.MaxSteps))
	}

	switch cfg.History.Backend {
	case history.BackendPostgres, history.BackendMySQL:
		if cfg.History.DSN == "" {
			errs = append(errs, fmt.Errorf("history.dsn is required for the %s backend", cfg.History.Backend))
		}
	case history.BackendRedis:
		if cfg.History.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("history.redis_addr is required for the redis backend"))
		}
	}

	if cfg.Telemetry.Exporter == "otlp" && cfg.Telemetry.Endpoint == "" {
		errs = append(errs, fmt.Errorf("telemetry.endpoint is required for the otlp exporter"))
	}

	return errs
}

func fieldError(fe validator.FieldError) error {
	field := strings.ToLower(strings.TrimPrefix(fe.Namespace(), "Config."))
	if fe.Param() != "" {
		return fmt.Errorf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Errorf("%s: failed %s", field, fe.Tag())
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
