package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading answers from in
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run asks for the LLM credentials and the main defaults, starting from base
func (w *Wizard) Run(base *Config) (*Config, error) {
	fmt.Fprintln(w.out, "=== aide configuration ===")
	fmt.Fprintln(w.out)

	cfg := *base
	cfg.LLM.Profiles = nil
	validator := NewValidator()

	fmt.Fprintln(w.out, "API Keys (at least one is required):")
	for _, provider := range []string{"anthropic", "openai"} {
		for {
			key, err := w.ask(fmt.Sprintf("%s API Key (press Enter to skip)", providerTitle(provider)), "")
			if err != nil {
				return nil, err
			}
			if key == "" {
				break
			}
			if err := validator.ValidateAPIKey(key, provider, ""); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}
			cfg.LLM.Profiles = append(cfg.LLM.Profiles, ProfileConfig{
				ID:       provider,
				Provider: provider,
				APIKey:   key,
				Priority: len(cfg.LLM.Profiles) + 1,
			})
			break
		}
	}
	if len(cfg.LLM.Profiles) == 0 {
		return nil, errors.New("at least one API key is required")
	}

	model, err := w.ask("Model", cfg.LLM.Model)
	if err != nil {
		return nil, err
	}
	cfg.LLM.Model = model

	fmt.Fprintln(w.out)
	for {
		mode, err := w.ask("Default mode (simple, autonomous, intent)", cfg.Engine.DefaultMode)
		if err != nil {
			return nil, err
		}
		if mode == "simple" || mode == "autonomous" || mode == "intent" {
			cfg.Engine.DefaultMode = mode
			break
		}
		fmt.Fprintf(w.out, "Error: invalid mode %s\n", mode)
	}

	for {
		backend, err := w.ask("History backend (memory, jsonl, sqlite, postgres, mysql, redis, badger)", cfg.History.Backend)
		if err != nil {
			return nil, err
		}
		cfg.History.Backend = backend
		switch backend {
		case "postgres", "mysql":
			if cfg.History.DSN, err = w.ask("Database DSN", cfg.History.DSN); err != nil {
				return nil, err
			}
		case "redis":
			if cfg.History.RedisAddr, err = w.ask("Redis address", "localhost:6379"); err != nil {
				return nil, err
			}
		}
		if errs := validator.ValidateConfig(&cfg); len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintf(w.out, "Error: %v\n", e)
			}
			continue
		}
		break
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete.")
	return &cfg, nil
}

// ask prints prompt with its default and returns the trimmed answer
func (w *Wizard) ask(prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}
	line, err := w.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

func providerTitle(p string) string {
	switch p {
	case "openai":
		return "OpenAI"
	case "anthropic":
		return "Anthropic"
	}
	return p
}
