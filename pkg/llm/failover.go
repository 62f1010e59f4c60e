package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/aide/internal/observability"
	"github.com/harun/aide/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrNoProfiles         = errors.New("no auth profiles configured")
	ErrAllProfilesFailed  = errors.New("all auth profiles failed")
	ErrAllProfilesCooling = errors.New("all auth profiles are in cooldown")
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultCooldown   = time.Minute
)

// AuthProfile represents credentials for one LLM provider account
type AuthProfile struct {
	ID            string    `json:"id" mapstructure:"id"`
	Provider      string    `json:"provider" mapstructure:"provider"`
	APIKey        string    `json:"api_key" mapstructure:"api_key"`
	BaseURL       string    `json:"base_url,omitempty" mapstructure:"base_url"`
	Priority      int       `json:"priority" mapstructure:"priority"`
	FailureCount  int       `json:"failure_count" mapstructure:"-"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty" mapstructure:"-"`
}

// InCooldown reports whether the profile is resting at t
func (p AuthProfile) InCooldown(t time.Time) bool {
	return !p.CooldownUntil.IsZero() && t.Before(p.CooldownUntil)
}

// FailoverConfig configures a Failover client
type FailoverConfig struct {
	Profiles   []AuthProfile
	Model      string
	MaxTokens  int
	Timeout    time.Duration // per attempt; 0 means no limit
	MaxRetries int
	BaseDelay  time.Duration
	Cooldown   time.Duration

	// Factory builds the provider for a profile. Defaults to NewProvider.
	Factory func(AuthProfile) (Provider, error)
}

// Failover is a Client that walks auth profiles in priority order. Each
// profile gets MaxRetries attempts with exponential backoff for retryable
// errors. A failing profile is put in cooldown for Cooldown times its
// failure count.
type Failover struct {
	cfg    FailoverConfig
	logger zerolog.Logger

	mu        sync.Mutex
	profiles  []AuthProfile
	providers map[string]Provider

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFailover creates a failover client
func NewFailover(cfg FailoverConfig) (*Failover, error) {
	if len(cfg.Profiles) == 0 {
		return nil, ErrNoProfiles
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Factory == nil {
		cfg.Factory = NewProvider
	}

	profiles := make([]AuthProfile, len(cfg.Profiles))
	copy(profiles, cfg.Profiles)
	sortProfilesByPriority(profiles)

	return &Failover{
		cfg:       cfg,
		logger:    log.Logger.With().Str("component", "llm").Logger(),
		profiles:  profiles,
		providers: make(map[string]Provider),
		now:       time.Now,
		sleep:     sleepContext,
	}, nil
}

// Profiles returns a snapshot of the profile states
func (f *Failover) Profiles() []AuthProfile {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]AuthProfile, len(f.profiles))
	copy(out, f.profiles)
	return out
}

// Complete runs the request against the first healthy profile
func (f *Failover) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		req.Model = f.cfg.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = f.cfg.MaxTokens
	}

	ctx, span := tracing.StartSpan(ctx, "aide.llm", "llm.complete",
		attribute.String("llm.model", req.Model),
		attribute.Bool("llm.json", req.JSON),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, f.logger)

	var lastErr error
	tried := 0
	for _, profile := range f.Profiles() {
		if profile.InCooldown(f.now()) {
			observability.SetProviderCooldown(profile.ID, true)
			logger.Debug().Str("profileId", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}
		tried++

		provider, err := f.provider(profile)
		if err != nil {
			logger.Warn().Str("profileId", profile.ID).Err(err).Msg("Failed to create provider")
			lastErr = err
			continue
		}

		resp, err := f.completeWithRetry(ctx, provider, req, logger)
		if err == nil {
			f.markSuccess(profile.ID)
			span.SetAttributes(attribute.String("llm.provider", provider.Name()))
			return resp, nil
		}

		lastErr = err
		logger.Warn().Str("profileId", profile.ID).Err(err).Msg("Auth profile failed")
		f.markFailure(profile.ID)

		if ctx.Err() != nil || !IsRetryableError(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	if tried == 0 {
		span.SetStatus(codes.Error, ErrAllProfilesCooling.Error())
		return nil, ErrAllProfilesCooling
	}

	logger.Error().Err(lastErr).Msg("All auth profiles failed")
	err := fmt.Errorf("%w: %w", ErrAllProfilesFailed, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

// completeWithRetry calls the provider with exponential backoff
func (f *Failover) completeWithRetry(ctx context.Context, provider Provider, req Request, logger zerolog.Logger) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt < f.cfg.MaxRetries; attempt++ {
		resp, err := f.call(ctx, provider, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryableError(err) || attempt == f.cfg.MaxRetries-1 {
			break
		}

		delay := f.cfg.BaseDelay * time.Duration(1<<attempt)
		logger.Info().
			Str("provider", provider.Name()).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after error")

		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (f *Failover) call(ctx context.Context, provider Provider, req Request) (*Response, error) {
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := provider.Complete(ctx, req)
	if err != nil {
		observability.RecordLLMCall(provider.Name(), time.Since(started), false, 0, 0)
		return nil, err
	}
	observability.RecordLLMCall(provider.Name(), time.Since(started), true, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return resp, nil
}

func (f *Failover) provider(profile AuthProfile) (Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.providers[profile.ID]; ok {
		return p, nil
	}
	p, err := f.cfg.Factory(profile)
	if err != nil {
		return nil, err
	}
	f.providers[profile.ID] = p
	return p, nil
}

// markSuccess resets failure count for a profile
func (f *Failover) markSuccess(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.profiles {
		if f.profiles[i].ID == id {
			f.profiles[i].FailureCount = 0
			f.profiles[i].CooldownUntil = time.Time{}
			observability.SetProviderCooldown(id, false)
			return
		}
	}
}

// markFailure puts a profile in cooldown
func (f *Failover) markFailure(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.profiles {
		if f.profiles[i].ID == id {
			f.profiles[i].FailureCount++
			f.profiles[i].CooldownUntil = f.now().Add(f.cfg.Cooldown * time.Duration(f.profiles[i].FailureCount))
			observability.SetProviderCooldown(id, true)
			return
		}
	}
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"econnreset", "etimedout", "connection reset", "429", "rate limit", "overloaded", "500", "502", "503", "504", "529"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// sortProfilesByPriority sorts profiles by priority (lower = higher priority)
func sortProfilesByPriority(profiles []AuthProfile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
