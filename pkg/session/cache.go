package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/aide/internal/observability"
	"github.com/harun/aide/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultIdleTimeout   = time.Hour
	DefaultSweepInterval = 15 * time.Minute
)

var (
	ErrEmptyUserID    = errors.New("user id cannot be empty")
	ErrAlreadyRunning = errors.New("session sweep is already running")
	ErrShutdown       = errors.New("session cache is shut down")
)

// Instance is a cached per-user orchestrator. Attach swaps in the
// request-scoped handle (for example a history store) on every lookup.
type Instance[H any] interface {
	Attach(handle H)
}

// Builder constructs and initializes a new instance for userID
type Builder[T any, H any] func(ctx context.Context, userID string, handle H) (T, error)

// Config controls idle eviction
type Config struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Stats is a snapshot of cache activity
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Created int64 `json:"created"`
	Evicted int64 `json:"evicted"`
}

type entry[T any] struct {
	userID       string
	instance     T
	createdAt    time.Time
	lastActivity time.Time
}

// Cache maps users to long-lived instances with idle eviction. An entry
// idle beyond IdleTimeout is treated as absent even before the sweep runs.
// Concurrent first requests for a user build exactly one instance.
type Cache[T Instance[H], H any] struct {
	cfg    Config
	build  Builder[T, H]
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*entry[T]
	stats   Stats
	closed  bool

	flight singleflight.Group

	runMu   sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New creates a cache. Call Start to run the background sweep.
func New[T Instance[H], H any](cfg Config, build Builder[T, H]) *Cache[T, H] {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Cache[T, H]{
		cfg:     cfg,
		build:   build,
		logger:  log.Logger.With().Str("component", "session_cache").Logger(),
		entries: make(map[string]*entry[T]),
	}
}

// GetOrCreate returns the cached instance for userID, creating it if
// missing or idle. The handle is attached to the returned instance.
func (c *Cache[T, H]) GetOrCreate(ctx context.Context, userID string, handle H) (T, error) {
	var zero T
	if userID == "" {
		return zero, ErrEmptyUserID
	}

	ctx, span := tracing.StartSpan(ctx, "aide.session", "session.get_or_create", attribute.String("user_id", userID))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger).With().Str("user_id", userID).Logger()

	if inst, ok, err := c.lookup(userID, true); err != nil {
		return zero, err
	} else if ok {
		inst.Attach(handle)
		span.SetAttributes(attribute.Bool("session.cached", true))
		logger.Debug().Msg("Reusing cached instance")
		return inst, nil
	}

	v, err, shared := c.flight.Do(userID, func() (interface{}, error) {
		// another flight may have stored the entry between lookup and Do
		if inst, ok, err := c.lookup(userID, false); err != nil || ok {
			return inst, err
		}

		inst, err := c.build(tracing.Detach(ctx), userID, handle)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			closeInstance(inst)
			return nil, ErrShutdown
		}
		now := c.cfg.Now()
		c.entries[userID] = &entry[T]{userID: userID, instance: inst, createdAt: now, lastActivity: now}
		c.stats.Created++
		count := len(c.entries)
		c.mu.Unlock()

		observability.RecordCacheCreated()
		observability.SetCacheEntries(count)
		observability.RecordCacheAudit(ctx, "created", userID, map[string]interface{}{"entries": count})
		logger.Info().Int("entries", count).Msg("Created new instance")
		return inst, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, fmt.Errorf("failed to create instance for %s: %w", userID, err)
	}

	inst := v.(T)
	inst.Attach(handle)
	span.SetAttributes(attribute.Bool("session.cached", false), attribute.Bool("session.shared", shared))
	return inst, nil
}

// lookup returns a live entry and refreshes its activity. Idle entries
// are evicted on the spot.
func (c *Cache[T, H]) lookup(userID string, count bool) (T, bool, error) {
	var zero T

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, false, ErrShutdown
	}

	e, ok := c.entries[userID]
	if !ok {
		if count {
			c.stats.Misses++
		}
		c.mu.Unlock()
		return zero, false, nil
	}

	now := c.cfg.Now()
	if now.Sub(e.lastActivity) > c.cfg.IdleTimeout {
		delete(c.entries, userID)
		if count {
			c.stats.Misses++
		}
		c.stats.Evicted++
		remaining := len(c.entries)
		c.mu.Unlock()

		c.evicted(e, "idle", remaining)
		return zero, false, nil
	}

	e.lastActivity = now
	if count {
		c.stats.Hits++
	}
	c.mu.Unlock()
	return e.instance, true, nil
}

// Remove evicts userID explicitly. It reports whether an entry existed.
func (c *Cache[T, H]) Remove(userID string) bool {
	c.mu.Lock()
	e, ok := c.entries[userID]
	if ok {
		delete(c.entries, userID)
		c.stats.Evicted++
	}
	count := len(c.entries)
	c.mu.Unlock()

	if ok {
		c.evicted(e, "removed", count)
	}
	return ok
}

// Sweep evicts every entry idle beyond the threshold and returns the count
func (c *Cache[T, H]) Sweep() int {
	now := c.cfg.Now()

	c.mu.Lock()
	var idle []*entry[T]
	for id, e := range c.entries {
		if now.Sub(e.lastActivity) > c.cfg.IdleTimeout {
			idle = append(idle, e)
			delete(c.entries, id)
		}
	}
	c.stats.Evicted += int64(len(idle))
	count := len(c.entries)
	c.mu.Unlock()

	for _, e := range idle {
		c.evicted(e, "idle", count)
	}
	if len(idle) > 0 {
		c.logger.Info().Int("evicted", len(idle)).Int("entries", count).Msg("Cleaned up idle instances")
	}
	return len(idle)
}

func (c *Cache[T, H]) evicted(e *entry[T], reason string, count int) {
	closeInstance(e.instance)
	observability.RecordCacheEviction(reason)
	observability.SetCacheEntries(count)
	observability.RecordCacheAudit(context.Background(), "evicted", e.userID, map[string]interface{}{
		"reason":  reason,
		"age_ms":  c.cfg.Now().Sub(e.createdAt).Milliseconds(),
		"idle_ms": c.cfg.Now().Sub(e.lastActivity).Milliseconds(),
		"entries": count,
	})
	c.logger.Debug().Str("user_id", e.userID).Str("reason", reason).Msg("Instance evicted")
}

// Start runs the sweep loop until Shutdown
func (c *Cache[T, H]) Start() error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.running {
		return ErrAlreadyRunning
	}
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrShutdown
	}

	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.running = true
	go c.run(c.stopCh, c.doneCh)

	c.logger.Info().
		Dur("idle_timeout", c.cfg.IdleTimeout).
		Dur("sweep_interval", c.cfg.SweepInterval).
		Msg("Session sweep started")
	return nil
}

func (c *Cache[T, H]) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-stop:
			return
		}
	}
}

// Shutdown stops the sweep and clears all entries. It waits for the sweep
// goroutine until ctx is done.
func (c *Cache[T, H]) Shutdown(ctx context.Context) error {
	c.runMu.Lock()
	if c.running {
		close(c.stopCh)
		c.running = false
		done := c.doneCh
		c.runMu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		c.runMu.Unlock()
	}

	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*entry[T])
	c.closed = true
	c.stats.Evicted += int64(len(entries))
	c.mu.Unlock()

	for _, e := range entries {
		c.evicted(e, "shutdown", 0)
	}

	c.logger.Info().Int("cleared", len(entries)).Msg("Session cache shut down")
	return nil
}

// Len returns the number of cached entries, including idle ones not yet swept
func (c *Cache[T, H]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of cache counters
func (c *Cache[T, H]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	s.Entries = len(c.entries)
	return s
}

// IsRunning reports whether the sweep loop is active
func (c *Cache[T, H]) IsRunning() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.running
}

func closeInstance(inst any) {
	if closer, ok := inst.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close evicted instance")
		}
	}
}
