// Package health runs periodic health checks with auto-recovery for the
// translation server: state database, record catalog and model directory.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutu-network/mtran/internal/infra/metrics"
)

// DefaultInterval is the time between check rounds.
const DefaultInterval = 60 * time.Second

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Recovered bool      `json:"recovered,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is the state database.
type Pinger interface {
	Ping() error
}

// Catalog is the model record catalog.
type Catalog interface {
	Loaded() bool
	Init(ctx context.Context) error
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	log      zerolog.Logger
}

// NewChecker creates a checker for the database, the catalog and the model
// directory. A nil db skips the database check.
func NewChecker(db Pinger, catalog Catalog, modelDir string, logger zerolog.Logger) *Checker {
	c := &Checker{
		interval: DefaultInterval,
		log:      logger.With().Str("component", "health").Logger(),
	}
	if db != nil {
		c.checks = append(c.checks, Check{
			Name:    "sqlite",
			CheckFn: func(ctx context.Context) error { return db.Ping() },
		})
	}
	c.checks = append(c.checks,
		Check{
			Name: "records",
			CheckFn: func(ctx context.Context) error {
				if !catalog.Loaded() {
					return errors.New("model records not loaded")
				}
				return nil
			},
			RecoverFn: catalog.Init,
		},
		Check{
			Name:    "model_dir",
			CheckFn: func(ctx context.Context) error { return checkWritable(modelDir) },
			RecoverFn: func(ctx context.Context) error {
				return os.MkdirAll(modelDir, 0o755)
			},
		},
	)
	return c
}

// Add registers an extra check.
func (c *Checker) Add(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
}

// SetInterval changes the time between rounds. Call before Run.
func (c *Checker) SetInterval(d time.Duration) {
	if d > 0 {
		c.interval = d
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check, attempting recovery for failures, and stores
// the results.
func (c *Checker) RunOnce(ctx context.Context) {
	c.mu.RLock()
	checks := append([]Check(nil), c.checks...)
	c.mu.RUnlock()

	statuses := make([]Status, len(checks))
	for i, check := range checks {
		s := Status{Name: check.Name, CheckedAt: time.Now()}
		err := check.CheckFn(ctx)
		if err != nil && check.RecoverFn != nil {
			metrics.HealthRecoveries.WithLabelValues(check.Name).Inc()
			if rerr := check.RecoverFn(ctx); rerr != nil {
				c.log.Warn().Err(rerr).Str("check", check.Name).Msg("recovery failed")
			} else if err = check.CheckFn(ctx); err == nil {
				s.Recovered = true
				c.log.Info().Str("check", check.Name).Msg("recovered")
			}
		}
		if err != nil {
			s.Error = err.Error()
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
			c.log.Warn().Err(err).Str("check", check.Name).Msg("health check failed")
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass. It is vacuously true before
// the first round.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

func checkWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check model dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("model path %s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return fmt.Errorf("model dir not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
