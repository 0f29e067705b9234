package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"expensedesk/internal/log"
)

// DraftPurger deletes drafts not touched since cutoff.
type DraftPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// JanitorConfig holds configuration for the janitor
type JanitorConfig struct {
	// Interval between runs (default: 1h)
	Interval time.Duration

	// DraftTTL is how long an untouched draft is kept (default: 7 days)
	DraftTTL time.Duration
}

func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Interval: time.Hour,
		DraftTTL: 7 * 24 * time.Hour,
	}
}

// Janitor periodically purges abandoned drafts.
type Janitor struct {
	drafts DraftPurger
	config JanitorConfig
	logger *log.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewJanitor(drafts DraftPurger, logger *log.Logger, config JanitorConfig) *Janitor {
	def := DefaultJanitorConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.DraftTTL <= 0 {
		config.DraftTTL = def.DraftTTL
	}
	return &Janitor{
		drafts: drafts,
		config: config,
		logger: logger.WithComponent(log.ComponentStorage),
		now:    time.Now,
	}
}

// Start begins the loop. Returns an error if already running.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return fmt.Errorf("janitor is already running")
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.runLoop(ctx)

	j.logger.InfoContext(ctx, "Janitor started", "interval", j.config.Interval, "draft_ttl", j.config.DraftTTL)
	return nil
}

// Stop signals the loop and waits for it, bounded by ctx.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	stopCh, doneCh := j.stopCh, j.doneCh
	j.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		j.logger.InfoContext(ctx, "Janitor stopped")
		return nil
	case <-ctx.Done():
		j.logger.WarnContext(ctx, "Janitor stop timed out")
		return ctx.Err()
	}
}

func (j *Janitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *Janitor) runLoop(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.RunOnce(ctx)
	for {
		select {
		case <-j.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs one purge pass and returns the number of drafts removed.
func (j *Janitor) RunOnce(ctx context.Context) int64 {
	n, err := j.drafts.PurgeOlderThan(ctx, j.now().Add(-j.config.DraftTTL))
	if err != nil {
		j.logger.ErrorContext(ctx, "Failed to purge drafts", log.FieldError, err)
		return 0
	}
	if n > 0 {
		j.logger.InfoContext(ctx, "Purged abandoned drafts", "count", n)
	}
	return n
}
