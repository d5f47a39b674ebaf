package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// retentionParser accepts standard 5-field cron expressions and descriptors
// such as "@daily".
var retentionParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// RetentionConfig controls scheduled pruning of idle sessions.
type RetentionConfig struct {
	// Days is the retention window; sessions idle longer are pruned.
	// 0 disables pruning entirely.
	Days int

	// Schedule is a cron expression. Defaults to daily at 03:00.
	Schedule string

	Logger *slog.Logger
}

// Retention prunes expired sessions on a cron schedule. Artifact blobs are
// not touched; their garbage collection is a separate concern.
type Retention struct {
	store   Store
	config  RetentionConfig
	logger  *slog.Logger
	nowFunc func() time.Time // for testing

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRetention creates a retention runner; the schedule is validated here.
func NewRetention(store Store, config RetentionConfig) (*Retention, error) {
	if config.Schedule == "" {
		config.Schedule = "0 3 * * *"
	}
	if _, err := retentionParser.Parse(config.Schedule); err != nil {
		return nil, fmt.Errorf("parse retention schedule: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "retention")
	}
	return &Retention{
		store:   store,
		config:  config,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// SetNowFunc sets a custom time function for testing.
func (r *Retention) SetNowFunc(fn func() time.Time) {
	r.nowFunc = fn
}

// Start launches the schedule loop. No-op when the window is 0 days.
func (r *Retention) Start(ctx context.Context) error {
	if r.config.Days <= 0 {
		r.logger.Info("session retention disabled")
		return nil
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.logger.Info("starting session retention",
		"days", r.config.Days,
		"schedule", r.config.Schedule,
	)

	r.wg.Add(1)
	go r.loop(ctx)
	return nil
}

// Stop cancels the schedule loop and waits for it to exit.
func (r *Retention) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Retention) loop(ctx context.Context) {
	defer r.wg.Done()

	sched, err := retentionParser.Parse(r.config.Schedule)
	if err != nil {
		r.logger.Error("invalid retention schedule", "error", err)
		return
	}

	for {
		next := sched.Next(r.nowFunc())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("session prune failed", "error", err)
			}
		}
	}
}

// RunOnce prunes immediately and returns the number of sessions removed.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	if r.config.Days <= 0 {
		return 0, nil
	}
	cutoff := r.nowFunc().Add(-time.Duration(r.config.Days) * 24 * time.Hour)
	pruned, err := r.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		r.logger.Info("pruned expired sessions", "count", pruned, "cutoff", cutoff)
	}
	return pruned, nil
}
