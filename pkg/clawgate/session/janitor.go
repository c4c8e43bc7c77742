package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper is implemented by stores that can expire inactive sessions.
type Sweeper interface {
	SweepOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor runs a daily retention sweep over a durable session store.
type Janitor struct {
	cron          *cron.Cron
	store         Sweeper
	retentionDays int
	logger        *slog.Logger
}

// NewJanitor returns nil when the store cannot sweep or retention is
// disabled; callers treat a nil janitor as "nothing to schedule".
func NewJanitor(store Store, retentionDays int, logger *slog.Logger) *Janitor {
	sweeper, ok := store.(Sweeper)
	if !ok || retentionDays <= 0 {
		return nil
	}
	return &Janitor{
		cron:          cron.New(),
		store:         sweeper,
		retentionDays: retentionDays,
		logger:        logger.With("component", "session_janitor"),
	}
}

// Start schedules the daily sweep. The first sweep runs at the next
// midnight, not immediately.
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc("@daily", j.sweep)
	if err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("retention sweep scheduled", "retention_days", j.retentionDays)
	return nil
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -j.retentionDays)
	removed, err := j.store.SweepOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("retention sweep failed", "error", err)
		return
	}
	if removed > 0 {
		j.logger.Info("retention sweep complete", "turns_removed", removed, "cutoff", cutoff.Format(time.RFC3339))
	}
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
