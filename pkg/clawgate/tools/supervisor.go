package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome records a finished background task.
type Outcome struct {
	ID       string
	Kind     string
	Err      error
	Started  time.Time
	Finished time.Time
}

// Supervisor runs background tasks with panic recovery and keeps a bounded
// log of recent outcomes. It exists so a crashing deferred task never takes
// the gateway down with it.
type Supervisor struct {
	ctx    context.Context
	logger *slog.Logger

	mu       sync.Mutex
	wg       sync.WaitGroup
	outcomes []Outcome
}

const maxOutcomes = 100

// NewSupervisor returns a supervisor whose tasks inherit ctx.
func NewSupervisor(ctx context.Context, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		ctx:    ctx,
		logger: logger.With("component", "supervisor"),
	}
}

// Go starts fn in the background and returns its task id. Panics are
// recovered and recorded as errors.
func (s *Supervisor) Go(kind string, fn func(ctx context.Context) error) string {
	id := uuid.NewString()
	started := time.Now()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.logger.Error("background task panicked",
					"task_id", id, "kind", kind, "panic", r, "stack", string(debug.Stack()))
			}
			s.record(Outcome{ID: id, Kind: kind, Err: err, Started: started, Finished: time.Now()})
		}()
		err = fn(s.ctx)
		if err != nil {
			s.logger.Warn("background task failed", "task_id", id, "kind", kind, "error", err)
		}
	}()
	return id
}

func (s *Supervisor) record(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	if len(s.outcomes) > maxOutcomes {
		s.outcomes = s.outcomes[len(s.outcomes)-maxOutcomes:]
	}
}

// Outcomes returns a copy of the recorded outcomes, oldest first.
func (s *Supervisor) Outcomes() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Outcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

// Wait blocks until all running tasks finish. Used during shutdown.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
