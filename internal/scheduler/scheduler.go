package scheduler

import (
	"context"
	"log"
	"time"

	"civicflow/internal/domain"
	"civicflow/internal/engine"
)

const DefaultInterval = 15 * time.Second

// Target is the core the scheduler drives.
type Target interface {
	Issues() []domain.Issue
	ApplyAction(ctx context.Context, issueID, actorID string, action domain.Action) (engine.Result, error)
}

// Scheduler reverts In Progress issues whose deadline has passed.
type Scheduler struct {
	Target   Target
	Engine   engine.Engine
	Interval time.Duration
	Now      func() time.Time
	Logger   *log.Logger
}

func New(target Target, eng engine.Engine, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{Target: target, Engine: eng, Interval: interval, Now: eng.Now, Logger: log.Default()}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Sweep applies Timeout to every expired issue once and returns how many were
// reverted. Failures are logged and skipped.
func (s *Scheduler) Sweep(ctx context.Context) int {
	now := s.now()
	seen := map[string]struct{}{}
	reverted := 0
	for _, issue := range s.Target.Issues() {
		if ctx.Err() != nil {
			break
		}
		if _, ok := seen[issue.ID]; ok {
			continue
		}
		seen[issue.ID] = struct{}{}
		if !s.Engine.Expired(issue, now) {
			continue
		}
		if _, err := s.Target.ApplyAction(ctx, issue.ID, domain.SystemActor, domain.Timeout{}); err != nil {
			s.logger().Printf("scheduler: revert %s: %v", issue.ID, err)
			continue
		}
		reverted++
	}
	return reverted
}

// Run sweeps on every tick until ctx is done or ticks is closed.
func (s *Scheduler) Run(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ticks:
			if !ok {
				return
			}
			if n := s.Sweep(ctx); n > 0 {
				s.logger().Printf("scheduler: reverted %d expired issue(s)", n)
			}
		}
	}
}

// Start runs the scheduler on its own ticker. The returned func stops it and
// waits for the loop to exit.
func (s *Scheduler) Start(ctx context.Context) func() {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, ticker.C)
	}()
	return func() {
		cancel()
		ticker.Stop()
		<-done
	}
}

func (s *Scheduler) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}
