// Package scheduler owns the scout-role election and the time/signal hook
// dispatch loop described in spec.md §4.7.
package scheduler

import (
	"context"
	"time"

	"github.com/hotmeshio/hotmesh-go/logging"
	"github.com/hotmeshio/hotmesh-go/store"
)

// Dispatcher awakens a parked activity, cancels a child, or expires a job,
// given a parsed time-hook token. No type in this module implements it;
// the scheduler only knows how to find and pop due tokens, and with a nil
// Dispatcher it pops them without acting on them.
type Dispatcher interface {
	Dispatch(ctx context.Context, token store.TimeHookToken) error
}

const (
	scoutKind    = "time"
	defaultLease = 5 * time.Second
	pollInterval = 250 * time.Millisecond
)

// Scheduler polls the time-bucket index while it holds the "time" scout
// role, and re-attempts acquisition whenever it does not.
type Scheduler struct {
	Semantic   *store.Semantic
	Dispatcher Dispatcher
	Logger     *logging.ContextLogger

	LeaseSeconds int
	PollInterval time.Duration
}

func New(sem *store.Semantic, dispatcher Dispatcher, logger *logging.ContextLogger) *Scheduler {
	return &Scheduler{
		Semantic:     sem,
		Dispatcher:   dispatcher,
		Logger:       logger,
		LeaseSeconds: int(defaultLease.Seconds()),
		PollInterval: pollInterval,
	}
}

// Run blocks until ctx is cancelled, repeatedly attempting to become scout
// and, while scout, draining due time-hook buckets.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	// leaseUntil is when the role this scheduler last acquired lapses;
	// until then it drains on every tick without re-reserving.
	var leaseUntil time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if time.Now().Before(leaseUntil) {
				s.drain(ctx)
				continue
			}
			start := time.Now()
			isScout, err := s.Semantic.ReserveScoutRole(ctx, scoutKind, s.LeaseSeconds)
			if err != nil {
				s.logError("reserve scout role", err)
				continue
			}
			if !isScout {
				continue
			}
			leaseUntil = start.Add(time.Duration(s.LeaseSeconds) * time.Second)
			s.drain(ctx)
		}
	}
}

// drain pops and dispatches every currently-due token, one bucket at a
// time, until GetNextTask reports nothing found.
func (s *Scheduler) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		token, _, found, err := s.Semantic.GetNextTask(ctx, time.Now().UnixMilli())
		if err != nil {
			s.logError("get next task", err)
			return
		}
		if !found {
			return
		}
		if s.Dispatcher != nil {
			if err := s.Dispatcher.Dispatch(ctx, token); err != nil {
				s.logError("dispatch time hook", err)
			}
		}
	}
}

func (s *Scheduler) interval() time.Duration {
	if s.PollInterval > 0 {
		return s.PollInterval
	}
	return pollInterval
}

func (s *Scheduler) logError(op string, err error) {
	if s.Logger != nil {
		s.Logger.WithError(err).Error("scheduler: " + op)
	}
}

// AwaitSignal registers jobID as the recipient of a future signal on
// (topic, resolved), per spec.md §4.7's signal-hook storage.
func (s *Scheduler) AwaitSignal(ctx context.Context, topic, resolved, jobID string, ttl time.Duration) (bool, error) {
	return s.Semantic.SetHookSignal(ctx, store.SignalParams{
		Topic:    topic,
		Resolved: resolved,
		JobID:    jobID,
		ExpireIn: ttl,
	})
}

// DeliverSignal resolves and removes a pending signal, returning the jobId
// it was registered for so the caller can resume that job.
func (s *Scheduler) DeliverSignal(ctx context.Context, topic, resolved string) (string, bool, error) {
	return s.Semantic.ResolveHookSignal(ctx, topic, resolved)
}
