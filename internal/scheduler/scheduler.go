// Package scheduler runs periodic housekeeping against the store.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

const DefaultInterval = time.Hour

// SessionPurger removes expired console login sessions.
type SessionPurger interface {
	DeleteExpiredSessions() (int64, error)
}

type Scheduler struct {
	store    SessionPurger
	interval time.Duration

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func New(st SessionPurger, opts ...Option) *Scheduler {
	sch := &Scheduler{
		store:    st,
		interval: DefaultInterval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sch)
	}
	return sch
}

// Start runs one pass immediately and then one per interval until Stop or
// ctx cancellation.
func (sch *Scheduler) Start(ctx context.Context) {
	sch.startOnce.Do(func() {
		ctx, sch.cancel = context.WithCancel(ctx)
		go sch.run(ctx)
	})
}

func (sch *Scheduler) Stop() {
	if sch.cancel != nil {
		sch.cancel()
		<-sch.done
	}
}

func (sch *Scheduler) run(ctx context.Context) {
	defer close(sch.done)

	sch.RunOnce()

	ticker := time.NewTicker(sch.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sch.RunOnce()
		}
	}
}

// RunOnce performs a single housekeeping pass. Failures are logged.
func (sch *Scheduler) RunOnce() {
	n, err := sch.store.DeleteExpiredSessions()
	if err != nil {
		log.Printf("scheduler: purging expired sessions: %v", err)
		return
	}
	if n > 0 {
		log.Printf("scheduler: purged %d expired sessions", n)
	}
}
