package runctx

import (
	"context"
	"time"

	"github.com/juju/clock"

	"pbembed/internal/logging"
)

const defaultPollInterval = time.Second

// Scheduler calls Poll once per Interval until the context ends. It is the
// only place subscriptions are polled from; nothing polls on its own.
type Scheduler struct {
	Clock    clock.Clock
	Interval time.Duration
	Poll     func(ctx context.Context) int
	Logger   *logging.Logger
}

// Run blocks until ctx ends and returns ctx.Err().
func (s Scheduler) Run(ctx context.Context) error {
	if s.Clock == nil {
		s.Clock = clock.WallClock
	}
	if s.Interval <= 0 {
		s.Interval = defaultPollInterval
	}
	s.Logger.Debug("poll scheduler started", logging.Field("interval", s.Interval.String()))

	timer := s.Clock.NewTimer(s.Interval)
	defer timer.Stop()
	polls := 0
	for {
		select {
		case <-ctx.Done():
			s.Logger.Debug("poll scheduler stopped", logging.Field("polls", polls), logging.Field("error", ctx.Err()))
			return ctx.Err()
		case <-timer.Chan():
			polls++
			delivered := s.Poll(ctx)
			if delivered > 0 {
				s.Logger.Debug("poll delivered events", logging.Field("count", delivered))
			}
			// The next interval starts after the poll returns, so a slow poll
			// never queues up another.
			timer.Reset(s.Interval)
		}
	}
}
