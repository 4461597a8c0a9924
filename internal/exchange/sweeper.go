package exchange

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minSweepWait  = 10 * time.Millisecond
	purgeInterval = time.Minute
)

// Sweeper applies offer expiries and lock timeouts in the background. It
// wakes at the earlier of its interval and the next pending deadline, and
// sweeps only the courses with something due, several at a time.
type Sweeper struct {
	engine      *Engine
	interval    time.Duration
	concurrency int
	log         *zap.Logger
}

// NewSweeper creates a sweeper for e. interval bounds how late a deadline
// can be applied when it was scheduled after the sweeper went to sleep.
func NewSweeper(e *Engine, interval time.Duration, concurrency int) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Sweeper{engine: e, interval: interval, concurrency: concurrency, log: e.log}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("starting expiration sweeper",
		zap.Duration("interval", s.interval),
		zap.Int("concurrency", s.concurrency))

	lastPurge := s.engine.clock.Now()
	timer := time.NewTimer(s.wait())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiration sweeper shutting down")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			if now := s.engine.clock.Now(); now.Sub(lastPurge) >= purgeInterval {
				s.engine.Purge()
				lastPurge = now
			}
			timer.Reset(s.wait())
		}
	}
}

// SweepOnce settles every course with a deadline at or before now and
// returns how many courses it visited. Courses left unvisited because ctx
// ended are rescheduled.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	now := s.engine.clock.Now()
	crns := s.engine.deadlines.popDue(now)
	if len(crns) == 0 {
		return 0
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, crn := range crns {
		crn := crn
		g.Go(func() error {
			if gctx.Err() != nil {
				s.engine.deadlines.schedule(now, crn)
				return nil
			}
			s.engine.sweepCourse(crn)
			return nil
		})
	}
	_ = g.Wait()

	s.log.Debug("sweep finished", zap.Int("courses", len(crns)))
	return len(crns)
}

func (s *Sweeper) wait() time.Duration {
	d := s.interval
	if next, ok := s.engine.deadlines.next(); ok {
		if until := next.Sub(s.engine.clock.Now()); until < d {
			d = until
		}
	}
	if d < minSweepWait {
		d = minSweepWait
	}
	return d
}
