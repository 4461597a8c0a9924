package exchange

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"seat-exchange-backend/internal/model"
)

// Matcher pairs the oldest open offer of a course with its best-scoring
// queued request, greedily, until no eligible pair is left.
type Matcher struct {
	locks *LockManager
	log   *zap.Logger
}

// tryMatch runs one matching pass over q, which the caller holds locked. It
// is a no-op when no pair exists, so calling it redundantly is safe.
func (mt *Matcher) tryMatch(q *CourseQueue, now time.Time, s Settings, horizon time.Duration) []*model.Match {
	var made []*model.Match
	for {
		o, r, ok := q.peekBestPair(now, s.FairnessWeight, horizon)
		if !ok {
			return made
		}
		m, err := mt.locks.lock(q, o, r, now)
		if err != nil {
			if errors.Is(err, ErrInvariant) {
				mt.log.Error("lock refused", zap.String("crn", q.crn), zap.Error(err))
			} else {
				mt.log.Warn("lock refused; retrying on next trigger", zap.String("crn", q.crn), zap.Error(err))
			}
			return made
		}
		made = append(made, m)
	}
}
