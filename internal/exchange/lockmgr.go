package exchange

import (
	"fmt"
	"time"

	"seat-exchange-backend/internal/model"
)

// LockManager creates and finishes the time-boxed Match that binds one offer
// to one request. Every method expects the caller to hold the course's mutex.
type LockManager struct {
	window    time.Duration
	newID     func() string
	deadlines *deadlineQueue
}

// lock moves an OPEN offer and a QUEUED request of the same course to LOCKED
// together and creates their Match. Either both sides change or neither does.
func (lm *LockManager) lock(q *CourseQueue, o *model.SeatOffer, r *model.SeatRequest, now time.Time) (*model.Match, error) {
	switch {
	case o.CRN != q.crn || r.CRN != q.crn:
		return nil, fmt.Errorf("%w: pair %s/%s outside course %s", ErrInvariant, o.ID, r.ID, q.crn)
	case o.Status != model.OfferOpen:
		return nil, fmt.Errorf("%w: offer %s is %s", ErrStateConflict, o.ID, o.Status)
	case r.Status != model.RequestQueued:
		return nil, fmt.Errorf("%w: request %s is %s", ErrStateConflict, r.ID, r.Status)
	case q.lockOf[o.ID] != nil || q.lockOf[r.ID] != nil:
		return nil, fmt.Errorf("%w: offer %s or request %s already has an active match", ErrInvariant, o.ID, r.ID)
	case !now.Before(o.ExpiresAt):
		return nil, fmt.Errorf("%w: offer %s expired", ErrStateConflict, o.ID)
	}

	m := &model.Match{
		ID:          lm.newID(),
		OfferID:     o.ID,
		RequestID:   r.ID,
		CRN:         q.crn,
		Status:      model.MatchActive,
		LockedUntil: now.Add(lm.window),
		CreatedAt:   now,
	}
	q.removeOffer(o.ID)
	q.removeRequest(r.ID)
	o.Status = model.OfferLocked
	r.Status = model.RequestLocked
	q.matches[m.ID] = m
	q.lockOf[o.ID] = m
	q.lockOf[r.ID] = m
	lm.deadlines.schedule(m.LockedUntil, q.crn)
	return m, nil
}

// sides returns the two entities bound by an active match after checking
// that both are LOCKED on exactly this match.
func (lm *LockManager) sides(q *CourseQueue, m *model.Match) (*model.SeatOffer, *model.SeatRequest, error) {
	o, r := q.offers[m.OfferID], q.requests[m.RequestID]
	switch {
	case o == nil || r == nil:
		return nil, nil, fmt.Errorf("%w: match %s references a missing offer or request", ErrInvariant, m.ID)
	case o.Status != model.OfferLocked || r.Status != model.RequestLocked:
		return nil, nil, fmt.Errorf("%w: match %s binds offer %s (%s) and request %s (%s)",
			ErrInvariant, m.ID, o.ID, o.Status, r.ID, r.Status)
	case q.lockOf[o.ID] != m || q.lockOf[r.ID] != m:
		return nil, nil, fmt.Errorf("%w: match %s is not the lock holder of its sides", ErrInvariant, m.ID)
	}
	return o, r, nil
}

// confirmCompletion finishes a hand-off: match, offer and request all become
// COMPLETED.
func (lm *LockManager) confirmCompletion(q *CourseQueue, m *model.Match, now time.Time) (*model.SeatOffer, *model.SeatRequest, error) {
	if m.Status != model.MatchActive {
		return nil, nil, fmt.Errorf("%w: match %s is %s", ErrInvalidState, m.ID, m.Status)
	}
	o, r, err := lm.sides(q, m)
	if err != nil {
		return nil, nil, err
	}

	done := now
	m.Status = model.MatchCompleted
	m.CompletedAt = &done
	o.Status = model.OfferCompleted
	o.CompletedAt = &done
	r.Status = model.RequestCompleted
	r.CompletedAt = &done
	delete(q.lockOf, o.ID)
	delete(q.lockOf, r.ID)
	return o, r, nil
}

// releaseOnTimeout ends a match whose lock window has passed. The request
// goes back to QUEUED and the offer back to OPEN, both keeping their original
// createdAt. An offer whose own TTL ran out while locked becomes EXPIRED
// instead. The pair is never matched again.
func (lm *LockManager) releaseOnTimeout(q *CourseQueue, m *model.Match, now time.Time) (*model.SeatOffer, *model.SeatRequest, error) {
	if m.Status != model.MatchActive {
		return nil, nil, fmt.Errorf("%w: match %s is %s", ErrInvalidState, m.ID, m.Status)
	}
	if now.Before(m.LockedUntil) {
		return nil, nil, fmt.Errorf("%w: match %s is locked until %s", ErrStateConflict, m.ID, m.LockedUntil.Format(time.RFC3339))
	}
	o, r, err := lm.sides(q, m)
	if err != nil {
		return nil, nil, err
	}

	released := now
	m.Status = model.MatchTimedOut
	m.ReleasedAt = &released
	delete(q.lockOf, o.ID)
	delete(q.lockOf, r.ID)
	q.timedOut[pairKey{o.ID, r.ID}] = struct{}{}

	r.Status = model.RequestQueued
	q.addRequest(r)
	if now.Before(o.ExpiresAt) {
		o.Status = model.OfferOpen
		q.addOffer(o)
	} else {
		o.Status = model.OfferExpired
	}
	return o, r, nil
}
