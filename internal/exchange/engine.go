// Package exchange is the seat exchange matching engine. Each course (CRN)
// has its own CourseQueue; operations on one course are serialized while
// different courses proceed in parallel.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"seat-exchange-backend/internal/clock"
	"seat-exchange-backend/internal/model"
	"seat-exchange-backend/internal/parse"
)

// Engine routes submissions to their course queue, runs the matcher and
// answers queries. It is safe for concurrent use.
//
// Lock order: Engine.mu may be taken before a CourseQueue mutex, never while
// holding one.
type Engine struct {
	cfg      Config
	settings atomic.Pointer[Settings]
	clock    clock.Clock
	log      *zap.Logger
	listener Listener
	newID    func() string

	mu      sync.RWMutex
	courses map[string]*CourseQueue
	catalog map[string]model.Course

	index     *entityIndex
	ledger    *requestLedger
	quota     *dailyQuota
	abuse     *abuseTracker
	stats     *statsCollector
	feed      *activityFeed
	deadlines *deadlineQueue
	locks     *LockManager
	matcher   *Matcher
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithListener receives every state transition. See Listener.
func WithListener(l Listener) Option {
	return func(e *Engine) { e.listener = l }
}

// WithIDGenerator replaces the UUIDv7 generator.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// New builds an Engine from cfg.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		clock:     clock.Real(),
		log:       zap.NewNop(),
		listener:  Fanout(nil),
		newID:     func() string { return uuid.Must(uuid.NewV7()).String() },
		courses:   make(map[string]*CourseQueue),
		catalog:   make(map[string]model.Course),
		index:     newEntityIndex(),
		ledger:    newRequestLedger(),
		quota:     newDailyQuota(),
		abuse:     newAbuseTracker(cfg.AbuseThreshold),
		stats:     &statsCollector{},
		feed:      &activityFeed{},
		deadlines: &deadlineQueue{},
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, c := range cfg.Catalog {
		crn, err := parse.CRN(c.CRN)
		if err != nil {
			return nil, fmt.Errorf("%w: catalog: %v", ErrValidation, err)
		}
		c.CRN = crn
		e.catalog[crn] = c
	}
	s := cfg.Settings
	e.settings.Store(&s)
	e.locks = &LockManager{window: cfg.LockWindow, newID: e.newID, deadlines: e.deadlines}
	e.matcher = &Matcher{locks: e.locks, log: e.log}
	return e, nil
}

// OfferInput is a student's offer to give up a seat.
type OfferInput struct {
	StudentHash string
	CRN         string
	Reason      string
}

// RequestInput is a student's request to join a course queue. CreditDeficit
// comes from the identity provider and must lie in [0,1].
type RequestInput struct {
	StudentHash   string
	CRN           string
	CreditDeficit float64
}

// OfferReceipt is the result of SubmitOffer. Match is set when the offer was
// locked immediately.
type OfferReceipt struct {
	Offer model.SeatOffer
	Match *model.Match
}

// RequestReceipt is the result of SubmitRequest. QueuePosition is 1-based and
// 0 when the request was locked immediately, in which case Match is set.
type RequestReceipt struct {
	Request        model.SeatRequest
	Match          *model.Match
	QueuePosition  int
	EstWaitMinutes int
}

// SubmitOffer puts a seat up for exchange and tries to match it at once.
func (e *Engine) SubmitOffer(ctx context.Context, in OfferInput) (OfferReceipt, error) {
	if err := ctx.Err(); err != nil {
		return OfferReceipt{}, err
	}
	hash, err := parse.StudentHash(in.StudentHash)
	if err != nil {
		return OfferReceipt{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	crn, err := e.validCRN(in.CRN)
	if err != nil {
		return OfferReceipt{}, err
	}
	reason, err := parse.Reason(in.Reason)
	if err != nil {
		return OfferReceipt{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	limit := e.Settings().OffersPerDay
	day := e.clock.Now()
	if err := e.quota.take(quotaOffers, hash, day, limit); err != nil {
		return OfferReceipt{}, err
	}

	q := e.course(crn)
	q.mu.Lock()
	defer q.mu.Unlock()

	now := e.clock.Now()
	e.settle(q, now)
	if q.liveOfferBy(hash) {
		e.quota.refund(quotaOffers, hash, day, limit)
		return OfferReceipt{}, fmt.Errorf("%w: an offer for CRN %s is already open", ErrDuplicate, crn)
	}

	o := &model.SeatOffer{
		ID:          e.newID(),
		StudentHash: hash,
		CRN:         crn,
		Reason:      reason,
		Status:      model.OfferOpen,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.cfg.OfferTTL),
	}
	q.addOffer(o)
	e.index.add(o.ID, crn, kindOffer, hash)
	e.deadlines.schedule(o.ExpiresAt, crn)
	e.log.Info("offer created", zap.String("crn", crn), zap.String("offer", o.ID), zap.Time("expires_at", o.ExpiresAt))
	e.emit(Event{Kind: EventOfferCreated, At: now, CRN: crn, Offer: snapOffer(o)})

	e.tryMatch(q, now)

	receipt := OfferReceipt{Offer: *o}
	if m := q.lockOf[o.ID]; m != nil {
		receipt.Match = snapMatch(m)
	}
	return receipt, nil
}

// SubmitRequest queues a student for a seat and tries to match at once. The
// student's slot under the active-request cap is reserved before the course
// is touched, so the cap holds across courses served in parallel.
func (e *Engine) SubmitRequest(ctx context.Context, in RequestInput) (RequestReceipt, error) {
	if err := ctx.Err(); err != nil {
		return RequestReceipt{}, err
	}
	hash, err := parse.StudentHash(in.StudentHash)
	if err != nil {
		return RequestReceipt{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	crn, err := e.validCRN(in.CRN)
	if err != nil {
		return RequestReceipt{}, err
	}
	if math.IsNaN(in.CreditDeficit) || in.CreditDeficit < 0 || in.CreditDeficit > 1 {
		return RequestReceipt{}, fmt.Errorf("%w: credit deficit %v outside [0,1]", ErrValidation, in.CreditDeficit)
	}

	s := e.Settings()
	if err := e.ledger.reserve(hash, s.MaxActiveRequests); err != nil {
		return RequestReceipt{}, err
	}
	day := e.clock.Now()
	if err := e.quota.take(quotaRequests, hash, day, s.RequestsPerDay); err != nil {
		e.ledger.release(hash)
		return RequestReceipt{}, err
	}

	q := e.course(crn)
	q.mu.Lock()
	defer q.mu.Unlock()

	now := e.clock.Now()
	e.settle(q, now)
	if q.liveRequestBy(hash) {
		e.quota.refund(quotaRequests, hash, day, s.RequestsPerDay)
		e.ledger.release(hash)
		return RequestReceipt{}, fmt.Errorf("%w: already queued for CRN %s", ErrDuplicate, crn)
	}

	r := &model.SeatRequest{
		ID:            e.newID(),
		StudentHash:   hash,
		CRN:           crn,
		CreditDeficit: in.CreditDeficit,
		Status:        model.RequestQueued,
		CreatedAt:     now,
	}
	q.addRequest(r)
	e.index.add(r.ID, crn, kindRequest, hash)
	e.log.Info("request queued", zap.String("crn", crn), zap.String("request", r.ID))
	e.emit(Event{Kind: EventRequestCreated, At: now, CRN: crn, Request: snapRequest(r)})

	e.tryMatch(q, now)

	view := e.viewRequest(q, r, now)
	return RequestReceipt{
		Request:        view.SeatRequest,
		Match:          snapMatch(q.lockOf[r.ID]),
		QueuePosition:  view.QueuePosition,
		EstWaitMinutes: view.EstWaitMinutes,
	}, nil
}

// Cancel withdraws a QUEUED request owned by studentHash. A request that has
// already been locked cannot be cancelled.
func (e *Engine) Cancel(ctx context.Context, studentHash, requestID string) (model.SeatRequest, error) {
	if err := ctx.Err(); err != nil {
		return model.SeatRequest{}, err
	}
	crn, ok := e.index.lookup(requestID, kindRequest)
	if !ok {
		return model.SeatRequest{}, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}
	q := e.course(crn)
	q.mu.Lock()
	defer q.mu.Unlock()

	now := e.clock.Now()
	e.settle(q, now)
	r := q.requests[requestID]
	if r == nil || r.StudentHash != studentHash {
		return model.SeatRequest{}, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}
	if r.Status != model.RequestQueued {
		return *r, fmt.Errorf("%w: request %s is %s", ErrInvalidState, r.ID, r.Status)
	}

	q.removeRequest(r.ID)
	r.Status = model.RequestCancelled
	q.doneAt[r.ID] = now
	e.ledger.release(r.StudentHash)
	e.log.Info("request cancelled", zap.String("crn", crn), zap.String("request", r.ID))
	e.emit(Event{Kind: EventRequestCancelled, At: now, CRN: crn, Request: snapRequest(r)})
	e.tryMatch(q, now)
	return *r, nil
}

// ConfirmCompletion records that the registrar hand-off of a match happened.
// It fails with ErrInvalidState once the lock window has lapsed.
func (e *Engine) ConfirmCompletion(ctx context.Context, matchID string) (model.Match, error) {
	if err := ctx.Err(); err != nil {
		return model.Match{}, err
	}
	crn, ok := e.index.lookup(matchID, kindMatch)
	if !ok {
		return model.Match{}, fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	q := e.course(crn)
	q.mu.Lock()
	defer q.mu.Unlock()

	now := e.clock.Now()
	e.settle(q, now)
	m := q.matches[matchID]
	if m == nil {
		return model.Match{}, fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	o, r, err := e.locks.confirmCompletion(q, m, now)
	if err != nil {
		if errors.Is(err, ErrInvariant) {
			e.log.Error("completion aborted", zap.String("crn", crn), zap.String("match", m.ID), zap.Error(err))
		}
		return *m, err
	}
	q.doneAt[m.ID] = now
	q.doneAt[o.ID] = now
	q.doneAt[r.ID] = now
	e.ledger.release(r.StudentHash)
	e.log.Info("seat exchange completed", zap.String("crn", crn), zap.String("match", m.ID))
	e.emit(Event{Kind: EventCompleted, At: now, CRN: crn, Offer: snapOffer(o), Request: snapRequest(r), Match: snapMatch(m)})
	return *m, nil
}

// Snapshot is persisted engine state handed to Restore at startup.
type Snapshot struct {
	Offers   []model.SeatOffer
	Requests []model.SeatRequest
	Matches  []model.Match
	Flags    []model.FlaggedAccount
}

// Restore loads non-terminal state saved by a previous run, keeping every
// createdAt so nothing loses its place. It must run before the engine serves
// traffic. Inconsistent state is reported as ErrInvariant.
func (e *Engine) Restore(snap Snapshot) error {
	for i := range snap.Offers {
		o := snap.Offers[i]
		if o.Status.Terminal() {
			continue
		}
		q := e.course(o.CRN)
		q.mu.Lock()
		q.offers[o.ID] = &o
		if o.Status == model.OfferOpen {
			q.addOffer(&o)
		}
		q.mu.Unlock()
		e.index.add(o.ID, o.CRN, kindOffer, o.StudentHash)
		e.deadlines.schedule(o.ExpiresAt, o.CRN)
	}
	for i := range snap.Requests {
		r := snap.Requests[i]
		if r.Status.Terminal() {
			continue
		}
		q := e.course(r.CRN)
		q.mu.Lock()
		q.requests[r.ID] = &r
		if r.Status == model.RequestQueued {
			q.addRequest(&r)
		}
		q.mu.Unlock()
		e.index.add(r.ID, r.CRN, kindRequest, r.StudentHash)
		e.ledger.restore(r.StudentHash)
	}
	for i := range snap.Matches {
		m := snap.Matches[i]
		if m.Status != model.MatchActive {
			continue
		}
		if err := e.restoreMatch(&m); err != nil {
			return err
		}
	}
	e.stats.restoreFlags(snap.Flags)

	now := e.clock.Now()
	for _, q := range e.snapshotCourses() {
		q.mu.Lock()
		err := q.checkLocks()
		if err == nil {
			e.settle(q, now)
			e.tryMatch(q, now)
		}
		q.mu.Unlock()
		if err != nil {
			return err
		}
	}
	e.log.Info("engine state restored",
		zap.Int("offers", len(snap.Offers)),
		zap.Int("requests", len(snap.Requests)),
		zap.Int("matches", len(snap.Matches)))
	return nil
}

func (e *Engine) restoreMatch(m *model.Match) error {
	q := e.course(m.CRN)
	q.mu.Lock()
	defer q.mu.Unlock()
	o, r := q.offers[m.OfferID], q.requests[m.RequestID]
	if o == nil || r == nil || o.Status != model.OfferLocked || r.Status != model.RequestLocked ||
		q.lockOf[o.ID] != nil || q.lockOf[r.ID] != nil {
		return fmt.Errorf("%w: stored match %s does not bind two locked entities", ErrInvariant, m.ID)
	}
	q.matches[m.ID] = m
	q.lockOf[o.ID] = m
	q.lockOf[r.ID] = m
	e.index.add(m.ID, m.CRN, kindMatch, "")
	e.deadlines.schedule(m.LockedUntil, m.CRN)
	return nil
}

// Purge forgets entities that have been terminal for longer than the
// retention period and returns how many were dropped.
func (e *Engine) Purge() int {
	now := e.clock.Now()
	n := 0
	for _, q := range e.snapshotCourses() {
		q.mu.Lock()
		offers, requests, matches := q.purge(now, e.cfg.Retention)
		q.mu.Unlock()
		for _, o := range offers {
			e.index.forget(o.ID, o.StudentHash)
		}
		for _, r := range requests {
			e.index.forget(r.ID, r.StudentHash)
		}
		for _, m := range matches {
			e.index.forget(m.ID, "")
		}
		n += len(offers) + len(requests) + len(matches)
	}
	if n > 0 {
		e.log.Debug("purged terminal entities", zap.Int("count", n))
	}
	return n
}

// sweepCourse applies every lapsed deadline of one course.
func (e *Engine) sweepCourse(crn string) {
	q, ok := e.lookupCourse(crn)
	if !ok {
		return
	}
	q.mu.Lock()
	e.settle(q, e.clock.Now())
	q.mu.Unlock()
}

// settle applies every deadline of q that has passed: lapsed locks are
// released and expired offers retired, then freed items are matched again.
// Every locked operation calls it first, so no caller ever observes state
// past its deadline.
func (e *Engine) settle(q *CourseQueue, now time.Time) {
	released := false
	for _, m := range q.dueMatches(now) {
		o, r, err := e.locks.releaseOnTimeout(q, m, now)
		if err != nil {
			e.log.Error("lock release aborted", zap.String("crn", q.crn), zap.String("match", m.ID), zap.Error(err))
			continue
		}
		released = true
		q.doneAt[m.ID] = now
		e.log.Info("lock timed out",
			zap.String("crn", q.crn),
			zap.String("match", m.ID),
			zap.String("offer_status", string(o.Status)))
		e.emit(Event{Kind: EventReleased, At: now, CRN: q.crn, Offer: snapOffer(o), Request: snapRequest(r), Match: snapMatch(m)})
		if o.Status == model.OfferExpired {
			q.doneAt[o.ID] = now
			e.emit(Event{Kind: EventOfferExpired, At: now, CRN: q.crn, Offer: snapOffer(o)})
		}
		e.recordTimeout(q.crn, o.StudentHash, now)
	}

	for _, o := range q.dueOffers(now) {
		q.removeOffer(o.ID)
		o.Status = model.OfferExpired
		q.doneAt[o.ID] = now
		e.log.Info("offer expired", zap.String("crn", q.crn), zap.String("offer", o.ID))
		e.emit(Event{Kind: EventOfferExpired, At: now, CRN: q.crn, Offer: snapOffer(o)})
	}

	if released {
		e.tryMatch(q, now)
	}
}

func (e *Engine) tryMatch(q *CourseQueue, now time.Time) int {
	made := e.matcher.tryMatch(q, now, e.Settings(), e.cfg.MaxWaitHorizon)
	for _, m := range made {
		o, r := q.offers[m.OfferID], q.requests[m.RequestID]
		e.index.add(m.ID, q.crn, kindMatch, "")
		e.log.Info("seat locked",
			zap.String("crn", q.crn),
			zap.String("match", m.ID),
			zap.String("offer", o.ID),
			zap.String("request", r.ID),
			zap.Time("locked_until", m.LockedUntil))
		e.emit(Event{Kind: EventLocked, At: now, CRN: q.crn, Offer: snapOffer(o), Request: snapRequest(r), Match: snapMatch(m)})
	}
	return len(made)
}

func (e *Engine) recordTimeout(crn, studentHash string, now time.Time) {
	n, flagged := e.abuse.recordTimeout(studentHash, now)
	if !flagged {
		return
	}
	f := &model.FlaggedAccount{
		ID:          e.newID(),
		StudentHash: studentHash,
		Reason:      fmt.Sprintf("%d unmatched drops/day", n),
		Status:      model.FlagPending,
		CreatedAt:   now,
	}
	e.log.Warn("account flagged", zap.String("student", studentHash), zap.Int("timeouts", n))
	e.emit(Event{Kind: EventAccountFlagged, At: now, CRN: crn, Flag: f})
}

func (e *Engine) emit(ev Event) {
	e.stats.observe(ev)
	e.feed.observe(ev)
	e.listener.Handle(ev)
}

func (e *Engine) validCRN(raw string) (string, error) {
	crn, err := parse.CRN(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if len(e.catalog) > 0 {
		if _, ok := e.catalog[crn]; !ok {
			return "", fmt.Errorf("%w: unknown CRN %s", ErrValidation, crn)
		}
	}
	return crn, nil
}

// course returns the queue for crn, creating it on first use.
func (e *Engine) course(crn string) *CourseQueue {
	e.mu.RLock()
	q, ok := e.courses[crn]
	e.mu.RUnlock()
	if ok {
		return q
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if q, ok = e.courses[crn]; !ok {
		q = newCourseQueue(crn)
		e.courses[crn] = q
	}
	return q
}

func (e *Engine) lookupCourse(crn string) (*CourseQueue, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	q, ok := e.courses[crn]
	return q, ok
}

func (e *Engine) snapshotCourses() []*CourseQueue {
	e.mu.RLock()
	defer e.mu.RUnlock()
	qs := make([]*CourseQueue, 0, len(e.courses))
	for _, q := range e.courses {
		qs = append(qs, q)
	}
	return qs
}
