package exchange

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"seat-exchange-backend/internal/model"
)

// OfferView is an offer as shown to its owner. LockedUntil and MatchID are
// set while the offer is LOCKED.
type OfferView struct {
	model.SeatOffer
	MatchID     string     `json:"matchId,omitempty"`
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
}

// RequestView is a request as shown to its owner, with its score and queue
// position computed under the current fairness weight.
type RequestView struct {
	model.SeatRequest
	QueuePosition  int        `json:"queuePosition"`
	EstWaitMinutes int        `json:"estWaitMinutes"`
	MatchID        string     `json:"matchId,omitempty"`
	LockedUntil    *time.Time `json:"lockedUntil,omitempty"`
}

// Holdings is everything a student currently has in the engine.
type Holdings struct {
	Offers         []OfferView   `json:"offers"`
	Requests       []RequestView `json:"requests"`
	ActiveRequests int           `json:"activeRequests"`
	MaxRequests    int           `json:"maxRequests"`
}

// Pressure grades how contested a course is.
type Pressure string

const (
	PressureLow    Pressure = "low"
	PressureMedium Pressure = "medium"
	PressureHigh   Pressure = "high"
)

// Demand is the aggregate supply and demand of one course.
type Demand struct {
	CRN      string   `json:"crn"`
	Title    string   `json:"title,omitempty"`
	Capacity int      `json:"capacity,omitempty"`
	Enrolled int      `json:"enrolled,omitempty"`
	Offered  int      `json:"offered"`
	Waiting  int      `json:"waiting"`
	Locked   int      `json:"locked"`
	Pressure Pressure `json:"pressure"`
}

// PressureOf grades waiting requests against offered seats.
func PressureOf(offered, waiting int) Pressure {
	if waiting <= offered {
		return PressureLow
	}
	ratio := float64(waiting) / float64(offered+1)
	switch {
	case ratio >= 5:
		return PressureHigh
	case ratio >= 2:
		return PressureMedium
	default:
		return PressureLow
	}
}

// Offer returns an offer owned by studentHash.
func (e *Engine) Offer(ctx context.Context, studentHash, id string) (OfferView, error) {
	if err := ctx.Err(); err != nil {
		return OfferView{}, err
	}
	crn, ok := e.index.lookup(id, kindOffer)
	if !ok {
		return OfferView{}, fmt.Errorf("%w: offer %s", ErrNotFound, id)
	}
	q := e.course(crn)
	q.mu.Lock()
	defer q.mu.Unlock()
	e.settle(q, e.clock.Now())

	o := q.offers[id]
	if o == nil || o.StudentHash != studentHash {
		return OfferView{}, fmt.Errorf("%w: offer %s", ErrNotFound, id)
	}
	return viewOffer(q, o), nil
}

// Request returns a request owned by studentHash.
func (e *Engine) Request(ctx context.Context, studentHash, id string) (RequestView, error) {
	if err := ctx.Err(); err != nil {
		return RequestView{}, err
	}
	crn, ok := e.index.lookup(id, kindRequest)
	if !ok {
		return RequestView{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	q := e.course(crn)
	q.mu.Lock()
	defer q.mu.Unlock()
	now := e.clock.Now()
	e.settle(q, now)

	r := q.requests[id]
	if r == nil || r.StudentHash != studentHash {
		return RequestView{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	return e.viewRequest(q, r, now), nil
}

// Match returns a match by id.
func (e *Engine) Match(ctx context.Context, id string) (model.Match, error) {
	if err := ctx.Err(); err != nil {
		return model.Match{}, err
	}
	crn, ok := e.index.lookup(id, kindMatch)
	if !ok {
		return model.Match{}, fmt.Errorf("%w: match %s", ErrNotFound, id)
	}
	q := e.course(crn)
	q.mu.Lock()
	defer q.mu.Unlock()
	e.settle(q, e.clock.Now())

	m := q.matches[id]
	if m == nil {
		return model.Match{}, fmt.Errorf("%w: match %s", ErrNotFound, id)
	}
	return *m, nil
}

// Holdings lists the offers and requests a student still has in the engine,
// oldest first.
func (e *Engine) Holdings(ctx context.Context, studentHash string) (Holdings, error) {
	if err := ctx.Err(); err != nil {
		return Holdings{}, err
	}
	byCRN := make(map[string][]string)
	for _, id := range e.index.owned(studentHash) {
		if crn, ok := e.index.lookup(id, kindOffer); ok {
			byCRN[crn] = append(byCRN[crn], id)
		} else if crn, ok := e.index.lookup(id, kindRequest); ok {
			byCRN[crn] = append(byCRN[crn], id)
		}
	}

	h := Holdings{
		Offers:         []OfferView{},
		Requests:       []RequestView{},
		ActiveRequests: e.ledger.count(studentHash),
		MaxRequests:    e.Settings().MaxActiveRequests,
	}
	for crn, ids := range byCRN {
		q := e.course(crn)
		q.mu.Lock()
		now := e.clock.Now()
		e.settle(q, now)
		for _, id := range ids {
			if o := q.offers[id]; o != nil && o.StudentHash == studentHash {
				h.Offers = append(h.Offers, viewOffer(q, o))
			} else if r := q.requests[id]; r != nil && r.StudentHash == studentHash {
				h.Requests = append(h.Requests, e.viewRequest(q, r, now))
			}
		}
		q.mu.Unlock()
	}
	sort.Slice(h.Offers, func(i, j int) bool { return offerBefore(&h.Offers[i].SeatOffer, &h.Offers[j].SeatOffer) })
	sort.Slice(h.Requests, func(i, j int) bool {
		a, b := h.Requests[i], h.Requests[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return h, nil
}

// Demand reports supply and demand for a course without changing anything.
// Deadlines that have passed but not been swept yet are projected: an
// expired offer is not counted, a lapsed lock counts as released.
func (e *Engine) Demand(ctx context.Context, rawCRN string) (Demand, error) {
	if err := ctx.Err(); err != nil {
		return Demand{}, err
	}
	crn, err := e.validCRN(rawCRN)
	if err != nil {
		return Demand{}, err
	}
	d := Demand{CRN: crn}
	if c, ok := e.catalog[crn]; ok {
		d.Title, d.Capacity, d.Enrolled = c.Title, c.Capacity, c.Enrolled
	}

	if q, ok := e.lookupCourse(crn); ok {
		now := e.clock.Now()
		q.mu.Lock()
		d.Offered = q.openOffers(now)
		d.Waiting = len(q.queued)
		for _, m := range q.matches {
			if m.Status != model.MatchActive {
				continue
			}
			if now.Before(m.LockedUntil) {
				d.Locked++
				continue
			}
			d.Waiting++
			if o := q.offers[m.OfferID]; o != nil && now.Before(o.ExpiresAt) {
				d.Offered++
			}
		}
		q.mu.Unlock()
	}
	d.Pressure = PressureOf(d.Offered, d.Waiting)
	return d, nil
}

// Courses returns the catalog ordered by CRN.
func (e *Engine) Courses() []model.Course {
	out := make([]model.Course, 0, len(e.catalog))
	for _, c := range e.catalog {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CRN < out[j].CRN })
	return out
}

// Stats summarizes the whole engine for admins.
func (e *Engine) Stats() Stats {
	st := e.stats.snapshot()
	now := e.clock.Now()
	for _, q := range e.snapshotCourses() {
		q.mu.Lock()
		st.SeatsOffered += q.openOffers(now)
		st.StudentsWaiting += len(q.queued)
		st.ActiveLocks += q.activeMatches()
		q.mu.Unlock()
	}
	return st
}

// Flags returns every flagged-account record, oldest first.
func (e *Engine) Flags() []model.FlaggedAccount {
	return e.stats.flagList()
}

// Activity returns up to limit recent events, newest first.
func (e *Engine) Activity(limit int) []Activity {
	return e.feed.recent(limit)
}

// Settings returns the admin settings in effect.
func (e *Engine) Settings() Settings {
	return *e.settings.Load()
}

// UpdateSettings applies a partial update atomically. Scores computed after
// it returns use the new weight; requests already past the active cap keep
// their slots.
func (e *Engine) UpdateSettings(p SettingsPatch) (Settings, error) {
	for {
		cur := e.settings.Load()
		next := cur.apply(p)
		if err := next.Validate(); err != nil {
			return *cur, err
		}
		if e.settings.CompareAndSwap(cur, &next) {
			e.log.Info("settings updated",
				zap.Float64("fairness_weight", next.FairnessWeight),
				zap.Int("max_active_requests", next.MaxActiveRequests),
				zap.Int("offers_per_day", next.OffersPerDay),
				zap.Int("requests_per_day", next.RequestsPerDay))
			return next, nil
		}
	}
}

func viewOffer(q *CourseQueue, o *model.SeatOffer) OfferView {
	v := OfferView{SeatOffer: *o}
	if m := q.lockOf[o.ID]; m != nil {
		until := m.LockedUntil
		v.MatchID, v.LockedUntil = m.ID, &until
	}
	return v
}

func (e *Engine) viewRequest(q *CourseQueue, r *model.SeatRequest, now time.Time) RequestView {
	v := RequestView{SeatRequest: *r}
	if r.Status == model.RequestQueued {
		s := e.Settings()
		v.QueueScore = Score(r, now, s.FairnessWeight, e.cfg.MaxWaitHorizon)
		v.QueuePosition = q.position(r, now, s.FairnessWeight, e.cfg.MaxWaitHorizon)
		v.EstWaitMinutes = e.estWait(q, v.QueuePosition, now)
	}
	if m := q.lockOf[r.ID]; m != nil {
		until := m.LockedUntil
		v.MatchID, v.LockedUntil = m.ID, &until
	}
	return v
}

// estWait is zero while enough seats are open for the position, and
// otherwise the positions still uncovered times the average time a request
// has waited for its match.
func (e *Engine) estWait(q *CourseQueue, position int, now time.Time) int {
	offered := q.openOffers(now)
	if position <= offered {
		return 0
	}
	per := e.stats.avgWait(e.cfg.DefaultWaitPerPosition)
	return int(math.Ceil((time.Duration(position-offered) * per).Minutes()))
}
