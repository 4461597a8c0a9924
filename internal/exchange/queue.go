package exchange

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"seat-exchange-backend/internal/model"
)

// CourseQueue holds every offer, request and match of one CRN. All access
// goes through mu: operations on the same course never interleave, while
// different courses proceed in parallel.
//
// Methods with a lowercase name assume the caller holds mu.
type CourseQueue struct {
	crn string
	mu  sync.Mutex

	// Everything the engine still retains for this course, any status.
	offers   map[string]*model.SeatOffer
	requests map[string]*model.SeatRequest
	matches  map[string]*model.Match

	// open holds OPEN offers ordered by (CreatedAt, ID).
	open []*model.SeatOffer
	// queued holds QUEUED requests. Their order depends on the fairness
	// weight at read time, so it is computed on demand.
	queued map[string]*model.SeatRequest

	// lockOf maps an offer or request id to its active match.
	lockOf map[string]*model.Match
	// timedOut remembers offer/request pairs whose lock lapsed; they are not
	// paired again.
	timedOut map[pairKey]struct{}
	// doneAt records when a retained entity became terminal.
	doneAt map[string]time.Time
}

type pairKey struct {
	offerID   string
	requestID string
}

func newCourseQueue(crn string) *CourseQueue {
	return &CourseQueue{
		crn:      crn,
		offers:   make(map[string]*model.SeatOffer),
		requests: make(map[string]*model.SeatRequest),
		matches:  make(map[string]*model.Match),
		queued:   make(map[string]*model.SeatRequest),
		lockOf:   make(map[string]*model.Match),
		timedOut: make(map[pairKey]struct{}),
		doneAt:   make(map[string]time.Time),
	}
}

// CRN returns the course this queue serves.
func (q *CourseQueue) CRN() string { return q.crn }

func offerBefore(a, b *model.SeatOffer) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// addOffer inserts an OPEN offer at its seniority position. Re-adding an offer
// after a lock release puts it back where its createdAt says it belongs.
func (q *CourseQueue) addOffer(o *model.SeatOffer) {
	q.offers[o.ID] = o
	i := sort.Search(len(q.open), func(i int) bool { return offerBefore(o, q.open[i]) })
	if i > 0 && q.open[i-1].ID == o.ID {
		return
	}
	q.open = append(q.open, nil)
	copy(q.open[i+1:], q.open[i:])
	q.open[i] = o
}

// removeOffer drops an offer from the open set. It stays retained in offers.
func (q *CourseQueue) removeOffer(id string) bool {
	for i, o := range q.open {
		if o.ID == id {
			q.open = append(q.open[:i], q.open[i+1:]...)
			return true
		}
	}
	return false
}

// addRequest makes a QUEUED request eligible for matching.
func (q *CourseQueue) addRequest(r *model.SeatRequest) {
	q.requests[r.ID] = r
	q.queued[r.ID] = r
}

// removeRequest drops a request from the eligible set. It stays retained.
func (q *CourseQueue) removeRequest(id string) bool {
	if _, ok := q.queued[id]; !ok {
		return false
	}
	delete(q.queued, id)
	return true
}

// peekBestPair returns the oldest OPEN offer together with the best-scoring
// QUEUED request that is neither the offering student nor a pair whose lock
// already lapsed. When the oldest offer has no eligible counterpart, the next
// offer is tried.
func (q *CourseQueue) peekBestPair(now time.Time, weight float64, horizon time.Duration) (*model.SeatOffer, *model.SeatRequest, bool) {
	if len(q.open) == 0 || len(q.queued) == 0 {
		return nil, nil, false
	}
	for _, o := range q.open {
		if !now.Before(o.ExpiresAt) {
			continue
		}
		var best *model.SeatRequest
		var bestScore float64
		for _, r := range q.queued {
			if r.StudentHash == o.StudentHash {
				continue
			}
			if _, lapsed := q.timedOut[pairKey{o.ID, r.ID}]; lapsed {
				continue
			}
			s := Score(r, now, weight, horizon)
			if best == nil || ranksAbove(r, s, best, bestScore) {
				best, bestScore = r, s
			}
		}
		if best != nil {
			return o, best, true
		}
	}
	return nil, nil, false
}

// position is the 1-based rank of a QUEUED request under the current weight,
// or 0 when it is not queued.
func (q *CourseQueue) position(r *model.SeatRequest, now time.Time, weight float64, horizon time.Duration) int {
	if _, ok := q.queued[r.ID]; !ok {
		return 0
	}
	own := Score(r, now, weight, horizon)
	pos := 1
	for _, other := range q.queued {
		if other.ID == r.ID {
			continue
		}
		if ranksAbove(other, Score(other, now, weight, horizon), r, own) {
			pos++
		}
	}
	return pos
}

// liveOfferBy reports whether the student has a non-terminal offer here.
func (q *CourseQueue) liveOfferBy(studentHash string) bool {
	for _, o := range q.offers {
		if o.StudentHash == studentHash && !o.Status.Terminal() {
			return true
		}
	}
	return false
}

// liveRequestBy reports whether the student has a non-terminal request here.
func (q *CourseQueue) liveRequestBy(studentHash string) bool {
	for _, r := range q.requests {
		if r.StudentHash == studentHash && !r.Status.Terminal() {
			return true
		}
	}
	return false
}

// openOffers counts OPEN offers still inside their TTL.
func (q *CourseQueue) openOffers(now time.Time) int {
	n := 0
	for _, o := range q.open {
		if now.Before(o.ExpiresAt) {
			n++
		}
	}
	return n
}

func (q *CourseQueue) activeMatches() int {
	n := 0
	for _, m := range q.matches {
		if m.Status == model.MatchActive {
			n++
		}
	}
	return n
}

// checkLocks verifies that every LOCKED offer and request is held by an
// active match.
func (q *CourseQueue) checkLocks() error {
	for _, o := range q.offers {
		if o.Status == model.OfferLocked && q.lockOf[o.ID] == nil {
			return fmt.Errorf("%w: offer %s is LOCKED without a match", ErrInvariant, o.ID)
		}
	}
	for _, r := range q.requests {
		if r.Status == model.RequestLocked && q.lockOf[r.ID] == nil {
			return fmt.Errorf("%w: request %s is LOCKED without a match", ErrInvariant, r.ID)
		}
	}
	return nil
}

// dueOffers lists OPEN offers whose TTL has run out.
func (q *CourseQueue) dueOffers(now time.Time) []*model.SeatOffer {
	var due []*model.SeatOffer
	for _, o := range q.open {
		if !now.Before(o.ExpiresAt) {
			due = append(due, o)
		}
	}
	return due
}

// dueMatches lists active matches whose lock window has passed, oldest
// deadline first.
func (q *CourseQueue) dueMatches(now time.Time) []*model.Match {
	var due []*model.Match
	for _, m := range q.matches {
		if m.Status == model.MatchActive && !now.Before(m.LockedUntil) {
			due = append(due, m)
		}
	}
	slices.SortFunc(due, func(a, b *model.Match) int {
		if c := a.LockedUntil.Compare(b.LockedUntil); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return due
}

// purge drops entities that have been terminal for at least retention and
// returns them so the caller can update its indexes.
func (q *CourseQueue) purge(now time.Time, retention time.Duration) ([]*model.SeatOffer, []*model.SeatRequest, []*model.Match) {
	var (
		offers   []*model.SeatOffer
		requests []*model.SeatRequest
		matches  []*model.Match
	)
	for id, at := range q.doneAt {
		if now.Sub(at) < retention {
			continue
		}
		delete(q.doneAt, id)
		if o, ok := q.offers[id]; ok {
			delete(q.offers, id)
			offers = append(offers, o)
		} else if r, ok := q.requests[id]; ok {
			delete(q.requests, id)
			requests = append(requests, r)
		} else if m, ok := q.matches[id]; ok {
			delete(q.matches, id)
			matches = append(matches, m)
		}
	}
	for pair := range q.timedOut {
		o, r := q.offers[pair.offerID], q.requests[pair.requestID]
		if o == nil || r == nil || o.Status.Terminal() || r.Status.Terminal() {
			delete(q.timedOut, pair)
		}
	}
	return offers, requests, matches
}
