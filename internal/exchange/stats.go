package exchange

import (
	"sync"
	"time"

	"seat-exchange-backend/internal/model"
)

const activityFeedSize = 50

// Stats is the engine-wide summary shown to admins.
type Stats struct {
	SeatsOffered      int     `json:"seatsOffered"`
	StudentsWaiting   int     `json:"studentsWaiting"`
	ActiveLocks       int     `json:"activeLocks"`
	MatchesMade       int     `json:"matchesMade"`
	SuccessfulMatches int     `json:"successfulMatches"`
	TimedOutMatches   int     `json:"timedOutMatches"`
	ExpiredOffers     int     `json:"expiredOffers"`
	AvgMatchMinutes   float64 `json:"avgMatchMinutes"`
	FlaggedAccounts   int     `json:"flaggedAccounts"`
	TotalOffers       int     `json:"totalOffers"`
	TotalRequests     int     `json:"totalRequests"`
}

// statsCollector keeps the cumulative counters. Gauges are read from the
// course queues when Stats is called.
type statsCollector struct {
	mu        sync.Mutex
	offers    int
	requests  int
	matches   int
	completed int
	timedOut  int
	expired   int
	waitSum   time.Duration
	flags     []model.FlaggedAccount
}

func (s *statsCollector) observe(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Kind {
	case EventOfferCreated:
		s.offers++
	case EventRequestCreated:
		s.requests++
	case EventLocked:
		s.matches++
		if ev.Request != nil && ev.Match != nil {
			s.waitSum += ev.Match.CreatedAt.Sub(ev.Request.CreatedAt)
		}
	case EventCompleted:
		s.completed++
	case EventReleased:
		s.timedOut++
	case EventOfferExpired:
		s.expired++
	case EventAccountFlagged:
		if ev.Flag != nil {
			s.flags = append(s.flags, *ev.Flag)
		}
	}
}

// avgWait is the mean time from request creation to its match, or fallback
// when nothing has been matched yet.
func (s *statsCollector) avgWait(fallback time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matches == 0 {
		return fallback
	}
	return s.waitSum / time.Duration(s.matches)
}

func (s *statsCollector) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		MatchesMade:       s.matches,
		SuccessfulMatches: s.completed,
		TimedOutMatches:   s.timedOut,
		ExpiredOffers:     s.expired,
		FlaggedAccounts:   len(s.flags),
		TotalOffers:       s.offers,
		TotalRequests:     s.requests,
	}
	if s.matches > 0 {
		st.AvgMatchMinutes = (s.waitSum / time.Duration(s.matches)).Minutes()
	}
	return st
}

func (s *statsCollector) flagList() []model.FlaggedAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.FlaggedAccount, len(s.flags))
	copy(out, s.flags)
	return out
}

func (s *statsCollector) restoreFlags(flags []model.FlaggedAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = append(s.flags, flags...)
}

// Activity is one entry of the admin activity feed.
type Activity struct {
	Kind      EventKind `json:"type"`
	CRN       string    `json:"crn,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// activityFeed is a fixed-size ring of the most recent events.
type activityFeed struct {
	mu    sync.Mutex
	ring  [activityFeedSize]Activity
	next  int
	count int
}

func (f *activityFeed) observe(ev Event) {
	msg := describe(ev)
	if msg == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ring[f.next] = Activity{Kind: ev.Kind, CRN: ev.CRN, Message: msg, Timestamp: ev.At}
	f.next = (f.next + 1) % activityFeedSize
	if f.count < activityFeedSize {
		f.count++
	}
}

// recent returns up to limit entries, newest first.
func (f *activityFeed) recent(limit int) []Activity {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 || limit > f.count {
		limit = f.count
	}
	out := make([]Activity, 0, limit)
	for i := 1; i <= limit; i++ {
		out = append(out, f.ring[(f.next-i+activityFeedSize)%activityFeedSize])
	}
	return out
}

func describe(ev Event) string {
	switch ev.Kind {
	case EventOfferCreated:
		return "New seat offered for CRN " + ev.CRN
	case EventOfferExpired:
		return "Offer expired for CRN " + ev.CRN
	case EventLocked:
		return "Seat matched for CRN " + ev.CRN
	case EventCompleted:
		return "Seat exchange completed for CRN " + ev.CRN
	case EventReleased:
		return "Lock timed out for CRN " + ev.CRN + "; seat returned to the pool"
	case EventAccountFlagged:
		if ev.Flag != nil {
			return "Account flagged: " + ev.Flag.Reason
		}
		return "Account flagged"
	}
	return ""
}
