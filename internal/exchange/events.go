package exchange

import (
	"time"

	"seat-exchange-backend/internal/model"
)

// EventKind names an engine state transition.
type EventKind string

const (
	EventOfferCreated     EventKind = "offer.created"
	EventOfferExpired     EventKind = "offer.expired"
	EventRequestCreated   EventKind = "request.created"
	EventRequestCancelled EventKind = "request.cancelled"
	EventLocked           EventKind = "match.locked"
	EventCompleted        EventKind = "match.completed"
	EventReleased         EventKind = "match.released"
	EventAccountFlagged   EventKind = "account.flagged"
)

// Event carries snapshots of every entity touched by one transition. The
// snapshots are copies; listeners may keep them.
type Event struct {
	Kind    EventKind
	At      time.Time
	CRN     string
	Offer   *model.SeatOffer
	Request *model.SeatRequest
	Match   *model.Match
	Flag    *model.FlaggedAccount
}

// Listener receives engine events in per-course order. Handle runs while the
// course is serialized and must not block.
type Listener interface {
	Handle(ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev Event)

// Handle calls f(ev).
func (f ListenerFunc) Handle(ev Event) { f(ev) }

// Fanout delivers each event to every listener in order.
type Fanout []Listener

// Handle forwards ev to each listener.
func (f Fanout) Handle(ev Event) {
	for _, l := range f {
		l.Handle(ev)
	}
}

func snapOffer(o *model.SeatOffer) *model.SeatOffer {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

func snapRequest(r *model.SeatRequest) *model.SeatRequest {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func snapMatch(m *model.Match) *model.Match {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}
