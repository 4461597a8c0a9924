package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"seat-exchange-backend/internal/exchange"
	"seat-exchange-backend/internal/model"
	"seat-exchange-backend/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Message is the JSON payload delivered to the browser.
type Message struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	CRN         string `json:"crn"`
	MatchID     string `json:"matchId,omitempty"`
	LockedUntil string `json:"lockedUntil,omitempty"`
}

type notice struct {
	studentHash string
	msg         Message
}

// WorkerPool delivers push notifications for engine events. Handle is called
// by the engine and never blocks; when the queue is full the event is dropped.
type WorkerPool struct {
	size    int
	jobs    chan exchange.Event
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
	log     *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size, buffer int, s store.Store, webpushOptions *webpush.Options, log *zap.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if buffer < size {
		buffer = size
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan exchange.Event, buffer),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
		log:     log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("push worker started", zap.Int("worker", id))
	for {
		select {
		case ev := <-wp.jobs:
			wp.notify(ctx, ev)
		case <-ctx.Done():
			wp.log.Debug("push worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Handle queues events students are told about: a new lock and a lapsed one.
func (wp *WorkerPool) Handle(ev exchange.Event) {
	if ev.Kind != exchange.EventLocked && ev.Kind != exchange.EventReleased {
		return
	}
	select {
	case wp.jobs <- ev:
	default:
		wp.log.Warn("push queue full; notification dropped",
			zap.String("kind", string(ev.Kind)),
			zap.String("crn", ev.CRN))
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan exchange.Event {
	return wp.jobs
}

func (wp *WorkerPool) notify(ctx context.Context, ev exchange.Event) {
	for _, n := range notices(ev) {
		subs, err := wp.store.Subscriptions(ctx, n.studentHash)
		if err != nil {
			wp.log.Error("failed to load subscriptions", zap.String("student", n.studentHash), zap.Error(err))
			continue
		}
		if len(subs) == 0 {
			continue
		}
		payload, err := json.Marshal(n.msg)
		if err != nil {
			wp.log.Error("failed to encode notification", zap.Error(err))
			continue
		}
		for _, sub := range subs {
			wp.sendNotification(ctx, sub, payload)
		}
	}
}

// notices builds the messages for both sides of a lock event.
func notices(ev exchange.Event) []notice {
	if ev.Offer == nil || ev.Request == nil || ev.Match == nil {
		return nil
	}
	base := Message{CRN: ev.CRN, MatchID: ev.Match.ID}
	until := ev.Match.LockedUntil.UTC().Format("15:04 MST")

	switch ev.Kind {
	case exchange.EventLocked:
		offerer, requester := base, base
		offerer.LockedUntil = ev.Match.LockedUntil.UTC().Format("2006-01-02T15:04:05Z07:00")
		requester.LockedUntil = offerer.LockedUntil
		offerer.Title = "Your seat has a taker"
		offerer.Body = fmt.Sprintf("Drop CRN %s in the registrar system before %s.", ev.CRN, until)
		requester.Title = "A seat is being held for you"
		requester.Body = fmt.Sprintf("Register for CRN %s as soon as it opens; the hold ends at %s.", ev.CRN, until)
		return []notice{
			{studentHash: ev.Offer.StudentHash, msg: offerer},
			{studentHash: ev.Request.StudentHash, msg: requester},
		}
	case exchange.EventReleased:
		offerer, requester := base, base
		offerer.Title = "Seat hand-off timed out"
		if ev.Offer.Status == model.OfferExpired {
			offerer.Body = fmt.Sprintf("Your offer for CRN %s has expired.", ev.CRN)
		} else {
			offerer.Body = fmt.Sprintf("Your offer for CRN %s is open again.", ev.CRN)
		}
		requester.Title = "Back in the queue"
		requester.Body = fmt.Sprintf("The hand-off for CRN %s timed out. You kept your place in the queue.", ev.CRN)
		return []notice{
			{studentHash: ev.Offer.StudentHash, msg: offerer},
			{studentHash: ev.Request.StudentHash, msg: requester},
		}
	}
	return nil
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn("failed to send notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		wp.log.Info("subscription expired; deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.store.DeleteSubscription(ctx, sub.StudentHash, sub.Endpoint); err != nil {
			wp.log.Warn("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
