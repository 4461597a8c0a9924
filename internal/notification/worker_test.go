package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"seat-exchange-backend/internal/exchange"
	"seat-exchange-backend/internal/model"
	"seat-exchange-backend/internal/store"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

var lockedUntil = time.Date(2025, time.January, 6, 9, 15, 0, 0, time.UTC)

func matchEvent(kind exchange.EventKind, offerStatus model.OfferStatus) exchange.Event {
	return exchange.Event{
		Kind:    kind,
		CRN:     "12345",
		Offer:   &model.SeatOffer{ID: "offer-1", StudentHash: "alice", CRN: "12345", Status: offerStatus},
		Request: &model.SeatRequest{ID: "request-1", StudentHash: "bob", CRN: "12345"},
		Match:   &model.Match{ID: "match-1", OfferID: "offer-1", RequestID: "request-1", CRN: "12345", LockedUntil: lockedUntil},
	}
}

func subscriptionRows(hash, endpoint string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"endpoint", "student_hash", "p256dh", "auth", "created_at"}).
		AddRow(endpoint, hash, "test_p256dh", "test_auth", time.Now())
}

func created() *http.Response {
	return &http.Response{StatusCode: http.StatusCreated, Body: io.NopCloser(bytes.NewBufferString(""))}
}

func TestWorkerPool_HandleFiltersAndNeverBlocks(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(1, 1, store.NewGormStore(db), &webpush.Options{}, zaptest.NewLogger(t))

	wp.Handle(exchange.Event{Kind: exchange.EventOfferCreated, CRN: "12345"})
	assert.Len(t, wp.Jobs(), 0, "offer creation is not pushed")

	wp.Handle(matchEvent(exchange.EventLocked, model.OfferLocked))
	wp.Handle(matchEvent(exchange.EventReleased, model.OfferOpen))
	assert.Len(t, wp.Jobs(), 1, "a full queue drops instead of blocking")

	select {
	case job := <-wp.Jobs():
		assert.Equal(t, exchange.EventLocked, job.Kind)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestNotices(t *testing.T) {
	locked := notices(matchEvent(exchange.EventLocked, model.OfferLocked))
	require.Len(t, locked, 2)
	assert.Equal(t, "alice", locked[0].studentHash)
	assert.Contains(t, locked[0].msg.Body, "Drop CRN 12345")
	assert.Contains(t, locked[0].msg.Body, "09:15 UTC")
	assert.Equal(t, "bob", locked[1].studentHash)
	assert.Equal(t, "2025-01-06T09:15:00Z", locked[1].msg.LockedUntil)

	released := notices(matchEvent(exchange.EventReleased, model.OfferExpired))
	require.Len(t, released, 2)
	assert.Contains(t, released[0].msg.Body, "expired")
	assert.Contains(t, released[1].msg.Body, "kept your place")

	assert.Nil(t, notices(exchange.Event{Kind: exchange.EventCompleted}))
}

func TestWorkerPool_WorkerLogic(t *testing.T) {
	gormDB, mock := newTestDB(t)
	wp := NewWorkerPool(1, 8, store.NewGormStore(gormDB), &webpush.Options{}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	subsQuery := regexp.QuoteMeta(`SELECT * FROM "push_subscriptions" WHERE student_hash = $1`)

	t.Run("notifies both students of a lock", func(t *testing.T) {
		var mu sync.Mutex
		var wg sync.WaitGroup
		wg.Add(2)
		got := map[string]Message{}

		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				var msg Message
				assert.NoError(t, json.Unmarshal(payload, &msg))
				mu.Lock()
				got[sub.Endpoint] = msg
				mu.Unlock()
				wg.Done()
				return created(), nil
			},
		}

		mock.ExpectQuery(subsQuery).WithArgs("alice").
			WillReturnRows(subscriptionRows("alice", "https://example.com/alice"))
		mock.ExpectQuery(subsQuery).WithArgs("bob").
			WillReturnRows(subscriptionRows("bob", "https://example.com/bob"))

		wp.Handle(matchEvent(exchange.EventLocked, model.OfferLocked))
		wg.Wait()

		assert.Equal(t, "Your seat has a taker", got["https://example.com/alice"].Title)
		assert.Equal(t, "A seat is being held for you", got["https://example.com/bob"].Title)
		assert.Equal(t, "match-1", got["https://example.com/bob"].MatchID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deletes expired subscription", func(t *testing.T) {
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				return &http.Response{
					StatusCode: http.StatusGone,
					Body:       io.NopCloser(bytes.NewBufferString("")),
				}, nil
			},
		}

		mock.ExpectQuery(subsQuery).WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "student_hash", "p256dh", "auth", "created_at"}))
		mock.ExpectQuery(subsQuery).WithArgs("bob").
			WillReturnRows(subscriptionRows("bob", "https://example.com/expired"))
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "push_subscriptions" WHERE endpoint = $1 AND student_hash = $2`)).
			WithArgs("https://example.com/expired", "bob").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit().WillReturnError(nil)

		wp.Handle(matchEvent(exchange.EventReleased, model.OfferOpen))

		assert.Eventually(t, func() bool {
			return mock.ExpectationsWereMet() == nil
		}, 2*time.Second, 10*time.Millisecond, "expired subscription was not deleted")
	})
}
