package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"seat-exchange-backend/internal/exchange"
	"seat-exchange-backend/internal/model"
)

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

var now = time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)

func lockedEvent() exchange.Event {
	return exchange.Event{
		Kind: exchange.EventLocked,
		At:   now,
		CRN:  "12345",
		Offer: &model.SeatOffer{
			ID: "offer-1", StudentHash: "alice", CRN: "12345", Status: model.OfferLocked,
			CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(23 * time.Hour),
		},
		Request: &model.SeatRequest{
			ID: "request-1", StudentHash: "bob", CRN: "12345", Status: model.RequestLocked,
			CreatedAt: now.Add(-time.Minute),
		},
		Match: &model.Match{
			ID: "match-1", OfferID: "offer-1", RequestID: "request-1", CRN: "12345",
			Status: model.MatchActive, LockedUntil: now.Add(15 * time.Minute), CreatedAt: now,
		},
	}
}

func TestGormStore_SaveEvent(t *testing.T) {
	testCases := []struct {
		name             string
		event            exchange.Event
		mockExpectations func(mock sqlmock.Sqlmock)
		expectedErr      bool
	}{
		{
			name:  "Lock writes both sides and the match in one transaction",
			event: lockedEvent(),
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "seat_offers"`)).
					WithArgs("offer-1", "alice", "12345", "", model.OfferLocked, Any{}, Any{}, nil).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "seat_requests"`)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "matches"`)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "Offer created writes only the offer",
			event: exchange.Event{
				Kind:  exchange.EventOfferCreated,
				CRN:   "12345",
				Offer: lockedEvent().Offer,
			},
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT ("id") DO UPDATE SET`)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "Flag is persisted",
			event: exchange.Event{
				Kind: exchange.EventAccountFlagged,
				Flag: &model.FlaggedAccount{ID: "flag-1", StudentHash: "alice", Reason: "3 unmatched drops/day", Status: model.FlagPending, CreatedAt: now},
			},
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "flagged_accounts"`)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name:  "Failure rolls back the whole transition",
			event: lockedEvent(),
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "seat_offers"`)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "seat_requests"`)).
					WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			expectedErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gormDB, mock := newTestDB(t)
			store := NewGormStore(gormDB)

			tc.mockExpectations(mock)

			err := store.SaveEvent(context.Background(), tc.event)
			if tc.expectedErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStore_LoadActive(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "seat_offers" WHERE status IN ($1,$2)`)).
		WithArgs(model.OfferOpen, model.OfferLocked).
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_hash", "crn", "status", "created_at", "expires_at"}).
			AddRow("offer-1", "alice", "12345", "LOCKED", now.Add(-time.Hour), now.Add(23*time.Hour)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "seat_requests" WHERE status IN ($1,$2)`)).
		WithArgs(model.RequestQueued, model.RequestLocked).
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_hash", "crn", "credit_deficit", "status", "created_at"}).
			AddRow("request-1", "bob", "12345", 0.5, "LOCKED", now.Add(-time.Minute)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "matches" WHERE status = $1`)).
		WithArgs(model.MatchActive).
		WillReturnRows(sqlmock.NewRows([]string{"id", "offer_id", "request_id", "crn", "status", "locked_until", "created_at"}).
			AddRow("match-1", "offer-1", "request-1", "12345", "ACTIVE", now.Add(15*time.Minute), now))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "flagged_accounts"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_hash", "reason", "status", "created_at"}))

	snap, err := store.LoadActive(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Offers, 1)
	assert.Equal(t, model.OfferLocked, snap.Offers[0].Status)
	require.Len(t, snap.Requests, 1)
	assert.Equal(t, 0.5, snap.Requests[0].CreditDeficit)
	require.Len(t, snap.Matches, 1)
	assert.Equal(t, now.Add(15*time.Minute), snap.Matches[0].LockedUntil)
	assert.Empty(t, snap.Flags)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_UpsertCourses(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "courses"`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := store.UpsertCourses(context.Background(), []model.Course{
		{CRN: "12345", Title: "Operating Systems", Capacity: 120, Enrolled: 120},
		{CRN: "12346", Title: "Compilers", Capacity: 60, Enrolled: 58},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	// Nothing to seed, no statement.
	require.NoError(t, store.UpsertCourses(context.Background(), nil))
}

func TestGormStore_DeleteSubscription(t *testing.T) {
	testCases := []struct {
		name        string
		affected    int64
		expectedErr error
	}{
		{"Owned endpoint is deleted", 1, nil},
		{"Someone else's endpoint is not found", 0, ErrNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gormDB, mock := newTestDB(t)
			store := NewGormStore(gormDB)

			mock.ExpectBegin()
			mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "push_subscriptions" WHERE endpoint = $1 AND student_hash = $2`)).
				WithArgs("https://push.example/abc", "alice").
				WillReturnResult(sqlmock.NewResult(0, tc.affected))
			mock.ExpectCommit()

			err := store.DeleteSubscription(context.Background(), "alice", "https://push.example/abc")
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}
