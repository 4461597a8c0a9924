package api

import (
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutSubscription(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "PUT", "/v1/subscriptions", nil, student("alice"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"status":"error","error":"validation","message":"invalid request"}`, w.Body.String())

	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "push_subscriptions"`)).
		WithArgs("https://push.example/1", "alice", "key", "secret", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	w = s.do(t, "PUT", "/v1/subscriptions", obj{
		"endpoint": "https://push.example/1",
		"p256dh":   "key",
		"auth":     "secret",
	}, student("alice"))
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func TestGetSubscriptions(t *testing.T) {
	s := newTestServer(t)

	s.mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "push_subscriptions" WHERE student_hash = $1`)).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"endpoint", "student_hash", "p256dh", "auth", "created_at"}).
			AddRow("https://push.example/1", "alice", "key", "secret", time.Now()))

	w := s.do(t, "GET", "/v1/subscriptions", nil, student("alice"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"endpoints":["https://push.example/1"]}`, w.Body.String())
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func TestDeleteSubscription(t *testing.T) {
	s := newTestServer(t)
	del := regexp.QuoteMeta(`DELETE FROM "push_subscriptions" WHERE endpoint = $1 AND student_hash = $2`)

	s.mock.ExpectBegin()
	s.mock.ExpectExec(del).WithArgs("https://push.example/1", "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()
	w := s.do(t, "DELETE", "/v1/subscriptions", obj{"endpoint": "https://push.example/1"}, student("alice"))
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Another student's endpoint is not visible.
	s.mock.ExpectBegin()
	s.mock.ExpectExec(del).WithArgs("https://push.example/1", "mallory").
		WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectCommit()
	w = s.do(t, "DELETE", "/v1/subscriptions", obj{"endpoint": "https://push.example/1"}, student("mallory"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func TestGetVAPIDPublicKey(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, "GET", "/v1/vapid_public_key", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"test-public-key"}`, w.Body.String())
}
