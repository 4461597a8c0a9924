package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"seat-exchange-backend/config"
	"seat-exchange-backend/internal/clock"
	"seat-exchange-backend/internal/exchange"
	"seat-exchange-backend/internal/mw"
	"seat-exchange-backend/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var t0 = time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)

type testServer struct {
	router *gin.Engine
	engine *exchange.Engine
	clock  *clock.Fake
	mock   sqlmock.Sqlmock
}

// newTestServer wires the router to a real engine on a fake clock and a
// store backed by sqlmock.
func newTestServer(t *testing.T, mutate ...func(*exchange.Config)) *testServer {
	t.Helper()
	cfg := exchange.DefaultConfig()
	cfg.Settings.OffersPerDay = 0
	cfg.Settings.RequestsPerDay = 0
	for _, m := range mutate {
		m(&cfg)
	}

	clk := clock.NewFake(t0)
	var seq atomic.Int64
	log := zaptest.NewLogger(t)
	e, err := exchange.New(cfg,
		exchange.WithClock(clk),
		exchange.WithLogger(log),
		exchange.WithIDGenerator(func() string { return fmt.Sprintf("id-%04d", seq.Add(1)) }),
	)
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)

	h := NewHandler(e, store.NewGormStore(gormDB), &webpush.Options{VAPIDPublicKey: "test-public-key"}, log)
	router := NewRouter(h, config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 1})
	return &testServer{router: router, engine: e, clock: clk, mock: mock}
}

func student(hash string) map[string]string {
	return map[string]string{mw.HeaderStudentHash: hash}
}

func role(r string) map[string]string {
	return map[string]string{mw.HeaderRole: r}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

type obj = map[string]any
