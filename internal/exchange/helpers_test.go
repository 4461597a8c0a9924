package exchange

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"seat-exchange-backend/internal/clock"
)

var t0 = time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Handle(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (l *eventLog) count(kind EventKind) int {
	n := 0
	for _, k := range l.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// newTestEngine builds an engine on a fake clock at t0 with sequential ids
// and no daily limits.
func newTestEngine(t *testing.T, mutate ...func(*Config)) (*Engine, *clock.Fake, *eventLog) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Settings.OffersPerDay = 0
	cfg.Settings.RequestsPerDay = 0
	for _, m := range mutate {
		m(&cfg)
	}

	clk := clock.NewFake(t0)
	events := &eventLog{}
	var seq atomic.Int64
	e, err := New(cfg,
		WithClock(clk),
		WithLogger(zaptest.NewLogger(t)),
		WithListener(events),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%04d", seq.Add(1)) }),
	)
	require.NoError(t, err)
	return e, clk, events
}
