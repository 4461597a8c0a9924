package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"seat-exchange-backend/internal/exchange"
	"seat-exchange-backend/internal/model"
)

// fakeStore records SaveEvent calls; the embedded nil Store panics if any
// other method is used.
type fakeStore struct {
	Store
	mu      sync.Mutex
	saved   []exchange.Event
	failFor string
	gate    chan struct{}
}

func (f *fakeStore) SaveEvent(ctx context.Context, ev exchange.Event) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if ev.Offer != nil && ev.Offer.ID == f.failFor {
		return errors.New("disk full")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, ev)
	return nil
}

func (f *fakeStore) offerIDs(crn string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, ev := range f.saved {
		if ev.CRN == crn && ev.Offer != nil {
			ids = append(ids, ev.Offer.ID)
		}
	}
	return ids
}

func offerEvent(crn string, i int) exchange.Event {
	return exchange.Event{
		Kind:  exchange.EventOfferCreated,
		CRN:   crn,
		Offer: &model.SeatOffer{ID: fmt.Sprintf("%s-%03d", crn, i), CRN: crn},
	}
}

func TestRecorder_PreservesPerCourseOrder(t *testing.T) {
	fs := &fakeStore{}
	rec := NewRecorder(fs, 3, zaptest.NewLogger(t))
	rec.Start()

	crns := []string{"11111", "22222", "33333", "44444"}
	var want = map[string][]string{}
	for i := 0; i < 50; i++ {
		for _, crn := range crns {
			ev := offerEvent(crn, i)
			want[crn] = append(want[crn], ev.Offer.ID)
			rec.Handle(ev)
		}
	}

	require.NoError(t, rec.Close(context.Background()))
	for _, crn := range crns {
		assert.Equal(t, want[crn], fs.offerIDs(crn), crn)
	}
	written, failed := rec.Stats()
	assert.EqualValues(t, 200, written)
	assert.EqualValues(t, 0, failed)
	assert.Equal(t, 0, rec.Pending())
}

func TestRecorder_HandleNeverBlocks(t *testing.T) {
	fs := &fakeStore{gate: make(chan struct{})}
	rec := NewRecorder(fs, 1, zaptest.NewLogger(t))
	rec.Start()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			rec.Handle(offerEvent("12345", i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Handle blocked behind a stalled database")
	}

	close(fs.gate)
	require.NoError(t, rec.Close(context.Background()))
	assert.Len(t, fs.offerIDs("12345"), 1000)
}

func TestRecorder_FailuresAreCountedAndSkipped(t *testing.T) {
	fs := &fakeStore{failFor: "12345-001"}
	rec := NewRecorder(fs, 2, zaptest.NewLogger(t))
	rec.Start()
	for i := 0; i < 3; i++ {
		rec.Handle(offerEvent("12345", i))
	}
	require.NoError(t, rec.Close(context.Background()))

	assert.Equal(t, []string{"12345-000", "12345-002"}, fs.offerIDs("12345"))
	written, failed := rec.Stats()
	assert.EqualValues(t, 2, written)
	assert.EqualValues(t, 1, failed)

	// Events after Close are dropped.
	rec.Handle(offerEvent("12345", 9))
	assert.Equal(t, 0, rec.Pending())
}

func TestRecorder_CloseHonoursDeadline(t *testing.T) {
	fs := &fakeStore{gate: make(chan struct{})}
	rec := NewRecorder(fs, 1, zaptest.NewLogger(t))
	rec.Start()
	rec.Handle(offerEvent("12345", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rec.Close(ctx), context.DeadlineExceeded)
}
