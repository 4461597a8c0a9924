package exchange

import (
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// requestLedger counts non-terminal requests per student across all courses.
// A slot is reserved before the request enters its CourseQueue, which keeps
// the cap exact while different courses are served in parallel.
type requestLedger struct {
	mu     sync.Mutex
	active map[string]int
}

func newRequestLedger() *requestLedger {
	return &requestLedger{active: make(map[string]int)}
}

func (l *requestLedger) reserve(studentHash string, limit int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[studentHash] >= limit {
		return fmt.Errorf("%w: %d active requests", ErrQueueCapExceeded, l.active[studentHash])
	}
	l.active[studentHash]++
	return nil
}

func (l *requestLedger) release(studentHash string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := l.active[studentHash]; n > 1 {
		l.active[studentHash] = n - 1
	} else {
		delete(l.active, studentHash)
	}
}

// restore counts a request loaded from storage without checking the cap.
func (l *requestLedger) restore(studentHash string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active[studentHash]++
}

func (l *requestLedger) count(studentHash string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[studentHash]
}

type quotaKind string

const (
	quotaOffers   quotaKind = "offers"
	quotaRequests quotaKind = "requests"
)

// dailyQuota counts submissions per student per UTC day. Counters expire
// with the day they belong to.
type dailyQuota struct {
	mu       sync.Mutex
	counters *cache.Cache
}

func newDailyQuota() *dailyQuota {
	return &dailyQuota{counters: cache.New(48*time.Hour, time.Hour)}
}

func quotaKey(kind quotaKind, studentHash string, now time.Time) string {
	return string(kind) + ":" + studentHash + ":" + now.UTC().Format(time.DateOnly)
}

// take consumes one unit of today's quota. A limit of 0 is unlimited.
func (d *dailyQuota) take(kind quotaKind, studentHash string, now time.Time, limit int) error {
	if limit <= 0 {
		return nil
	}
	key := quotaKey(kind, studentHash, now)

	d.mu.Lock()
	defer d.mu.Unlock()
	used := 0
	if v, ok := d.counters.Get(key); ok {
		used = v.(int)
	}
	if used >= limit {
		return fmt.Errorf("%w: %d %s per day", ErrRateLimited, limit, kind)
	}
	d.counters.Set(key, used+1, untilEndOfDay(now))
	return nil
}

// refund returns a unit taken by a submission that was then rejected.
func (d *dailyQuota) refund(kind quotaKind, studentHash string, now time.Time, limit int) {
	if limit <= 0 {
		return
	}
	key := quotaKey(kind, studentHash, now)

	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok := d.counters.Get(key); ok && v.(int) > 0 {
		d.counters.Set(key, v.(int)-1, untilEndOfDay(now))
	}
}

func untilEndOfDay(now time.Time) time.Duration {
	now = now.UTC()
	end := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return end.Sub(now)
}
