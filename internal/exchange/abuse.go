package exchange

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// abuseTracker counts lock timeouts per offering student per UTC day. The
// count is a signal for admins; the engine never acts on it.
type abuseTracker struct {
	mu        sync.Mutex
	threshold int
	timeouts  *cache.Cache
}

func newAbuseTracker(threshold int) *abuseTracker {
	return &abuseTracker{
		threshold: threshold,
		timeouts:  cache.New(48*time.Hour, time.Hour),
	}
}

// recordTimeout adds one timeout for studentHash and reports the day's count
// and whether this timeout reached the threshold. That happens once per day;
// later timeouts keep counting without flagging again.
func (a *abuseTracker) recordTimeout(studentHash string, now time.Time) (int, bool) {
	if a.threshold <= 0 {
		return 0, false
	}
	key := studentHash + ":" + now.UTC().Format(time.DateOnly)

	a.mu.Lock()
	defer a.mu.Unlock()
	n := 1
	if v, ok := a.timeouts.Get(key); ok {
		n = v.(int) + 1
	}
	a.timeouts.Set(key, n, untilEndOfDay(now))
	return n, n == a.threshold
}
