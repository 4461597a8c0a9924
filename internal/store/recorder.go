package store

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"seat-exchange-backend/internal/exchange"
)

const writeTimeout = 10 * time.Second

// Recorder persists engine events in the background. Events are sharded by
// CRN, so one course's writes keep their order, and queued without a bound,
// so the engine never waits on the database while it holds a course.
type Recorder struct {
	store  Store
	log    *zap.Logger
	shards []*mailbox

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	written atomic.Int64
	failed  atomic.Int64
}

type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []exchange.Event
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// put reports false once the mailbox is closed.
func (m *mailbox) put(ev exchange.Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.queue = append(m.queue, ev)
	m.cond.Signal()
	return true
}

// take blocks until events are queued and returns all of them. It returns
// false when the mailbox is closed and drained.
func (m *mailbox) take() ([]exchange.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queue) == 0 && !m.closed {
		m.cond.Wait()
	}
	if len(m.queue) == 0 {
		return nil, false
	}
	batch := m.queue
	m.queue = nil
	return batch, true
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// NewRecorder creates a recorder with the given number of shards.
func NewRecorder(s Store, shards int, log *zap.Logger) *Recorder {
	if shards <= 0 {
		shards = 1
	}
	r := &Recorder{store: s, log: log}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	for i := 0; i < shards; i++ {
		r.shards = append(r.shards, newMailbox())
	}
	return r
}

// Start launches one writer per shard.
func (r *Recorder) Start() {
	for i, mb := range r.shards {
		r.wg.Add(1)
		go r.run(i, mb)
	}
}

// Handle queues ev for writing. It never blocks.
func (r *Recorder) Handle(ev exchange.Event) {
	if !r.shardFor(ev.CRN).put(ev) {
		r.log.Warn("recorder closed; event dropped", zap.String("kind", string(ev.Kind)), zap.String("crn", ev.CRN))
	}
}

// Close stops accepting events and waits until everything queued has been
// written or ctx ends, whichever is first.
func (r *Recorder) Close(ctx context.Context) error {
	for _, mb := range r.shards {
		mb.close()
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

// Pending returns the number of queued, unwritten events.
func (r *Recorder) Pending() int {
	n := 0
	for _, mb := range r.shards {
		n += mb.len()
	}
	return n
}

// Stats returns how many events were written and how many failed.
func (r *Recorder) Stats() (written, failed int64) {
	return r.written.Load(), r.failed.Load()
}

func (r *Recorder) shardFor(crn string) *mailbox {
	h := fnv.New32a()
	_, _ = h.Write([]byte(crn))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

func (r *Recorder) run(id int, mb *mailbox) {
	defer r.wg.Done()
	r.log.Debug("recorder shard started", zap.Int("shard", id))
	for {
		batch, ok := mb.take()
		if !ok {
			r.log.Debug("recorder shard drained", zap.Int("shard", id))
			return
		}
		for _, ev := range batch {
			r.write(ev)
		}
	}
}

func (r *Recorder) write(ev exchange.Event) {
	ctx, cancel := context.WithTimeout(r.ctx, writeTimeout)
	defer cancel()
	if err := r.store.SaveEvent(ctx, ev); err != nil {
		r.failed.Add(1)
		r.log.Error("failed to persist event",
			zap.String("kind", string(ev.Kind)),
			zap.String("crn", ev.CRN),
			zap.Error(err))
		return
	}
	r.written.Add(1)
}
