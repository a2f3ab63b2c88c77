package automation

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lumora/pulse/internal/clock"
)

// schedEntry is one pending wake-up for an instance.
type schedEntry struct {
	key   instanceKey
	dueAt time.Time
}

// dueHeap orders entries by dueAt, earliest first.
type dueHeap []schedEntry

func (h dueHeap) Len() int            { return len(h) }
func (h dueHeap) Less(i, j int) bool  { return h[i].dueAt.Before(h[j].dueAt) }
func (h dueHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *dueHeap) Push(x interface{}) { *h = append(*h, x.(schedEntry)) }
func (h *dueHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// scheduler wakes the orchestrator when instances come due. One
// goroutine sleeps on a single timer set to the earliest entry;
// Schedule re-arms it when an earlier entry arrives.
//
// Entries are fire hints, not state: the orchestrator re-reads the
// instance on wake, so a stale entry for a rescheduled instance is
// harmless. At most one live entry exists per key, so a cancel and
// re-trigger between wake-ups cannot fire the same instance twice.
type scheduler struct {
	clk    clock.Clock
	fire   func(key instanceKey)
	logger *zap.Logger

	mu      sync.Mutex
	pending dueHeap
	queued  map[instanceKey]time.Time
	wake    chan struct{}
}

func newScheduler(clk clock.Clock, fire func(key instanceKey), logger *zap.Logger) *scheduler {
	return &scheduler{
		clk:    clk,
		fire:   fire,
		logger: logger,
		queued: make(map[instanceKey]time.Time),
		wake:   make(chan struct{}, 1),
	}
}

// Schedule registers a wake-up for the key at dueAt. A key already
// queued at the same or an earlier time is left alone; an earlier
// dueAt supersedes the queued entry.
func (s *scheduler) Schedule(key instanceKey, dueAt time.Time) {
	s.mu.Lock()
	if queued, ok := s.queued[key]; ok && !dueAt.Before(queued) {
		s.mu.Unlock()
		return
	}
	s.queued[key] = dueAt
	heap.Push(&s.pending, schedEntry{key: key, dueAt: dueAt})
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run sleeps until the earliest pending entry, fires everything due,
// and repeats until ctx is cancelled. Due instances fire concurrently;
// per-instance ordering comes from the orchestrator's instance locks.
func (s *scheduler) Run(ctx context.Context) {
	for {
		now := s.clk.Now()

		s.mu.Lock()
		var due []instanceKey
		for s.pending.Len() > 0 && !s.pending[0].dueAt.After(now) {
			e := heap.Pop(&s.pending).(schedEntry)
			if queued, ok := s.queued[e.key]; !ok || !queued.Equal(e.dueAt) {
				// Superseded by an earlier entry for the same key
				continue
			}
			delete(s.queued, e.key)
			due = append(due, e.key)
		}
		var timer clock.Timer
		var timerC <-chan time.Time
		if s.pending.Len() > 0 {
			timer = s.clk.NewTimer(s.pending[0].dueAt.Sub(now))
			timerC = timer.C()
		}
		s.mu.Unlock()

		for _, key := range due {
			s.logger.Debug("instance due",
				zap.String("automation_id", key.automationID),
				zap.String("subscriber_id", key.subscriberID),
			)
			go s.fire(key)
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-timerC:
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		}
	}
}
