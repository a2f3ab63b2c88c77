package automation

import "sync"

// instanceKey identifies one automation run for one subscriber.
type instanceKey struct {
	automationID string
	subscriberID string
}

// instanceLocks serializes state transitions per instance key. Entries
// are created lazily and retained; the key space is bounded by the
// number of (automation, subscriber) pairs ever triggered.
type instanceLocks struct {
	mu    sync.Mutex
	locks map[instanceKey]*sync.Mutex
}

func newInstanceLocks() *instanceLocks {
	return &instanceLocks{locks: make(map[instanceKey]*sync.Mutex)}
}

func (l *instanceLocks) Lock(key instanceKey) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
}

func (l *instanceLocks) Unlock(key instanceKey) {
	l.mu.Lock()
	m := l.locks[key]
	l.mu.Unlock()
	m.Unlock()
}
