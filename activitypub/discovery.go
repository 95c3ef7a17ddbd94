package activitypub

import (
	"sync"
	"time"
)

// DiscoveryBudget caps how many new resources a single inbound request may
// pull in. Each inbox delivery gets its own counter, identified by a request
// id, and the counter expires after a TTL so abandoned requests do not leak.
type DiscoveryBudget struct {
	mu      sync.Mutex
	counts  map[string]*discoveryEntry
	limit   int
	ttl     time.Duration
	stopped chan struct{}
}

type discoveryEntry struct {
	count   int
	expires time.Time
}

func NewDiscoveryBudget(limit int, ttl time.Duration) *DiscoveryBudget {
	b := &DiscoveryBudget{
		counts:  make(map[string]*discoveryEntry),
		limit:   limit,
		ttl:     ttl,
		stopped: make(chan struct{}),
	}
	go b.janitor()
	return b
}

// Spend consumes one unit of the request's budget. It returns
// ErrDiscoveryLimit once the limit is reached; the counter stays maxed so
// later spends in the same request keep failing.
func (b *DiscoveryBudget) Spend(requestId string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.counts[requestId]
	if !ok || time.Now().After(entry.expires) {
		entry = &discoveryEntry{}
		b.counts[requestId] = entry
	}
	entry.expires = time.Now().Add(b.ttl)

	if entry.count >= b.limit {
		return ErrDiscoveryLimit
	}
	entry.count++
	return nil
}

// Remaining reports how much budget the request has left.
func (b *DiscoveryBudget) Remaining(requestId string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.counts[requestId]
	if !ok || time.Now().After(entry.expires) {
		return b.limit
	}
	return b.limit - entry.count
}

// Release drops the request's counter once processing finishes.
func (b *DiscoveryBudget) Release(requestId string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.counts, requestId)
}

func (b *DiscoveryBudget) Stop() {
	close(b.stopped)
}

func (b *DiscoveryBudget) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopped:
			return
		case now := <-ticker.C:
			b.mu.Lock()
			for id, entry := range b.counts {
				if now.After(entry.expires) {
					delete(b.counts, id)
				}
			}
			b.mu.Unlock()
		}
	}
}
