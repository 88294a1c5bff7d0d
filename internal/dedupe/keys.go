// ABOUTME: Thread-safe TTL and size-bounded set of idempotency keys
// ABOUTME: Claim/Release guard duplicate sends; oldest keys are evicted first

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry stores when a key was claimed and its position in the eviction list
type entry struct {
	claimed time.Time
	element *list.Element
}

// Keys is a set of recently claimed keys. Entries expire after ttl; when full
// the oldest claim is evicted.
type Keys struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a key set and starts its background sweeper
func New(ttl time.Duration, maxSize int) *Keys {
	k := newKeys(ttl, maxSize, time.Now)
	go k.sweep(time.Minute)
	return k
}

func newKeys(ttl time.Duration, maxSize int, now func() time.Time) *Keys {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Keys{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
}

// ScopedKey joins a scope (user id) and a client key
func ScopedKey(scope, key string) string {
	return scope + "\x00" + key
}

// Seen reports whether key was claimed within the ttl
func (k *Keys) Seen(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.seen[key]
	return ok && k.now().Sub(e.claimed) < k.ttl
}

// Claim atomically records key. It returns false if the key is already held
// (a duplicate) and true if the caller now owns it.
func (k *Keys) Claim(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if e, ok := k.seen[key]; ok {
		if now.Sub(e.claimed) < k.ttl {
			return false
		}
		k.order.Remove(e.element)
		delete(k.seen, key)
	}

	if len(k.seen) >= k.maxSize {
		k.evictOldest()
	}
	k.seen[key] = &entry{claimed: now, element: k.order.PushBack(key)}
	return true
}

// Release forgets key so it can be claimed again
func (k *Keys) Release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if e, ok := k.seen[key]; ok {
		k.order.Remove(e.element)
		delete(k.seen, key)
	}
}

// Len returns the number of tracked keys, expired ones included until swept
func (k *Keys) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.seen)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (k *Keys) evictOldest() {
	front := k.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	k.order.Remove(front)
	delete(k.seen, key)
}

func (k *Keys) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			k.removeExpired()
		case <-k.done:
			return
		}
	}
}

// removeExpired drops every key older than the ttl. Claims are appended in
// time order, so the scan stops at the first live entry.
func (k *Keys) removeExpired() {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	for front := k.order.Front(); front != nil; front = k.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(k.seen[key].claimed) < k.ttl {
			return
		}
		k.order.Remove(front)
		delete(k.seen, key)
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (k *Keys) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.closed {
		close(k.done)
		k.closed = true
	}
}
