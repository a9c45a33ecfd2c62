// Package scheduler implements the per-repository worker loop of spec
// §4.7: wake on an interval, snapshot relay and local state, feed each
// candidate path through the synchronization engine's decision table,
// and back off on contention or transient relay errors, all while
// honoring cancellation promptly. It is built on context.Context and
// golang.org/x/sync/errgroup so independent repositories run under one
// root without sharing state beyond the log sink and cancellation root
// (§5), the way the rest of the retrieval pack uses errgroup for
// supervising independent workers.
package scheduler

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff tracks an exponentially growing retry delay per LogicalPath
// key, used for Busy and RelayTransient errors (§4.7, §7). It is the
// liveness companion to the nonce-confirm safety mechanism of §4.3's
// lock dance; staleness reaping is a liveness concern, not a safety one
// (§9), and this is where that liveness lives.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	mu    sync.Mutex
	delay map[string]time.Duration
	until map[string]time.Time
}

// NewBackoff returns a Backoff with the given base delay and ceiling.
func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{Base: base, Max: max, delay: map[string]time.Duration{}, until: map[string]time.Time{}}
}

// Ready reports whether key's back-off window has elapsed.
func (b *Backoff) Ready(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.until[key]
	return !ok || !time.Now().Before(u)
}

// Note records a retryable failure for key, doubling its delay (capped
// at Max) and jittering it by up to 20% to avoid synchronized retries
// across clients contending for the same path.
func (b *Backoff) Note(key string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.delay[key]
	if d == 0 {
		d = b.Base
	} else {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	b.delay[key] = d
	jittered := d + time.Duration(rand.Int63n(int64(d)/5+1))
	b.until[key] = time.Now().Add(jittered)
	return jittered
}

// Reset clears key's back-off state after a successful operation.
func (b *Backoff) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.delay, key)
	delete(b.until, key)
}
