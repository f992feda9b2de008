// Package presence is the online-status writer: a batched, periodic
// flush of which uids are still authoritatively claimed by this backend.
// Touch marks a uid as active (its status:{uid} TTL gets refreshed on the
// next tick); Deregister marks it for deletion. Gather happens under a
// mutex; the actual Redis batch runs with the mutex released.
package presence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaychat/relaychat/internal/chatlog"
	"github.com/relaychat/relaychat/internal/rediskeys"
)

const defaultTTL = 30 * time.Second

// Tracker accumulates touched/removed uids and flushes them to Redis on
// a timer or on demand.
type Tracker struct {
	mu      sync.Mutex
	added   map[uint64]struct{}
	removed map[uint64]struct{}

	flushing atomic.Bool
	kick     chan struct{}

	redis    *rediskeys.Client
	interval time.Duration
	ttl      time.Duration
	log      chatlog.Logger
}

// New builds a Tracker flushing every interval (default 10s if 0).
func New(redis *rediskeys.Client, interval time.Duration, log chatlog.Logger) *Tracker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Tracker{
		added:    make(map[uint64]struct{}),
		removed:  make(map[uint64]struct{}),
		kick:     make(chan struct{}, 1),
		redis:    redis,
		interval: interval,
		ttl:      defaultTTL,
		log:      log,
	}
}

// Touch records that uid was active and should have its status TTL
// refreshed on the next flush.
func (t *Tracker) Touch(uid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.removed, uid)
	t.added[uid] = struct{}{}
}

// Deregister records that uid's session closed and its status hash
// should be removed on the next flush.
func (t *Tracker) Deregister(uid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.added, uid)
	t.removed[uid] = struct{}{}
}

// UpdateNow requests an out-of-band flush. Multiple calls while a flush
// is in flight collapse into one extra run once the current one
// finishes — it never blocks the caller.
func (t *Tracker) UpdateNow() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// Run drives the periodic flush until ctx is canceled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Flush(ctx)
		case <-t.kick:
			t.Flush(ctx)
		}
	}
}

// Flush runs one batch synchronously: every touched uid gets its claim TTL
// refreshed, every deregistered uid has its claim deleted. A flush already
// in flight makes this a no-op rather than overlapping with it — Run's
// periodic and kicked calls both go through here, so tests can also force
// a deterministic flush instead of waiting on the ticker.
func (t *Tracker) Flush(ctx context.Context) {
	if !t.flushing.CompareAndSwap(false, true) {
		return
	}
	defer t.flushing.Store(false)

	t.mu.Lock()
	added := make([]uint64, 0, len(t.added))
	for uid := range t.added {
		added = append(added, uid)
	}
	removed := make([]uint64, 0, len(t.removed))
	for uid := range t.removed {
		removed = append(removed, uid)
	}
	t.added = make(map[uint64]struct{})
	t.removed = make(map[uint64]struct{})
	t.mu.Unlock()

	if len(added) > 0 {
		if err := t.redis.RefreshClaimTTL(ctx, added, t.ttl); err != nil && t.log != nil {
			t.log.Error("presence: refreshing claim ttl failed: %v", err)
		}
	}
	for _, uid := range removed {
		if err := t.redis.DeleteClaim(ctx, uid); err != nil && t.log != nil {
			t.log.Error("presence: deleting claim for uid %d failed: %v", uid, err)
		}
	}
}
