// Package statusmirror is the status service's single background
// worker: on a timer, or on an explicit UpdateNow, it sweeps the load
// balancer for stale entries and republishes the live snapshot to Redis
// as the server_list hash. Consecutive push failures are tolerated up to
// a small budget before the worker gives up on that round and tries
// again next tick — liveness over consistency.
package statusmirror

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/relaychat/relaychat/internal/chatlog"
	"github.com/relaychat/relaychat/internal/loadbalancer"
	"github.com/relaychat/relaychat/internal/rediskeys"
)

const maxConsecutiveErrors = 3

// Mirror periodically (or on demand) pushes the load balancer's snapshot
// into Redis.
type Mirror struct {
	lb       *loadbalancer.LoadBalancer
	redis    *rediskeys.Client
	interval time.Duration
	lockName string
	lockTTL  time.Duration

	flushing atomic.Bool
	kick     chan struct{}
	log      chatlog.Logger
}

// New builds a Mirror flushing every interval (default 15s if 0).
func New(lb *loadbalancer.LoadBalancer, redis *rediskeys.Client, interval time.Duration, log chatlog.Logger) *Mirror {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Mirror{
		lb:       lb,
		redis:    redis,
		interval: interval,
		lockName: "status-mirror-push",
		lockTTL:  5 * time.Second,
		kick:     make(chan struct{}, 1),
		log:      log,
	}
}

// UpdateNow requests an out-of-band push. Calls arriving while a push is
// already in flight collapse into exactly one extra round once the
// current push finishes.
func (m *Mirror) UpdateNow() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Run drives the periodic push loop until ctx is canceled.
func (m *Mirror) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.push(ctx)
		case <-m.kick:
			m.push(ctx)
		}
	}
}

func (m *Mirror) push(ctx context.Context) {
	if !m.flushing.CompareAndSwap(false, true) {
		return
	}
	defer m.flushing.Store(false)

	token, acquired, err := m.redis.TryLock(ctx, m.lockName, m.lockTTL)
	if err != nil {
		m.log.Error("statusmirror: lock attempt failed: %v", err)
		return
	}
	if !acquired {
		return
	}
	defer m.redis.Unlock(ctx, m.lockName, token)

	m.lb.CheckTTL()
	snapshot := m.lb.Snapshot()

	entries := make(map[uint32]string, len(snapshot))
	for _, s := range snapshot {
		entries[s.ID] = s.Addr
	}

	var lastErr error
	for attempt := 0; attempt < maxConsecutiveErrors; attempt++ {
		if lastErr = m.redis.PushServerList(ctx, entries); lastErr == nil {
			return
		}
	}
	m.log.Error("statusmirror: push failed after %d attempts: %v", maxConsecutiveErrors, lastErr)
}
