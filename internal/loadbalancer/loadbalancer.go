// Package loadbalancer tracks live backend nodes and picks the
// least-loaded one for new logins. It wraps internal/heap behind a mutex
// and adds TTL eviction of backends that stopped reporting.
package loadbalancer

import (
	"sync"
	"time"

	"github.com/relaychat/relaychat/internal/heap"
)

// ServerTimeout is how long a backend may go without a report/register
// before it is considered dead.
const ServerTimeout = 40 * time.Second

// ServerInfo describes one live backend.
type ServerInfo struct {
	ID     uint32
	Addr   string
	Load   uint32
	LastTS time.Time
}

// HeapID implements heap.Identified.
func (s ServerInfo) HeapID() uint32 { return s.ID }

func byLoad(a, b ServerInfo) bool { return a.Load < b.Load }

// LoadBalancer is a thread-safe index of {id → ServerInfo} plus a min-heap
// over load, used to answer "which backend should a new login land on."
type LoadBalancer struct {
	mu  sync.Mutex
	h   *heap.Heap[ServerInfo]
	now func() time.Time
}

// New builds an empty load balancer.
func New() *LoadBalancer {
	return &LoadBalancer{
		h:   heap.New(byLoad),
		now: time.Now,
	}
}

// RegisterServer inserts a new backend or updates an existing one's addr,
// load, and last-seen timestamp.
func (lb *LoadBalancer) RegisterServer(id uint32, addr string, load uint32) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	info := ServerInfo{ID: id, Addr: addr, Load: load, LastTS: lb.now()}
	lb.h.InsertOrUpdate(id, info, 0)
}

// UpdateLoad refreshes load and last-seen timestamp for a known backend.
// Reports ok=false if the backend is unknown; the caller (status service)
// should treat that as NOT_FOUND and ask the backend to re-register.
func (lb *LoadBalancer) UpdateLoad(id uint32, load uint32) (ok bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	existing, found := lb.h.Get(id)
	if !found {
		return false
	}

	hint := 0
	switch {
	case load < existing.Load:
		hint = -1
	case load > existing.Load:
		hint = 1
	}
	existing.Load = load
	existing.LastTS = lb.now()
	lb.h.InsertOrUpdate(id, existing, hint)
	return true
}

// RemoveServer hard-deletes a backend (explicit leave).
func (lb *LoadBalancer) RemoveServer(id uint32) bool {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.h.Remove(id)
}

// MinLoad returns the least-loaded live backend, evicting any stale root
// entries first. didEvict is true if at least one backend was dropped for
// staleness during this call — callers should schedule a mirror refresh
// when that happens.
func (lb *LoadBalancer) MinLoad() (info ServerInfo, ok bool, didEvict bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := lb.now()
	for {
		top, exists := lb.h.Top()
		if !exists {
			return ServerInfo{}, false, didEvict
		}
		if now.Sub(top.LastTS) >= ServerTimeout {
			lb.h.Pop()
			didEvict = true
			continue
		}
		return top, true, didEvict
	}
}

// CheckTTL sweeps every entry and evicts stale ones, returning the count
// evicted. Unlike MinLoad it inspects the whole set, not just the root.
func (lb *LoadBalancer) CheckTTL() int {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := lb.now()
	evicted := 0
	for _, s := range lb.h.Snapshot() {
		if now.Sub(s.LastTS) >= ServerTimeout {
			lb.h.Remove(s.ID)
			evicted++
		}
	}
	return evicted
}

// Snapshot returns every live entry, in no particular order.
func (lb *LoadBalancer) Snapshot() []ServerInfo {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.h.Snapshot()
}
