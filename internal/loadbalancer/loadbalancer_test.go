package loadbalancer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWithClock(start time.Time) (*LoadBalancer, *time.Time) {
	lb := New()
	clock := start
	lb.now = func() time.Time { return clock }
	return lb, &clock
}

func TestRegisterAndMinLoad(t *testing.T) {
	lb, _ := newWithClock(time.Unix(0, 0))
	lb.RegisterServer(1, "10.0.0.1:1", 5)
	lb.RegisterServer(2, "10.0.0.2:1", 2)
	lb.RegisterServer(3, "10.0.0.3:1", 9)

	info, ok, evicted := lb.MinLoad()
	require.True(t, ok)
	assert.False(t, evicted)
	assert.Equal(t, uint32(2), info.ID)
	assert.Equal(t, uint32(2), info.Load)
}

func TestRegisterServer_DuplicateIDUpdatesInPlace(t *testing.T) {
	lb, _ := newWithClock(time.Unix(0, 0))
	lb.RegisterServer(1, "old:1", 5)
	lb.RegisterServer(1, "new:1", 7)

	snap := lb.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "new:1", snap[0].Addr)
	assert.Equal(t, uint32(7), snap[0].Load)
}

func TestUpdateLoad_UnknownReturnsFalse(t *testing.T) {
	lb, _ := newWithClock(time.Unix(0, 0))
	assert.False(t, lb.UpdateLoad(999, 1))
}

func TestUpdateLoad_Known(t *testing.T) {
	lb, _ := newWithClock(time.Unix(0, 0))
	lb.RegisterServer(1, "a:1", 5)
	assert.True(t, lb.UpdateLoad(1, 50))

	info, ok, _ := lb.MinLoad()
	require.True(t, ok)
	assert.Equal(t, uint32(50), info.Load)
}

func TestRemoveServer(t *testing.T) {
	lb, _ := newWithClock(time.Unix(0, 0))
	lb.RegisterServer(1, "a:1", 5)
	assert.True(t, lb.RemoveServer(1))
	assert.False(t, lb.RemoveServer(1))
	_, ok, _ := lb.MinLoad()
	assert.False(t, ok)
}

func TestMinLoad_EvictsStaleRoot(t *testing.T) {
	lb, clock := newWithClock(time.Unix(0, 0))
	lb.RegisterServer(1, "x:1", 5)
	lb.RegisterServer(2, "y:1", 10)

	*clock = clock.Add(ServerTimeout + time.Millisecond)

	info, ok, evicted := lb.MinLoad()
	require.True(t, ok)
	assert.True(t, evicted)
	assert.Equal(t, uint32(2), info.ID)

	snap := lb.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint32(2), snap[0].ID)
}

func TestCheckTTL_SweepsWholeSet(t *testing.T) {
	lb, clock := newWithClock(time.Unix(0, 0))
	lb.RegisterServer(1, "a:1", 1)
	lb.RegisterServer(2, "b:1", 2)

	*clock = clock.Add(20 * time.Second)
	lb.RegisterServer(2, "b:1", 2) // refresh id 2 only

	*clock = clock.Add(25 * time.Second) // id1 now 45s stale, id2 25s

	evicted := lb.CheckTTL()
	assert.Equal(t, 1, evicted)
	snap := lb.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint32(2), snap[0].ID)
}
