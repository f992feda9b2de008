package statussvc

import (
	"testing"

	"github.com/relaychat/relaychat/internal/chatlog"
	"github.com/relaychat/relaychat/internal/loadbalancer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMirror struct{ calls int }

func (f *fakeMirror) UpdateNow() { f.calls++ }

func TestRegisterServer_TriggersMirror(t *testing.T) {
	lb := loadbalancer.New()
	mirror := &fakeMirror{}
	svc := New(lb, mirror, &chatlog.NoOpLogger{})

	svc.RegisterServer(1, "a:1", 3)
	assert.Equal(t, 1, mirror.calls)

	list := svc.DumpServerList()
	require.Len(t, list, 1)
	assert.Equal(t, uint32(1), list[0].ID)
}

func TestReportServerLoad_UnknownReturnsNotFound(t *testing.T) {
	lb := loadbalancer.New()
	svc := New(lb, nil, &chatlog.NoOpLogger{})
	assert.False(t, svc.ReportServerLoad(42, 10))
}

func TestCheckMinimalLoadServer_EmptyReturnsNotFound(t *testing.T) {
	lb := loadbalancer.New()
	svc := New(lb, nil, &chatlog.NoOpLogger{})
	_, _, found := svc.CheckMinimalLoadServer()
	assert.False(t, found)
}

func TestCheckMinimalLoadServer_ReturnsLeastLoaded(t *testing.T) {
	lb := loadbalancer.New()
	svc := New(lb, nil, &chatlog.NoOpLogger{})
	svc.RegisterServer(1, "a:1", 9)
	svc.RegisterServer(2, "b:1", 1)

	id, addr, found := svc.CheckMinimalLoadServer()
	require.True(t, found)
	assert.Equal(t, uint32(2), id)
	assert.Equal(t, "b:1", addr)
}

func TestReservedRPCs_ReturnError(t *testing.T) {
	lb := loadbalancer.New()
	svc := New(lb, nil, &chatlog.NoOpLogger{})

	err := svc.KickOnlineUser(1)
	assert.Error(t, err)

	_, err = svc.CheckUserOnline(1)
	assert.Error(t, err)
}
