package reporter

import (
	"context"
	"net"
	"net/rpc"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relaychat/internal/chatlog"
	"github.com/relaychat/relaychat/internal/loadbalancer"
	"github.com/relaychat/relaychat/internal/statusrpc"
	"github.com/relaychat/relaychat/internal/statussvc"
)

type noopMirror struct{}

func (noopMirror) UpdateNow() {}

func newTestClient(t *testing.T) *statusrpc.Client {
	t.Helper()
	lb := loadbalancer.New()
	svc := statussvc.New(lb, noopMirror{}, chatlog.NewDefaultLogger(chatlog.LogLevelError))
	rpcSrv := rpc.NewServer()
	require.NoError(t, rpcSrv.RegisterName("Service", statusrpc.NewService(svc)))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go rpcSrv.Accept(ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return statusrpc.NewClient(rpc.NewClient(conn))
}

func TestReporter_RegistersOnFirstRun(t *testing.T) {
	client := newTestClient(t)
	ready := make(chan struct{}, 1)

	r := New(client, 100, "10.0.0.5:1235", func() (int, int) { return 2, 1 }, time.Hour,
		func() { ready <- struct{}{} }, chatlog.NewDefaultLogger(chatlog.LogLevelError))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("reporter never registered")
	}

	id, addr, found, err := client.CheckMinimalLoadServer()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint32(100), id)
	assert.Equal(t, "10.0.0.5:1235", addr)
}

func TestReporter_UpdateNowTriggersImmediateReport(t *testing.T) {
	client := newTestClient(t)
	ready := make(chan struct{}, 2)
	var load atomic.Int32

	r := New(client, 200, "10.0.0.6:1235", func() (int, int) { return int(load.Load()), 0 }, time.Hour,
		func() { ready <- struct{}{} }, chatlog.NewDefaultLogger(chatlog.LogLevelError))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("reporter never registered on startup")
	}

	load.Store(3)
	r.UpdateNow()
	require.Eventually(t, func() bool {
		servers, err := client.DumpServerList()
		return err == nil && len(servers) == 1 && servers[0].Load == 3
	}, time.Second, 10*time.Millisecond, "UpdateNow should report the new load without waiting for the ticker")

	found, err := client.ReportServerLoad(200, 0)
	require.NoError(t, err)
	assert.True(t, found)
}
