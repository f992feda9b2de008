// Package statussvc implements the status service's RPC-facing facade: it
// owns a loadbalancer.LoadBalancer and a statusmirror pusher, translating
// between the RPC surface and those two pieces.
package statussvc

import (
	"github.com/relaychat/relaychat/internal/chatlog"
	"github.com/relaychat/relaychat/internal/errkind"
	"github.com/relaychat/relaychat/internal/loadbalancer"
)

// ServerSummary is the public shape returned by DumpServerList — it avoids
// leaking loadbalancer.ServerInfo's internal time.Time representation
// across the RPC boundary.
type ServerSummary struct {
	ID     uint32
	Addr   string
	Load   uint32
	LastTS int64 // unix millis
}

// MirrorTrigger is implemented by internal/statusmirror: anything that can
// be asked to push a fresh snapshot "soon."
type MirrorTrigger interface {
	UpdateNow()
}

// Service is the RPC-facing façade over the load balancer.
type Service struct {
	lb     *loadbalancer.LoadBalancer
	mirror MirrorTrigger
	log    chatlog.Logger
}

// New builds a Service. mirror may be nil in tests that don't care about
// mirror triggering.
func New(lb *loadbalancer.LoadBalancer, mirror MirrorTrigger, log chatlog.Logger) *Service {
	return &Service{lb: lb, mirror: mirror, log: log}
}

func (s *Service) triggerMirror() {
	if s.mirror != nil {
		s.mirror.UpdateNow()
	}
}

// RegisterServer registers or updates a backend, and always triggers a
// mirror refresh (a register is a meaningful state change).
func (s *Service) RegisterServer(id uint32, addr string, load uint32) {
	s.lb.RegisterServer(id, addr, load)
	s.log.Info("status: registered backend id=%d addr=%s load=%d", id, addr, load)
	s.triggerMirror()
}

// ReportServerLoad updates a known backend's load. It returns false when
// the backend id is unknown, the caller (the backend's reporter) should
// treat that as NOT_FOUND and re-register.
func (s *Service) ReportServerLoad(id uint32, load uint32) (found bool) {
	return s.lb.UpdateLoad(id, load)
}

// CheckMinimalLoadServer returns the least-loaded live backend. found is
// false when no backend is live (NOT_FOUND).
func (s *Service) CheckMinimalLoadServer() (id uint32, addr string, found bool) {
	info, ok, didEvict := s.lb.MinLoad()
	if didEvict {
		s.triggerMirror()
	}
	if !ok {
		return 0, "", false
	}
	return info.ID, info.Addr, true
}

// DumpServerList returns every live backend.
func (s *Service) DumpServerList() []ServerSummary {
	snap := s.lb.Snapshot()
	out := make([]ServerSummary, len(snap))
	for i, si := range snap {
		out[i] = ServerSummary{ID: si.ID, Addr: si.Addr, Load: si.Load, LastTS: si.LastTS.UnixMilli()}
	}
	return out
}

// KickOnlineUser is reserved — group/admin-initiated kick is not part of
// THE CORE; callers get an INTERNAL fault saying the call is unimplemented,
// so they fail loudly instead of silently no-opping.
func (s *Service) KickOnlineUser(uid uint64) error {
	return errkind.New(errkind.Internal, "KickOnlineUser is reserved and unimplemented")
}

// CheckUserOnline is reserved, same rationale as KickOnlineUser.
func (s *Service) CheckUserOnline(uid uint64) (online bool, err error) {
	return false, errkind.New(errkind.Internal, "CheckUserOnline is reserved and unimplemented")
}
