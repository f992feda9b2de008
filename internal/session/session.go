// Package session owns one backend TCP connection: the receive loop,
// the ordered send queue, and the UNVERIFIED/VERIFIED/CLOSED state
// machine. Producers call Send from other sessions and from the
// dispatch worker; only the session itself reads from its own socket.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/relaychat/relaychat/internal/chatlog"
	"github.com/relaychat/relaychat/internal/errkind"
	"github.com/relaychat/relaychat/internal/frame"
	"github.com/relaychat/relaychat/internal/msgworker"
	"github.com/relaychat/relaychat/internal/registry"
	"github.com/relaychat/relaychat/internal/rediskeys"
)

type verifyRequest struct {
	UID   uint64 `json:"uid"`
	Token string `json:"token"`
}

// Session owns one accepted connection.
type Session struct {
	conn      net.Conn
	uid       atomic.Uint64
	verified  atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	sendMu sync.Mutex
	sendQ  [][]byte

	worker    *msgworker.Worker
	registry  *registry.Registry
	redis     *rediskeys.Client
	backendID uint32
	log       chatlog.Logger
}

// New wraps an accepted connection, not yet verified. Callers must call
// registry.AddTemp and then Start.
func New(conn net.Conn, worker *msgworker.Worker, reg *registry.Registry, redis *rediskeys.Client, backendID uint32, log chatlog.Logger) *Session {
	return &Session{
		conn:      conn,
		worker:    worker,
		registry:  reg,
		redis:     redis,
		backendID: backendID,
		log:       log,
	}
}

// UID reports the session's uid and whether it has completed VERIFY.
func (s *Session) UID() (uid uint64, verified bool) {
	return s.uid.Load(), s.verified.Load()
}

// Start runs the receive loop until the connection errors or closes.
// It always returns after calling Close.
func (s *Session) Start(ctx context.Context) {
	defer s.Close()

	for {
		f, err := frame.ReadFrame(s.conn)
		if err != nil {
			if !errkind.Is(err, errkind.ConnectionClosed) {
				s.log.Debug("session: read error, closing: %v", err)
			}
			return
		}

		if !s.verified.Load() && f.Tag != frame.Verify {
			s.log.Debug("session: non-VERIFY frame while unverified, closing")
			return
		}

		s.worker.Post(msgworker.Item{Session: s, Frame: &f})
	}
}

// HandleVerify runs the VERIFY handshake: parse the JSON body, resolve
// the token, and on success promote this session into the registry
// under uid and claim this backend as its authoritative location. Any
// failure closes the session.
func (s *Session) HandleVerify(ctx context.Context, payload []byte) {
	var req verifyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.log.Debug("session: malformed VERIFY body: %v", err)
		s.Close()
		return
	}

	resolvedUID, err := s.redis.ResolveToken(ctx, req.Token)
	if err != nil || resolvedUID != req.UID {
		s.log.Debug("session: token verification failed for uid %d", req.UID)
		s.Close()
		return
	}

	if !s.registry.Promote(req.UID, s) {
		s.log.Debug("session: uid %d already has a verified session, closing", req.UID)
		s.Close()
		return
	}

	s.uid.Store(req.UID)
	s.verified.Store(true)

	if err := s.redis.ClaimSetServerID(ctx, req.UID, s.backendID); err != nil {
		s.log.Warn("session: claiming server id for uid %d failed: %v", req.UID, err)
	}

	if err := s.Send(frame.VerifyDone, []byte("OK")); err != nil {
		s.log.Debug("session: writing VERIFY_DONE failed: %v", err)
	}
}

// Send encodes (tag, payload) and appends it to the send queue. If the
// queue was empty, it starts the write loop; otherwise the loop already
// running will pick it up. At most one write loop runs per session at a
// time.
func (s *Session) Send(tag frame.Tag, payload []byte) error {
	if s.closed.Load() {
		return errkind.New(errkind.ConnectionClosed, "session is closed")
	}

	encoded := frame.EncodeFrame(tag, payload)

	s.sendMu.Lock()
	startLoop := len(s.sendQ) == 0
	s.sendQ = append(s.sendQ, encoded)
	s.sendMu.Unlock()

	if startLoop {
		go s.drainSendQueue()
	}
	return nil
}

func (s *Session) drainSendQueue() {
	for {
		s.sendMu.Lock()
		if len(s.sendQ) == 0 {
			s.sendMu.Unlock()
			return
		}
		next := s.sendQ[0]
		s.sendMu.Unlock()

		if _, err := s.conn.Write(next); err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Debug("session: write failed, closing: %v", err)
			}
			s.Close()
			return
		}

		s.sendMu.Lock()
		s.sendQ = s.sendQ[1:]
		drained := len(s.sendQ) == 0
		s.sendMu.Unlock()
		if drained {
			return
		}
	}
}

// Close is idempotent: it shuts down the socket, removes the session
// from whichever registry set it was in, and posts a tombstone so the
// dispatch worker can deregister its presence.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.conn.Close()

		if uid, verified := s.UID(); verified {
			s.registry.Remove(uid)
		} else {
			s.registry.RemoveTemp(s)
		}

		s.worker.Post(msgworker.Item{Session: s, Frame: nil})
	})
	return nil
}
