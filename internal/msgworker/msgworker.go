// Package msgworker is the single dispatch worker every backend session
// posts decoded frames to. It routes CHAT_MSG to a local recipient's send
// queue when present, or onto that recipient's backend's Redis stream
// when it lives elsewhere; everything else is either handled inline
// (DEBUG, PING) or delegated back to the sending session (VERIFY).
package msgworker

import (
	"context"

	"github.com/relaychat/relaychat/internal/chatlog"
	"github.com/relaychat/relaychat/internal/frame"
	"github.com/relaychat/relaychat/internal/presence"
	"github.com/relaychat/relaychat/internal/registry"
	"github.com/relaychat/relaychat/internal/rediskeys"
)

// Session is everything the worker needs from the frame's originating
// session: its identity, a way to deliver a frame back out over the
// wire, and a way to run the session's own VERIFY handshake logic.
type Session interface {
	registry.Session
	UID() (uid uint64, verified bool)
	Send(tag frame.Tag, payload []byte) error
	HandleVerify(ctx context.Context, payload []byte)
}

// Item is one unit of work: a frame from a session, or — when Frame is
// nil — a tombstone signaling that session closed.
type Item struct {
	Session Session
	Frame   *frame.Frame
}

// Worker is the single consumer of the dispatch queue.
type Worker struct {
	queue     chan Item
	registry  *registry.Registry
	redis     *rediskeys.Client
	presence  *presence.Tracker
	backendID uint32
	log       chatlog.Logger
}

// New builds a Worker with a bounded queue of the given capacity.
func New(capacity int, reg *registry.Registry, redis *rediskeys.Client, pres *presence.Tracker, backendID uint32, log chatlog.Logger) *Worker {
	return &Worker{
		queue:     make(chan Item, capacity),
		registry:  reg,
		redis:     redis,
		presence:  pres,
		backendID: backendID,
		log:       log,
	}
}

// Post enqueues an item, blocking if the queue is full.
func (w *Worker) Post(item Item) {
	w.queue <- item
}

// Run drains the queue on the calling goroutine until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-w.queue:
			w.dispatch(ctx, item)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, item Item) {
	if item.Frame == nil {
		if uid, ok := item.Session.UID(); ok {
			w.presence.Deregister(uid)
		}
		return
	}

	f := item.Frame
	switch f.Tag {
	case frame.Debug:
		w.log.Debug("msgworker: DEBUG frame: %q", f.Payload)
	case frame.Verify:
		item.Session.HandleVerify(ctx, f.Payload)
		if uid, verified := item.Session.UID(); verified {
			w.presence.Touch(uid)
		}
	case frame.ChatMsg:
		w.routeChatMsg(ctx, item.Session, f.Payload)
	case frame.GroupChatMsg:
		// reserved, no-op.
	case frame.Ping:
		// keepalive, no-op.
	default:
		w.log.Warn("msgworker: unhandled tag %s", f.Tag)
	}
}

func (w *Worker) routeChatMsg(ctx context.Context, from Session, payload []byte) {
	fromUID, ok := from.UID()
	if !ok {
		w.log.Warn("msgworker: CHAT_MSG from an unverified session, dropping")
		return
	}
	w.presence.Touch(fromUID)

	to, content, err := frame.SplitUID(payload)
	if err != nil {
		w.log.Warn("msgworker: malformed CHAT_MSG payload: %v", err)
		return
	}

	if peer, found := w.registry.Get(to); found {
		sess, ok := peer.(Session)
		if !ok {
			return
		}
		if err := sess.Send(frame.ChatMsgToClient, frame.PutUID(fromUID, content)); err != nil {
			w.log.Warn("msgworker: local delivery to uid %d failed: %v", to, err)
		}
		return
	}

	serverID, ok, err := w.redis.ClaimServerID(ctx, to)
	if err != nil {
		w.log.Warn("msgworker: resolving location of uid %d failed: %v", to, err)
		return
	}
	if !ok {
		return // offline or unknown, drop
	}
	if serverID == w.backendID {
		return // claim says here but registry disagrees; treat as offline rather than loop
	}

	if err := w.redis.PublishChatMessage(ctx, serverID, rediskeys.ChatMessage{
		From:    fromUID,
		To:      to,
		Content: string(content),
	}); err != nil {
		w.log.Warn("msgworker: publishing to backend %d's stream failed: %v", serverID, err)
	}
}
