// Package mailbox is the consumer side of a backend's per-node Redis
// streams: the durable message mailbox and the out-of-band control
// stream. One Consumer per backend process reads both with a single
// XREADGROUP call, delivering message-stream entries to whichever local
// session owns the recipient uid and acting on control-stream commands
// (currently only kick) by closing the named session.
package mailbox

import (
	"context"
	"strconv"
	"time"

	"github.com/relaychat/relaychat/internal/chatlog"
	"github.com/relaychat/relaychat/internal/errkind"
	"github.com/relaychat/relaychat/internal/frame"
	"github.com/relaychat/relaychat/internal/registry"
	"github.com/relaychat/relaychat/internal/rediskeys"
)

// Session is what the mailbox needs from a local session to deliver a
// cross-backend message or act on a kick.
type Session interface {
	registry.Session
	Send(tag frame.Tag, payload []byte) error
}

// blockInterval bounds how long a single XREADGROUP call waits for new
// entries before returning empty, so Run can observe ctx cancellation
// promptly.
const (
	blockInterval = 2 * time.Second
	readCount     = 10
)

// Consumer drains both of one backend's streams.
type Consumer struct {
	redis     *rediskeys.Client
	registry  *registry.Registry
	backendID uint32
	name      string
	log       chatlog.Logger
}

// New builds a Consumer for backendID. name identifies this process as a
// consumer within the backend's shared group (useful if a backend ever
// runs more than one reader); "consumer-1" is a fine default for a single
// process per backend.
func New(redis *rediskeys.Client, reg *registry.Registry, backendID uint32, name string, log chatlog.Logger) *Consumer {
	if name == "" {
		name = "consumer-1"
	}
	return &Consumer{redis: redis, registry: reg, backendID: backendID, name: name, log: log}
}

// Run ensures both consumer groups exist, then blocks reading new entries
// until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.redis.EnsureConsumerGroup(ctx, rediskeys.MessageStreamKey(c.backendID), rediskeys.ConsumerGroup(c.backendID)); err != nil {
		return err
	}
	if err := c.redis.EnsureConsumerGroup(ctx, rediskeys.ControlStreamKey(c.backendID), rediskeys.ConsumerGroup(c.backendID)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		entries, err := c.redis.ReadGroupBoth(ctx, c.backendID, c.name, readCount, blockInterval)
		if err != nil {
			if errkind.Is(err, errkind.UpstreamUnavailable) {
				c.log.Warn("mailbox: read failed, retrying: %v", err)
				time.Sleep(time.Second)
				continue
			}
			return err
		}

		for _, e := range entries {
			c.dispatch(e)
		}
	}
}

func (c *Consumer) dispatch(e rediskeys.StreamEntry) {
	switch e.Stream {
	case rediskeys.MessageStreamKey(c.backendID):
		c.deliverMessage(e)
	case rediskeys.ControlStreamKey(c.backendID):
		c.handleControl(e)
	default:
		c.log.Warn("mailbox: entry from unexpected stream %q", e.Stream)
	}
}

func (c *Consumer) deliverMessage(e rediskeys.StreamEntry) {
	from, to, content, ok := parseChatEntry(e)
	if !ok {
		c.log.Warn("mailbox: malformed message-stream entry %s", e.ID)
		return
	}

	peer, found := c.registry.Get(to)
	if !found {
		return // recipient disconnected since the cross-node publish, drop
	}
	sess, ok := peer.(Session)
	if !ok {
		return
	}
	if err := sess.Send(frame.ChatMsgToClient, frame.PutUID(from, []byte(content))); err != nil {
		c.log.Warn("mailbox: delivering to uid %d failed: %v", to, err)
	}
}

func (c *Consumer) handleControl(e rediskeys.StreamEntry) {
	typ, _ := e.Values["type"].(string)
	if typ != "kick" {
		c.log.Warn("mailbox: unknown control entry type %q", typ)
		return
	}

	uidStr, _ := e.Values["uid"].(string)
	uid, err := strconv.ParseUint(uidStr, 10, 64)
	if err != nil {
		c.log.Warn("mailbox: malformed kick uid %q", uidStr)
		return
	}

	sess, found := c.registry.Get(uid)
	if !found {
		return
	}
	sess.Close()
}

func parseChatEntry(e rediskeys.StreamEntry) (from, to uint64, content string, ok bool) {
	fromStr, _ := e.Values["from"].(string)
	toStr, _ := e.Values["to"].(string)
	content, _ = e.Values["content"].(string)

	from, err := strconv.ParseUint(fromStr, 10, 64)
	if err != nil {
		return 0, 0, "", false
	}
	to, err = strconv.ParseUint(toStr, 10, 64)
	if err != nil {
		return 0, 0, "", false
	}
	return from, to, content, true
}
