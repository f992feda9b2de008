package rediskeys

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/relaychat/relaychat/internal/errkind"
)

// MessageStreamKey is stream:server:{id}, the durable mailbox carrying
// cross-backend chat messages.
func MessageStreamKey(backendID uint32) string { return fmt.Sprintf("stream:server:%d", backendID) }

// ControlStreamKey is stream:serverctl:{id}, carrying out-of-band commands
// (currently only kick).
func ControlStreamKey(backendID uint32) string { return fmt.Sprintf("stream:serverctl:%d", backendID) }

// ConsumerGroup is the fixed per-backend consumer group name.
func ConsumerGroup(backendID uint32) string { return fmt.Sprintf("message_group%d", backendID) }

// ChatMessage is one XADD'd message on the message stream.
type ChatMessage struct {
	From    uint64
	To      uint64
	Content string
}

// PublishChatMessage XADDs a cross-backend message, approximately trimmed
// to StreamMaxLen so a backend's mailbox stays bounded under sustained load.
func (c *Client) PublishChatMessage(ctx context.Context, toBackendID uint32, msg ChatMessage) error {
	_, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: MessageStreamKey(toBackendID),
		MaxLen: c.opt.StreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"from":    fmt.Sprintf("%d", msg.From),
			"to":      fmt.Sprintf("%d", msg.To),
			"content": msg.Content,
		},
	}).Result()
	if err != nil {
		return errkind.Wrap(errkind.UpstreamUnavailable, "publishing chat message", err)
	}
	return nil
}

// PublishKick XADDs a {type=kick, uid} control message for backendID.
func (c *Client) PublishKick(ctx context.Context, backendID uint32, uid uint64) error {
	_, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: ControlStreamKey(backendID),
		MaxLen: c.opt.StreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"type": "kick",
			"uid":  fmt.Sprintf("%d", uid),
		},
	}).Result()
	if err != nil {
		return errkind.Wrap(errkind.UpstreamUnavailable, "publishing kick", err)
	}
	return nil
}

// EnsureConsumerGroup idempotently creates group on stream, creating the
// stream itself (MKSTREAM) if it does not exist yet. A pre-existing group
// (BUSYGROUP) is swallowed so repeated calls across restarts are safe.
func (c *Client) EnsureConsumerGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errkind.Wrap(errkind.UpstreamUnavailable, "creating consumer group", err)
	}
	return nil
}

// StreamEntry is one item read back from XReadGroup, with the source
// stream attached so the mailbox consumer can dispatch by origin.
type StreamEntry struct {
	Stream string
	ID     string
	Values map[string]any
}

// ReadGroupBoth reads both the message and control streams for backendID
// in one XREADGROUP call, blocking up to blockFor with NOACK=true. A nil,
// nil return means the block timed out with nothing new — callers should
// just loop.
func (c *Client) ReadGroupBoth(ctx context.Context, backendID uint32, consumer string, count int64, blockFor time.Duration) ([]StreamEntry, error) {
	group := ConsumerGroup(backendID)
	msgStream := MessageStreamKey(backendID)
	ctlStream := ControlStreamKey(backendID)

	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{msgStream, ctlStream, ">", ">"},
		Count:    count,
		Block:    blockFor,
		NoAck:    true,
	}).Result()

	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.UpstreamUnavailable, "reading consumer group", err)
	}

	var out []StreamEntry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			out = append(out, StreamEntry{Stream: stream.Stream, ID: msg.ID, Values: msg.Values})
		}
	}
	return out, nil
}
