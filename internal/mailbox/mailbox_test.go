package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relaychat/internal/chatlog"
	"github.com/relaychat/relaychat/internal/frame"
	"github.com/relaychat/relaychat/internal/registry"
	"github.com/relaychat/relaychat/internal/rediskeys"
)

type fakeSession struct {
	sent   []frame.Frame
	closed int
}

func (f *fakeSession) Close() error {
	f.closed++
	return nil
}
func (f *fakeSession) Send(tag frame.Tag, payload []byte) error {
	f.sent = append(f.sent, frame.Frame{Tag: tag, Payload: payload})
	return nil
}

func newTestConsumer(t *testing.T, backendID uint32) (*Consumer, *rediskeys.Client, *registry.Registry) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := rediskeys.NewWithClient(rdb, rediskeys.Options{})
	reg := registry.New()
	log := chatlog.NewDefaultLogger(chatlog.LogLevelError)
	c := New(client, reg, backendID, "consumer-1", log)
	return c, client, reg
}

func TestConsumer_DeliversMessageToLocalSession(t *testing.T) {
	c, client, reg := newTestConsumer(t, 100)
	ctx := context.Background()

	require.NoError(t, client.EnsureConsumerGroup(ctx, rediskeys.MessageStreamKey(100), rediskeys.ConsumerGroup(100)))
	require.NoError(t, client.EnsureConsumerGroup(ctx, rediskeys.ControlStreamKey(100), rediskeys.ConsumerGroup(100)))
	require.NoError(t, client.PublishChatMessage(ctx, 100, rediskeys.ChatMessage{From: 7, To: 42, Content: "hi"}))

	sess := &fakeSession{}
	reg.AddTemp(sess)
	require.True(t, reg.Promote(42, sess))

	entries, err := client.ReadGroupBoth(ctx, 100, "consumer-1", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	c.dispatch(entries[0])

	require.Len(t, sess.sent, 1)
	assert.Equal(t, frame.ChatMsgToClient, sess.sent[0].Tag)
	gotFrom, content, err := frame.SplitUID(sess.sent[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), gotFrom)
	assert.Equal(t, "hi", string(content))
}

func TestConsumer_MessageForUnknownRecipientDropped(t *testing.T) {
	c, client, _ := newTestConsumer(t, 100)
	ctx := context.Background()

	require.NoError(t, client.EnsureConsumerGroup(ctx, rediskeys.MessageStreamKey(100), rediskeys.ConsumerGroup(100)))
	require.NoError(t, client.EnsureConsumerGroup(ctx, rediskeys.ControlStreamKey(100), rediskeys.ConsumerGroup(100)))
	require.NoError(t, client.PublishChatMessage(ctx, 100, rediskeys.ChatMessage{From: 7, To: 999, Content: "hi"}))

	entries, err := client.ReadGroupBoth(ctx, 100, "consumer-1", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	c.dispatch(entries[0]) // must not panic
}

func TestConsumer_KickClosesSession(t *testing.T) {
	c, client, reg := newTestConsumer(t, 100)
	ctx := context.Background()

	require.NoError(t, client.EnsureConsumerGroup(ctx, rediskeys.MessageStreamKey(100), rediskeys.ConsumerGroup(100)))
	require.NoError(t, client.EnsureConsumerGroup(ctx, rediskeys.ControlStreamKey(100), rediskeys.ConsumerGroup(100)))
	require.NoError(t, client.PublishKick(ctx, 100, 42))

	sess := &fakeSession{}
	reg.AddTemp(sess)
	require.True(t, reg.Promote(42, sess))

	entries, err := client.ReadGroupBoth(ctx, 100, "consumer-1", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	c.dispatch(entries[0])

	assert.Equal(t, 1, sess.closed)
}

func TestConsumer_Run_StopsOnContextCancel(t *testing.T) {
	c, _, _ := newTestConsumer(t, 100)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after context cancel")
	}
}
