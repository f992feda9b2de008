package rediskeys

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewWithClient(rdb, Options{}), mr
}

func TestMintAndResolveToken(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	token, err := c.MintToken(ctx, 7)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	uid, err := c.ResolveToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), uid)
}

func TestResolveToken_Missing(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.ResolveToken(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestClaimLogin_FirstThenSecond(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	occupying, claimed, err := c.ClaimLogin(ctx, 42)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Empty(t, occupying)

	require.NoError(t, c.ClaimSetServerID(ctx, 42, 100))

	occupying2, claimed2, err := c.ClaimLogin(ctx, 42)
	require.NoError(t, err)
	assert.False(t, claimed2)
	assert.Equal(t, "100", occupying2)
}

func TestClaimLogin_SecondClaimBeforeVerifyRejected(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	occupying, claimed, err := c.ClaimLogin(ctx, 42)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Empty(t, occupying)

	// No ClaimSetServerID yet: status:{uid} still carries server_id=unset.
	// A second claim in this window must still be rejected.
	occupying2, claimed2, err := c.ClaimLogin(ctx, 42)
	require.NoError(t, err)
	assert.False(t, claimed2)
	assert.Equal(t, claimServerIDUnset, occupying2)
}

func TestClaimServerID_ResolvesLocation(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.ClaimServerID(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = c.ClaimLogin(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, c.ClaimSetServerID(ctx, 1, 200))

	id, ok, err := c.ClaimServerID(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(200), id)
}

func TestDeleteClaim(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	_, _, _ = c.ClaimLogin(ctx, 5)
	require.NoError(t, c.DeleteClaim(ctx, 5))

	_, claimed, err := c.ClaimLogin(ctx, 5)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestPushServerList(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	err := c.PushServerList(ctx, map[uint32]string{1: "a:1,5,123", 2: "b:1,9,456"})
	require.NoError(t, err)
	assert.True(t, mr.Exists(serverListKey))
}

func TestTryLockAndUnlock(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	token, acquired, err := c.TryLock(ctx, "mirror", time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)

	_, acquired2, err := c.TryLock(ctx, "mirror", time.Second)
	require.NoError(t, err)
	assert.False(t, acquired2, "second acquire should fail while held")

	require.NoError(t, c.Unlock(ctx, "mirror", token))

	_, acquired3, err := c.TryLock(ctx, "mirror", time.Second)
	require.NoError(t, err)
	assert.True(t, acquired3, "should be free after unlock")
}

func TestPublishAndEnsureGroup(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	stream := MessageStreamKey(100)
	group := ConsumerGroup(100)
	require.NoError(t, c.EnsureConsumerGroup(ctx, stream, group))
	// idempotent: creating again must not error
	require.NoError(t, c.EnsureConsumerGroup(ctx, stream, group))

	require.NoError(t, c.PublishChatMessage(ctx, 100, ChatMessage{From: 1, To: 2, Content: "hi"}))
}
