// Package rediskeys is the typed Redis client shared by the gateway,
// backend, and status service. It owns every key shape the system uses:
// tokens, login claims, the userinfo cache, the server_list mirror, and
// the per-backend stream pair, all behind one client.
package rediskeys

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/relaychat/relaychat/internal/errkind"
)

// Options configures the Redis connection: address, credentials, DB
// index, and the TTLs each key family uses.
type Options struct {
	Addr     string
	Password string
	DB       int

	TokenTTL    time.Duration // default 50s, long enough to cover the VERIFY round trip
	ClaimTTL    time.Duration // default 60s
	UserInfoTTL time.Duration // default 1h
	MirrorTTL   time.Duration // default 40s
	StreamMaxLen int64        // default 1000, approximate trim
}

func (o *Options) setDefaults() {
	if o.TokenTTL == 0 {
		o.TokenTTL = 50 * time.Second
	}
	if o.ClaimTTL == 0 {
		o.ClaimTTL = 60 * time.Second
	}
	if o.UserInfoTTL == 0 {
		o.UserInfoTTL = time.Hour
	}
	if o.MirrorTTL == 0 {
		o.MirrorTTL = 40 * time.Second
	}
	if o.StreamMaxLen == 0 {
		o.StreamMaxLen = 1000
	}
}

// Client wraps a go-redis client with the chat fabric's key conventions.
type Client struct {
	rdb *redis.Client
	opt Options
}

// New builds a Client, opening (lazily, go-redis style) a connection to
// opt.Addr.
func New(opt Options) *Client {
	opt.setDefaults()
	rdb := redis.NewClient(&redis.Options{
		Addr:     opt.Addr,
		Password: opt.Password,
		DB:       opt.DB,
	})
	return &Client{rdb: rdb, opt: opt}
}

// NewWithClient wraps an already-constructed *redis.Client — used by tests
// that point at miniredis.
func NewWithClient(rdb *redis.Client, opt Options) *Client {
	opt.setDefaults()
	return &Client{rdb: rdb, opt: opt}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// ---- tokens: token:{t} -> uid, TTL ~50s ----

// MintToken creates a fresh 24-byte random, URL-safe base64 token mapping
// to uid, and stores it with the configured token TTL.
func (c *Client) MintToken(ctx context.Context, uid uint64) (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", errkind.Wrap(errkind.Internal, "generating token", err)
	}
	token := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(raw)

	key := tokenKey(token)
	if err := c.rdb.Set(ctx, key, uid, c.opt.TokenTTL).Err(); err != nil {
		return "", errkind.Wrap(errkind.UpstreamUnavailable, "storing token", err)
	}
	return token, nil
}

// ResolveToken looks up token:{t} -> uid. Callers are expected to use a
// token exactly once, during the VERIFY handshake; the token is left in
// place rather than deleted here, so a retried VERIFY within the TTL still
// succeeds.
func (c *Client) ResolveToken(ctx context.Context, token string) (uid uint64, err error) {
	v, err := c.rdb.Get(ctx, tokenKey(token)).Uint64()
	if err == redis.Nil {
		return 0, errkind.New(errkind.NotFound, "token not found")
	}
	if err != nil {
		return 0, errkind.Wrap(errkind.UpstreamUnavailable, "resolving token", err)
	}
	return v, nil
}

func tokenKey(token string) string { return "token:" + token }

// ---- login claim: status:{uid} hash {server_id, status} ----

const (
	claimFieldServerID = "server_id"
	claimFieldStatus   = "status"

	claimStatusVerifyed = "verifyed" // matches original wire vocabulary verbatim
	claimServerIDUnset  = "unset"
)

// ClaimLogin enforces single-login: if status:{uid} already carries a
// server_id, it returns that occupying id and claimed=false. Otherwise it
// atomically creates {server_id=unset, status=verifyed} with the claim TTL
// and returns claimed=true.
func (c *Client) ClaimLogin(ctx context.Context, uid uint64) (occupyingServerID string, claimed bool, err error) {
	key := statusKey(uid)

	// Atomic script: HSETNX-style create-if-absent across both fields plus
	// EXPIRE, returning the existing server_id if the hash already exists.
	res, err := claimLoginScript.Run(ctx, c.rdb, []string{key},
		claimFieldServerID, claimFieldStatus, claimServerIDUnset, claimStatusVerifyed,
		int64(c.opt.ClaimTTL/time.Second)).Result()
	if err != nil {
		return "", false, errkind.Wrap(errkind.UpstreamUnavailable, "claiming login", err)
	}

	existing, _ := res.(string)
	if existing != "" {
		return existing, false, nil
	}
	return "", true, nil
}

// claimLoginScript: KEYS[1]=status key, ARGV = serverIDField, statusField,
// unsetValue, verifyedValue, ttlSeconds.
// The server_id field's mere presence marks the uid occupied, even while
// it still holds the "unset" placeholder written by the first claim and
// not yet overwritten by ClaimSetServerID — a second login must not slip
// through that window. If the field is present at all, return it
// unchanged. Otherwise (re)create the hash with the default fields and
// TTL, return "".
var claimLoginScript = redis.NewScript(`
local existing = redis.call('HGET', KEYS[1], ARGV[1])
if existing and existing ~= '' then
  return existing
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3], ARGV[2], ARGV[4])
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[5]))
return ''
`)

// ClaimSetServerID writes the backend id that actually verified the
// session, called from the VERIFY handler once a session is promoted.
func (c *Client) ClaimSetServerID(ctx context.Context, uid uint64, serverID uint32) error {
	key := statusKey(uid)
	if err := c.rdb.HSet(ctx, key, claimFieldServerID, serverID).Err(); err != nil {
		return errkind.Wrap(errkind.UpstreamUnavailable, "setting claim server id", err)
	}
	return nil
}

// ClaimServerID reads the server_id field of status:{uid}, used by
// msgworker's location resolution on a local registry miss.
func (c *Client) ClaimServerID(ctx context.Context, uid uint64) (serverID uint32, ok bool, err error) {
	v, err := c.rdb.HGet(ctx, statusKey(uid), claimFieldServerID).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errkind.Wrap(errkind.UpstreamUnavailable, "resolving user location", err)
	}
	if v == "" || v == claimServerIDUnset {
		return 0, false, nil
	}
	var parsed uint32
	if _, scanErr := fmt.Sscanf(v, "%d", &parsed); scanErr != nil {
		return 0, false, nil
	}
	return parsed, true, nil
}

// RefreshClaimTTL pipelines HEXPIRE for every uid's authoritative fields,
// plus an EXPIRE on the status:{uid} key itself so the key-level TTL set at
// claim time is refreshed too — the online-status writer's batched
// refresh (C13).
func (c *Client) RefreshClaimTTL(ctx context.Context, uids []uint64, ttl time.Duration) error {
	if len(uids) == 0 {
		return nil
	}
	pipe := c.rdb.Pipeline()
	for _, uid := range uids {
		pipe.HExpire(ctx, statusKey(uid), ttl, claimFieldServerID, claimFieldStatus)
		pipe.Expire(ctx, statusKey(uid), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errkind.Wrap(errkind.UpstreamUnavailable, "refreshing claim ttl", err)
	}
	return nil
}

// DeleteClaim removes status:{uid} entirely — used on session close.
func (c *Client) DeleteClaim(ctx context.Context, uid uint64) error {
	if err := c.rdb.Del(ctx, statusKey(uid)).Err(); err != nil {
		return errkind.Wrap(errkind.UpstreamUnavailable, "deleting claim", err)
	}
	return nil
}

func statusKey(uid uint64) string { return fmt.Sprintf("status:%d", uid) }

// ---- userinfo cache: userinfo:{uid} hash, best-effort ----

// RefreshUserInfo writes a best-effort hash cache of user fields with a 1h
// TTL. Failures here are warnings only — never fail the login caller.
func (c *Client) RefreshUserInfo(ctx context.Context, uid uint64, fields map[string]any) error {
	key := fmt.Sprintf("userinfo:%d", uid)
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, c.opt.UserInfoTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// ---- server_list mirror: hash mirroring the load-balancer snapshot ----

const serverListKey = "server_list"

// PushServerList overwrites server_list with the given snapshot, each
// field the backend address keyed by id, and refreshes the mirror TTL.
func (c *Client) PushServerList(ctx context.Context, entries map[uint32]string) error {
	key := serverListKey
	pipe := c.rdb.Pipeline()
	pipe.Del(ctx, key)
	if len(entries) > 0 {
		fields := make(map[string]any, len(entries))
		for id, v := range entries {
			fields[fmt.Sprintf("%d", id)] = v
		}
		pipe.HSet(ctx, key, fields)
	}
	pipe.Expire(ctx, key, c.opt.MirrorTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return errkind.Wrap(errkind.UpstreamUnavailable, "pushing server_list mirror", err)
	}
	return nil
}

// ---- tmplock: optimistic critical section, set-if-absent + CAS delete ----

// TryLock attempts to acquire tmplock:{name} with a random token, TTL-
// bounded. A belt-and-suspenders guard so only one process's mirror push
// runs at a time, layered on top of the in-process signal coalescing the
// mirror worker already does.
func (c *Client) TryLock(ctx context.Context, name string, ttl time.Duration) (token string, acquired bool, err error) {
	raw := make([]byte, 8)
	if _, rErr := rand.Read(raw); rErr != nil {
		return "", false, errkind.Wrap(errkind.Internal, "generating lock token", rErr)
	}
	token = fmt.Sprintf("%x.%d", binary.BigEndian.Uint64(raw), time.Now().UnixNano())

	ok, err := c.rdb.SetNX(ctx, tmpLockKey(name), token, ttl).Result()
	if err != nil {
		return "", false, errkind.Wrap(errkind.UpstreamUnavailable, "acquiring tmplock", err)
	}
	return token, ok, nil
}

// Unlock releases the lock iff it still holds the token we set — a
// compare-and-delete so a slow holder never deletes a lock a newer holder
// already re-acquired after TTL expiry.
func (c *Client) Unlock(ctx context.Context, name, token string) error {
	if err := unlockScript.Run(ctx, c.rdb, []string{tmpLockKey(name)}, token).Err(); err != nil {
		return errkind.Wrap(errkind.UpstreamUnavailable, "releasing tmplock", err)
	}
	return nil
}

var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

func tmpLockKey(name string) string { return "tmplock:" + name }
