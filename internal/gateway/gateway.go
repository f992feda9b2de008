// Package gateway implements the stateless HTTP front door clients hit
// once to authenticate: verify credentials against the user store, pick
// the least-loaded backend from the status service, claim single-login
// against Redis, mint a short-lived token, and hand the client back
// everything it needs to open a framed session directly against that
// backend. Registration runs the same credential store behind a
// snowflake-minted uid.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/relaychat/relaychat/internal/chatlog"
	"github.com/relaychat/relaychat/internal/errkind"
	"github.com/relaychat/relaychat/internal/rediskeys"
	"github.com/relaychat/relaychat/internal/snowflake"
	"github.com/relaychat/relaychat/internal/statusrpc"
	"github.com/relaychat/relaychat/internal/userstore"
)

// Config carries the tunables the login pipeline needs beyond its
// collaborators. TokenTTL lives on rediskeys.Options, not here — Gateway
// only decides the HTTP surface and request timeouts.
type Config struct {
	RequestTimeout time.Duration // default 5s
}

func (c *Config) setDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 5 * time.Second
	}
}

// Gateway wires the user store, the status RPC client, the Redis client,
// and a snowflake uid generator behind the HTTP login/register/ping
// surface.
type Gateway struct {
	store  userstore.Store
	status *statusrpc.Client
	redis  *rediskeys.Client
	ids    *snowflake.Generator
	cfg    Config
	log    chatlog.Logger
}

// New builds a Gateway. ids mints uids for registration only; login never
// touches it.
func New(store userstore.Store, status *statusrpc.Client, redis *rediskeys.Client, ids *snowflake.Generator, cfg Config, log chatlog.Logger) *Gateway {
	cfg.setDefaults()
	return &Gateway{store: store, status: status, redis: redis, ids: ids, cfg: cfg, log: log}
}

// Mux builds the HTTP handler: POST /login, POST /register, GET /ping.
func (g *Gateway) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", g.handleLogin)
	mux.HandleFunc("/register", g.handleRegister)
	mux.HandleFunc("/ping", g.handlePing)
	return mux
}

type loginRequest struct {
	Username string `json:"username"`
	Passcode string `json:"passcode"`
}

type loginReply struct {
	Token      string `json:"token"`
	ServerAddr string `json:"server_addr"`
	UID        uint64 `json:"uid"`
}

type conflictReply struct {
	OccupyingServerID string `json:"occupying_server_id"`
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFault(w, errkind.New(errkind.BadRequest, "malformed request body"), g.log)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.RequestTimeout)
	defer cancel()

	reply, fault := g.login(ctx, req.Username, req.Passcode)
	if fault != nil {
		writeFault(w, fault, g.log)
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

// login runs the six-step pipeline: verify, pick backend, refresh cache
// (best-effort), claim single-login, mint token, reply.
func (g *Gateway) login(ctx context.Context, username, passcode string) (*loginReply, error) {
	uid, err := g.store.Verify(ctx, username, passcode)
	if err != nil {
		return nil, err
	}

	backendID, addr, found, err := g.status.CheckMinimalLoadServer()
	if err != nil {
		return nil, errkind.Wrap(errkind.UpstreamUnavailable, "contacting status service", err)
	}
	if !found {
		return nil, errkind.New(errkind.NoBackendAvailable, "no backend is currently registered")
	}

	if err := g.redis.RefreshUserInfo(ctx, uid, map[string]any{"username": username}); err != nil {
		g.log.Warn("gateway: refreshing userinfo cache for uid %d failed: %v", uid, err)
	}

	occupying, claimed, err := g.redis.ClaimLogin(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, errkind.New(errkind.Conflict, occupying)
	}

	token, err := g.redis.MintToken(ctx, uid)
	if err != nil {
		return nil, err
	}

	return &loginReply{Token: token, ServerAddr: addr, UID: uid}, nil
}

// KickAndRetry is the alternate duplicate-login policy: publish a kick to
// the occupying backend's control stream, then retry the claim once. The
// default HTTP handler does not call this — an operator wires it in as a
// separate pipeline entry point when "kick the old session" is the
// desired behavior instead of "reject and let the client retry."
func (g *Gateway) KickAndRetry(ctx context.Context, uid uint64, occupyingServerID uint32) (claimed bool, err error) {
	if err := g.redis.PublishKick(ctx, occupyingServerID, uid); err != nil {
		return false, err
	}
	_, claimed, err = g.redis.ClaimLogin(ctx, uid)
	return claimed, err
}

type registerRequest struct {
	Username string `json:"username"`
	Passcode string `json:"passcode"`
}

type registerReply struct {
	Result  int    `json:"result"`
	Message string `json:"message"`
}

func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFault(w, errkind.New(errkind.BadRequest, "malformed request body"), g.log)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.RequestTimeout)
	defer cancel()

	if err := g.register(ctx, req.Username, req.Passcode); err != nil {
		writeFault(w, err, g.log)
		return
	}

	writeJSON(w, http.StatusOK, registerReply{Result: 0, Message: "success"})
}

func (g *Gateway) register(ctx context.Context, username, passcode string) error {
	uid, err := g.ids.Next()
	if err != nil {
		return err
	}
	return g.store.Register(ctx, uid, username, passcode)
}

func (g *Gateway) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("pong"))
}

// writeFault renders a Fault as the HTTP status the error design assigns
// it. Anything not explicitly named collapses to 500 — callers downstream
// of this boundary never see Kind, only a status code and a message.
func writeFault(w http.ResponseWriter, err error, log chatlog.Logger) {
	var f *errkind.Fault
	if !errkind.As(err, &f) {
		log.Error("gateway: unclassified error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	switch f.Kind {
	case errkind.BadRequest:
		http.Error(w, f.Msg, http.StatusBadRequest)
	case errkind.BadCredentials:
		http.Error(w, "bad credentials", http.StatusForbidden)
	case errkind.AlreadyExists:
		http.Error(w, "username already taken", http.StatusForbidden)
	case errkind.Conflict:
		writeJSON(w, http.StatusConflict, conflictReply{OccupyingServerID: f.Msg})
	default:
		log.Error("gateway: %v", f)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
