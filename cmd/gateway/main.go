// Command gateway runs the stateless HTTP login/registration front door.
// It dials the status service once at startup and otherwise holds no
// session state of its own — every gateway instance behind a load
// balancer is interchangeable.
package main

import (
	"context"
	"net/http"
	"net/rpc"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kataras/golog"

	"github.com/relaychat/relaychat/internal/chatlog"
	"github.com/relaychat/relaychat/internal/gateway"
	"github.com/relaychat/relaychat/internal/rediskeys"
	"github.com/relaychat/relaychat/internal/snowflake"
	"github.com/relaychat/relaychat/internal/statusrpc"
	"github.com/relaychat/relaychat/internal/userstore"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func openStore(log chatlog.Logger) (userstore.Store, error) {
	ctx := context.Background()

	if dsn := os.Getenv("GATEWAY_POSTGRES_DSN"); dsn != "" {
		log.Info("gateway: using postgres user store")
		store, err := userstore.NewPostgresStore(ctx, userstore.PostgresOptions{ConnString: dsn})
		if err != nil {
			return nil, err
		}
		return store, store.InitSchema(ctx)
	}

	path := getEnv("GATEWAY_SQLITE_PATH", "./gateway.db")
	log.Info("gateway: using sqlite user store at %s", path)
	return userstore.NewSqliteStore(userstore.SqliteOptions{Path: path})
}

func main() {
	log := chatlog.NewGologLogger(golog.New())
	log.SetLevel(chatlog.LogLevelInfo)

	httpAddr := getEnv("GATEWAY_HTTP_ADDR", ":8080")
	statusAddr := getEnv("GATEWAY_STATUS_ADDR", "127.0.0.1:7000")
	redisAddr := getEnv("GATEWAY_REDIS_ADDR", "127.0.0.1:6379")
	workerID, _ := strconv.Atoi(getEnv("GATEWAY_WORKER_ID", "1"))

	store, err := openStore(log)
	if err != nil {
		log.Error("gateway: opening user store failed: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	rpcConn, err := rpc.Dial("tcp", statusAddr)
	if err != nil {
		log.Error("gateway: dialing status service at %s failed: %v", statusAddr, err)
		os.Exit(1)
	}
	statusClient := statusrpc.NewClient(rpcConn)

	redisClient := rediskeys.New(rediskeys.Options{Addr: redisAddr})
	defer redisClient.Close()

	ids, err := snowflake.New(uint32(workerID), 5*time.Millisecond)
	if err != nil {
		log.Error("gateway: building uid generator failed: %v", err)
		os.Exit(1)
	}

	gw := gateway.New(store, statusClient, redisClient, ids, gateway.Config{}, log)

	mux := http.NewServeMux()
	mux.Handle("/", withRequestID(gw.Mux(), log))

	srv := &http.Server{Addr: httpAddr, Handler: mux}

	go func() {
		log.Info("gateway: HTTP listening on %s", httpAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("gateway: HTTP server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("gateway: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

// withRequestID stamps every request with a correlation id and logs it,
// with the method and path, at debug level before the handler runs. The
// id is not passed on to the handler or returned in the HTTP reply.
func withRequestID(next http.Handler, log chatlog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		log.Debug("gateway: [%s] %s %s", reqID, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
