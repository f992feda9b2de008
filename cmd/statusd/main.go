// Command statusd runs the central status service: the load balancer
// tracking live backends and the Redis mirror that republishes a
// snapshot of that state for anything that prefers to poll Redis instead
// of calling the RPC surface directly.
package main

import (
	"context"
	"net"
	"net/rpc"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kataras/golog"

	"github.com/relaychat/relaychat/internal/chatlog"
	"github.com/relaychat/relaychat/internal/loadbalancer"
	"github.com/relaychat/relaychat/internal/rediskeys"
	"github.com/relaychat/relaychat/internal/statusmirror"
	"github.com/relaychat/relaychat/internal/statusrpc"
	"github.com/relaychat/relaychat/internal/statussvc"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	log := chatlog.NewGologLogger(golog.New())
	log.SetLevel(chatlog.LogLevelInfo)

	rpcAddr := getEnv("STATUSD_RPC_ADDR", ":7000")
	redisAddr := getEnv("STATUSD_REDIS_ADDR", "127.0.0.1:6379")
	mirrorIntervalSec, _ := strconv.Atoi(getEnv("STATUSD_MIRROR_INTERVAL_SECONDS", "15"))

	redisClient := rediskeys.New(rediskeys.Options{Addr: redisAddr})
	defer redisClient.Close()

	lb := loadbalancer.New()
	mirror := statusmirror.New(lb, redisClient, time.Duration(mirrorIntervalSec)*time.Second, log)
	svc := statussvc.New(lb, mirror, log)

	rpcSrv := rpc.NewServer()
	if err := rpcSrv.RegisterName("Service", statusrpc.NewService(svc)); err != nil {
		log.Error("statusd: registering RPC service failed: %v", err)
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", rpcAddr)
	if err != nil {
		log.Error("statusd: listen %s failed: %v", rpcAddr, err)
		os.Exit(1)
	}
	log.Info("statusd: RPC listening on %s", rpcAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go mirror.Run(ctx)
	go rpcSrv.Accept(ln)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("statusd: shutting down")
	cancel()
	ln.Close()
}
