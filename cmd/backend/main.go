// Command backend runs one chat node: it accepts framed TCP connections
// from clients already holding a gateway-issued token, dispatches
// messages through the single message worker, mirrors cross-node traffic
// through its Redis stream pair, and reports its own load back to the
// status service.
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
	"golang.org/x/sync/errgroup"

	"github.com/relaychat/relaychat/internal/chatlog"
	"github.com/relaychat/relaychat/internal/mailbox"
	"github.com/relaychat/relaychat/internal/msgworker"
	"github.com/relaychat/relaychat/internal/presence"
	"github.com/relaychat/relaychat/internal/rediskeys"
	"github.com/relaychat/relaychat/internal/registry"
	"github.com/relaychat/relaychat/internal/reporter"
	"github.com/relaychat/relaychat/internal/session"
	"github.com/relaychat/relaychat/internal/statusrpc"
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

	listenAddr := getEnv("BACKEND_LISTEN_ADDR", ":1235")
	advertiseAddr := getEnv("BACKEND_ADVERTISE_ADDR", "127.0.0.1:1235")
	statusAddr := getEnv("BACKEND_STATUS_ADDR", "127.0.0.1:7000")
	redisAddr := getEnv("BACKEND_REDIS_ADDR", "127.0.0.1:6379")
	backendIDInt, _ := strconv.Atoi(getEnv("BACKEND_ID", "100"))
	backendID := uint32(backendIDInt)

	redisClient := rediskeys.New(rediskeys.Options{Addr: redisAddr})
	defer redisClient.Close()

	reg := registry.New()
	pres := presence.New(redisClient, 10*time.Second, log)
	worker := msgworker.New(256, reg, redisClient, pres, backendID, log)
	consumer := mailbox.New(redisClient, reg, backendID, "consumer-1", log)

	rpcConn, err := rpc.Dial("tcp", statusAddr)
	if err != nil {
		log.Error("backend: dialing status service at %s failed: %v", statusAddr, err)
		os.Exit(1)
	}
	statusClient := statusrpc.NewClient(rpcConn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rep := reporter.New(statusClient, backendID, advertiseAddr, func() (int, int) {
		return reg.Counts()
	}, 15*time.Second, func() {
		log.Info("backend: registered with status service as id=%d addr=%s", backendID, advertiseAddr)
	}, log)

	var group errgroup.Group
	group.Go(func() error { worker.Run(ctx); return nil })
	group.Go(func() error { pres.Run(ctx); return nil })
	group.Go(func() error { rep.Run(ctx); return nil })
	group.Go(func() error { return consumer.Run(ctx) })

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Error("backend: listen %s failed: %v", listenAddr, err)
		os.Exit(1)
	}
	log.Info("backend: listening on %s (id=%d)", listenAddr, backendID)

	go acceptLoop(ctx, ln, worker, reg, redisClient, backendID, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("backend: shutting down")
	cancel()
	ln.Close()
	if err := group.Wait(); err != nil {
		log.Error("backend: background worker exited with error: %v", err)
	}
}

func acceptLoop(ctx context.Context, ln net.Listener, worker *msgworker.Worker, reg *registry.Registry, redisClient *rediskeys.Client, backendID uint32, log chatlog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Warn("backend: accept failed: %v", err)
				continue
			}
		}

		sess := session.New(conn, worker, reg, redisClient, backendID, log)
		reg.AddTemp(sess)
		go sess.Start(ctx)
	}
}
