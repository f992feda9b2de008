// Package reporter is the backend-side periodic status reporter: every
// interval it reports this backend's current load to the status
// service, re-registering if the status service has forgotten it (e.g.
// after its own restart).
package reporter

import (
	"context"
	"time"

	"github.com/relaychat/relaychat/internal/chatlog"
	"github.com/relaychat/relaychat/internal/statusrpc"
)

// Counts returns the current verified and temp session counts this
// backend reports as its load.
type Counts func() (verified, temp int)

// Reporter periodically reports load to the status service over RPC.
type Reporter struct {
	client   *statusrpc.Client
	id       uint32
	addr     string
	counts   Counts
	interval time.Duration
	kick     chan struct{}
	onReady  func() // called once after a successful (re-)register
	log      chatlog.Logger
}

// New builds a Reporter for backend (id, addr), reporting every interval
// (default 15s if 0). onReady, if non-nil, runs once after every
// successful register. cmd/backend passes a callback that only logs the
// registration; no presence is written on register.
func New(client *statusrpc.Client, id uint32, addr string, counts Counts, interval time.Duration, onReady func(), log chatlog.Logger) *Reporter {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Reporter{
		client:   client,
		id:       id,
		addr:     addr,
		counts:   counts,
		interval: interval,
		kick:     make(chan struct{}, 1),
		onReady:  onReady,
		log:      log,
	}
}

// UpdateNow requests an out-of-band report, collapsing with any other
// pending request.
func (r *Reporter) UpdateNow() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run drives the periodic report loop until ctx is canceled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.register(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report(ctx)
		case <-r.kick:
			ticker.Reset(r.interval)
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	verified, temp := r.counts()
	load := uint32(verified + temp)

	found, err := r.client.ReportServerLoad(r.id, load)
	if err != nil {
		r.log.Error("reporter: ReportServerLoad failed: %v", err)
		return
	}
	if !found {
		r.register(ctx)
	}
}

func (r *Reporter) register(ctx context.Context) {
	verified, temp := r.counts()
	load := uint32(verified + temp)

	if err := r.client.RegisterServer(r.id, r.addr, load); err != nil {
		r.log.Error("reporter: RegisterServer failed: %v", err)
		return
	}
	if r.onReady != nil {
		r.onReady()
	}
}
