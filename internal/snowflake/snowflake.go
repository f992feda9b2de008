// Package snowflake generates 64-bit monotonic user ids for registration:
// 42 bits of milliseconds since a custom epoch, 10 bits of worker id, 12
// bits of intra-millisecond sequence.
package snowflake

import (
	"sync"
	"time"

	"github.com/relaychat/relaychat/internal/errkind"
)

const (
	workerBits   = 10
	sequenceBits = 12

	maxWorker   = (1 << workerBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	timestampShift = workerBits + sequenceBits
	workerShift    = sequenceBits
)

// Epoch is the custom epoch ids are measured from (2024-01-01 UTC).
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator mints strictly-monotonic 64-bit ids for one worker.
type Generator struct {
	mu        sync.Mutex
	workerID  uint64
	lastMs    int64
	seq       uint64
	spinBudget time.Duration // 0 => never spin, surface CLOCK_REGRESSION immediately
	now       func() time.Time
}

// New builds a Generator for workerID (must fit in 10 bits). spinBudget
// bounds how long Next will busy-wait on a clock regression before giving
// up and returning errkind.ClockRegression; 0 means fail immediately
// instead of spinning.
func New(workerID uint32, spinBudget time.Duration) (*Generator, error) {
	if workerID > maxWorker {
		return nil, errkind.New(errkind.Internal, "worker id exceeds 10 bits")
	}
	return &Generator{
		workerID:   uint64(workerID),
		spinBudget: spinBudget,
		now:        time.Now,
	}, nil
}

// Next mints the next id, strictly greater than every id this generator
// has produced before.
func (g *Generator) Next() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.nowMs()
	if ms < g.lastMs {
		if g.spinBudget <= 0 {
			return 0, errkind.New(errkind.ClockRegression, "system clock moved backwards")
		}
		deadline := time.Now().Add(g.spinBudget)
		for ms < g.lastMs {
			if time.Now().After(deadline) {
				return 0, errkind.New(errkind.ClockRegression, "system clock moved backwards, spin budget exhausted")
			}
			time.Sleep(time.Millisecond)
			ms = g.nowMs()
		}
	}

	if ms == g.lastMs {
		g.seq = (g.seq + 1) & maxSequence
		if g.seq == 0 {
			// Sequence exhausted within this millisecond: spin to the next one.
			for ms <= g.lastMs {
				time.Sleep(time.Microsecond * 100)
				ms = g.nowMs()
			}
		}
	} else {
		g.seq = 0
	}
	g.lastMs = ms

	id := (uint64(ms) << timestampShift) | (g.workerID << workerShift) | g.seq
	return id, nil
}

func (g *Generator) nowMs() int64 {
	return g.now().Sub(Epoch).Milliseconds()
}
