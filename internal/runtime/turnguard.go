package runtime

import (
	"context"
	"sync"

	"github.com/casaflow/chatcore/internal/model"
)

// turn is the handle for one in-flight send. Its context is cancelled either
// by CancelResponse or by the parent context.
type turn struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// turnGuard admits at most one turn at a time, failing fast instead of
// queuing.
type turnGuard struct {
	mu       sync.Mutex
	inflight *turn
}

func newTurnGuard() *turnGuard {
	return &turnGuard{}
}

// begin admits a new turn or returns model.ErrConcurrentSend if one is
// already in flight.
func (g *turnGuard) begin(ctx context.Context) (*turn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight != nil {
		sendsRejected.Inc()
		return nil, model.ErrConcurrentSend
	}
	tctx, cancel := context.WithCancel(ctx)
	t := &turn{ctx: tctx, cancel: cancel}
	g.inflight = t
	return t, nil
}

// end releases the slot held by t. Pointer identity matters: if t was
// already evicted by cancel and a new turn has begun, the new turn's slot is
// left untouched.
func (g *turnGuard) end(t *turn) {
	t.cancel()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight == t {
		g.inflight = nil
	}
}

// cancel aborts the in-flight turn, if any, and frees the slot right away so
// a new send can start before the cancelled one finishes unwinding. Reports
// whether a turn was actually cancelled.
func (g *turnGuard) cancel() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight == nil {
		return false
	}
	g.inflight.cancel()
	g.inflight = nil
	return true
}
