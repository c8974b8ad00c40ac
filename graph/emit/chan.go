package emit

import (
	"context"
	"sync"
)

// ChanEmitter forwards events to a channel until its context ends.
//
// It is the feed between a running workflow and the stream reconciler.
// Once ctx is done, Emit drops events instead of blocking, so a node that
// keeps emitting after the consumer went away never stalls.
type ChanEmitter struct {
	ctx context.Context
	ch  chan<- Event
}

// NewChanEmitter creates an emitter writing to ch while ctx is live.
func NewChanEmitter(ctx context.Context, ch chan<- Event) *ChanEmitter {
	return &ChanEmitter{ctx: ctx, ch: ch}
}

// Emit sends the event, or drops it if the context is done.
func (c *ChanEmitter) Emit(event Event) {
	if c.ctx.Err() != nil {
		return
	}
	select {
	case c.ch <- event:
	case <-c.ctx.Done():
	}
}

// MultiEmitter fans every event out to a fixed list of emitters, in order.
type MultiEmitter []Emitter

// Emit forwards the event to each non-nil emitter.
func (m MultiEmitter) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}

// RunDispatcher forwards each event to the emitter registered for its
// run ID. An engine built once can then feed a separate consumer per run.
type RunDispatcher struct {
	mu   sync.RWMutex
	runs map[string]Emitter
}

// NewRunDispatcher creates an empty dispatcher.
func NewRunDispatcher() *RunDispatcher {
	return &RunDispatcher{runs: make(map[string]Emitter)}
}

// Register routes runID's events to e until the returned func is called.
func (d *RunDispatcher) Register(runID string, e Emitter) (unregister func()) {
	d.mu.Lock()
	d.runs[runID] = e
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.runs, runID)
		d.mu.Unlock()
	}
}

// Emit forwards the event, or drops it when its run is not registered.
func (d *RunDispatcher) Emit(event Event) {
	d.mu.RLock()
	e := d.runs[event.RunID]
	d.mu.RUnlock()

	if e != nil {
		e.Emit(event)
	}
}
