// Package pump implements the single-threaded cooperative event loop:
// wait for a tick-or-data signal, run one protocol-engine tick under the
// stack thread-safety lock, fan out pending events to clients, release
// the lock, repeat.
//
// The tick-acquire-release pattern mirrors the single-threaded run loop of
// the picoTCP-based reference implementation this component replaces.
package pump

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hensoldt-cyber/networkstackd/internal/engine"
	"github.com/hensoldt-cyber/networkstackd/internal/logging"
	"github.com/hensoldt-cyber/networkstackd/internal/metrics"
	"github.com/hensoldt-cyber/networkstackd/internal/socktable"
)

// Notifier delivers a "you have pending events" signal to one client,
// e.g. by signalling the client's CAmkES notification object. The RPC
// layer's getPendingEvents reads the harvested records; Notifier only
// needs to wake the client up.
type Notifier interface {
	Notify(clientIdx int)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(clientIdx int)

func (f NotifierFunc) Notify(clientIdx int) { f(clientIdx) }

// ChannelNotifier delivers the wakeup as a non-blocking send on a
// per-client buffered channel, one per registered client index. A client
// that hasn't drained its previous wakeup simply misses the redundant
// signal; it will still observe the pending events on its next
// getPendingEvents call.
type ChannelNotifier struct {
	mu   sync.Mutex
	chs  map[int]chan struct{}
}

func NewChannelNotifier() *ChannelNotifier {
	return &ChannelNotifier{chs: make(map[int]chan struct{})}
}

// Register creates (or returns the existing) wakeup channel for clientIdx.
func (c *ChannelNotifier) Register(clientIdx int) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chs[clientIdx]
	if !ok {
		ch = make(chan struct{}, 1)
		c.chs[clientIdx] = ch
	}
	return ch
}

func (c *ChannelNotifier) Notify(clientIdx int) {
	c.mu.Lock()
	ch, ok := c.chs[clientIdx]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Signal is the combined tick-or-data wakeup source: a channel the pump
// selects on once per iteration. The lifecycle/driver layer pushes to it
// whenever a timer fires or the NIC signals incoming data.
type Signal <-chan struct{}

// Pump runs the cooperative loop. LoopScore bounds how many frames a
// single Engine.Tick call drains, keeping one client from starving the
// others.
type Pump struct {
	Engine    engine.Engine
	Table     *socktable.Table
	Notifier  Notifier
	LoopScore int
	Metrics   *metrics.Collector

	log logging.Logger

	mu sync.Mutex // stack_ts_lock: serializes engine.Tick against RPC calls
}

func New(eng engine.Engine, table *socktable.Table, notifier Notifier, loopScore int, log logging.Logger) *Pump {
	if log == nil {
		log = logging.Nop()
	}
	if loopScore <= 0 {
		loopScore = 16
	}
	return &Pump{Engine: eng, Table: table, Notifier: notifier, LoopScore: loopScore, log: log}
}

// Lock acquires stack_ts_lock for an RPC handler that needs to call into
// the engine outside of a tick (e.g. connect, write). Exported so
// internal/rpc can serialize against the pump's own tick calls.
func (p *Pump) Lock()   { p.mu.Lock() }
func (p *Pump) Unlock() { p.mu.Unlock() }

// Run executes the loop until ctx is cancelled or a fatal error occurs.
// A nil return (graceful exit) is itself treated as unexpected: this loop
// never returns under normal operation, so a clean return here is logged
// as a warning and surfaced to the caller as an error.
func (p *Pump) Run(ctx context.Context, signal Signal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-signal:
			if !ok {
				p.log.Warn("pump: signal source closed, treating as unexpected stack exit")
				return errUnexpectedExit
			}
		}

		if err := p.Tick(); err != nil {
			return err
		}
	}
}

// Tick runs exactly one iteration of the five-step algorithm: acquire
// stack_ts_lock, call Engine.Tick, run the fan-out pass, release. Exported
// so tests and callers driving the engine manually (outside of Run's
// signal loop) can step the pump one tick at a time.
func (p *Pump) Tick() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.Engine.Tick(p.LoopScore); err != nil {
		if p.Metrics != nil {
			p.Metrics.PumpErrors.Inc()
		}
		return err
	}
	if p.Metrics != nil {
		p.Metrics.PumpTicks.Inc()
	}
	p.fanOut()
	return nil
}

// fanOut mirrors notify_clients_about_pending_events: ask the socket
// table which clients have newly pending events (edge-triggered) and
// signal each one exactly once per tick.
func (p *Pump) fanOut() {
	if p.Notifier == nil {
		return
	}
	for _, idx := range p.Table.NotifyCandidates() {
		p.Notifier.Notify(idx)
	}
}

type unexpectedExitError struct{}

func (unexpectedExitError) Error() string { return "pump: stack returned without fatal error" }

var errUnexpectedExit = unexpectedExitError{}

// RunSupervised wraps Run in an errgroup so a caller can
// join it with other supervised goroutines (e.g. an RPC server loop) and
// have the first failure cancel the group.
func RunSupervised(ctx context.Context, p *Pump, signal Signal) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(gctx, signal)
	})
	return g, gctx
}
