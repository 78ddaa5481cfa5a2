// Package worker implements the per-modality inference worker proxy: an
// orchestrator-side handle that owns one modality's backend in an isolated
// goroutine, so a slow or failing model never blocks the other modality or
// the orchestrating loop.
//
// All communication with a proxy is asynchronous message passing. Commands
// go in through non-blocking method calls; results and state transitions
// come back on the Events channel as tagged [Event] values. Within one
// proxy, results are delivered in the order the process requests were
// accepted (FIFO per modality); nothing is guaranteed between proxies.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/affectd/affectd/internal/observe"
	"github.com/affectd/affectd/pkg/emotion"
	"github.com/affectd/affectd/pkg/media"
	"github.com/affectd/affectd/pkg/provider/infer"
)

// ErrTerminated is returned by Init and Process after Terminate has been
// called. A terminated proxy never accepts work again; create a new one.
var ErrTerminated = errors.New("worker: proxy terminated")

const (
	// cmdBuffer absorbs command bursts while the loop is busy with an
	// inference call. When it overflows, process requests are dropped in
	// favour of recency rather than blocking the caller.
	cmdBuffer = 64

	// eventBuffer smooths consumer hiccups without unbounded growth.
	eventBuffer = 64
)

// Proxy manages one modality's inference backend. Create with [New];
// release with [Proxy.Terminate]. All exported methods are safe for
// concurrent use and never block on the backend.
type Proxy struct {
	modality emotion.Modality
	backend  infer.Backend
	clock    func() time.Time
	metrics  *observe.Metrics

	cmds   chan command
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup

	stateMu sync.RWMutex
	state   State
}

// Option configures a [Proxy] during construction.
type Option func(*Proxy)

// WithClock injects the time source used for result timestamps. Tests use
// this to make timestamps deterministic. Defaults to [time.Now].
func WithClock(clock func() time.Time) Option {
	return func(p *Proxy) { p.clock = clock }
}

// WithMetrics wires the proxy's instrumentation. When nil (the default),
// nothing is recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Proxy) { p.metrics = m }
}

// New creates a Proxy for the given modality and backend and starts its
// worker goroutine. The proxy starts in [StateIdle]; nothing touches the
// backend until [Proxy.Init] (or the first deferred process request)
// triggers loading. ctx bounds the proxy's lifetime: cancelling it has the
// same effect as Terminate.
func New(ctx context.Context, modality emotion.Modality, backend infer.Backend, opts ...Option) *Proxy {
	runCtx, cancel := context.WithCancel(ctx)
	p := &Proxy{
		modality: modality,
		backend:  backend,
		clock:    time.Now,
		cmds:     make(chan command, cmdBuffer),
		events:   make(chan Event, eventBuffer),
		done:     make(chan struct{}),
		cancel:   cancel,
		state:    StateIdle,
	}
	for _, o := range opts {
		o(p)
	}

	p.wg.Add(1)
	go p.run(runCtx)

	// Propagate external cancellation into the terminate path.
	go func() {
		select {
		case <-runCtx.Done():
			p.Terminate()
		case <-p.done:
		}
	}()

	return p
}

// Modality returns the modality this proxy serves.
func (p *Proxy) Modality() emotion.Modality { return p.modality }

// State returns the proxy's current lifecycle state.
func (p *Proxy) State() State {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

// Events returns the channel of inbound events. The channel is closed after
// Terminate, following a final [StateIdle] status event.
func (p *Proxy) Events() <-chan Event { return p.events }

// Init requests backend loading. It is idempotent: calling it while the
// proxy is already loading or ready is a no-op, and a proxy in StateError
// stays there. Init never blocks on the backend.
func (p *Proxy) Init() error {
	select {
	case <-p.done:
		return ErrTerminated
	default:
	}
	select {
	case p.cmds <- command{op: opInit}:
		return nil
	case <-p.done:
		return ErrTerminated
	}
}

// Process submits a bounded media unit for inference. In [StateReady] the
// unit is processed in FIFO order. In [StateIdle] it first triggers Init;
// whether the unit itself survives depends on the modality policy: video
// frames are dropped when the proxy is not ready (a fresher frame is always
// coming), audio windows are held in a single pending slot until the next
// window evicts them. Process never blocks; when the command buffer is full
// the unit is dropped.
func (p *Proxy) Process(unit media.Unit) error {
	select {
	case <-p.done:
		return ErrTerminated
	default:
	}
	select {
	case p.cmds <- command{op: opProcess, unit: unit}:
		return nil
	case <-p.done:
		return ErrTerminated
	default:
		slog.Debug("worker: command buffer full, dropping unit", "modality", p.modality)
		p.recordDrop()
		return nil
	}
}

// Terminate shuts the proxy down: the backend context is cancelled, the
// worker goroutine exits, and backend resources are released. Safe to call
// at any time, including while a process call is in flight — an in-flight
// result arriving after Terminate is discarded, never delivered. Calling
// Terminate more than once is a no-op.
func (p *Proxy) Terminate() {
	p.once.Do(func() {
		p.cancel()
		close(p.done)
		p.wg.Wait()

		if err := p.backend.Close(); err != nil {
			slog.Warn("worker: backend close error", "modality", p.modality, "err", err)
		}

		p.setState(StateIdle)
		select {
		case p.events <- Event{Modality: p.modality, Kind: EventStatus, State: StateIdle}:
		default:
		}
		close(p.events)
	})
}

// ── worker loop ──────────────────────────────────────────────────────────────

// loadOutcome carries the result of an asynchronous backend.Load call back
// into the worker loop.
type loadOutcome struct {
	path infer.ExecutionPath
	err  error
}

// run is the single goroutine that owns all proxy state transitions and
// backend calls. Commands are handled strictly in arrival order, which
// gives the per-modality FIFO result guarantee for free.
func (p *Proxy) run(ctx context.Context) {
	defer p.wg.Done()

	var (
		pending media.Unit       // deferred audio window, latest wins
		loadCh  chan loadOutcome // non-nil while a load is in flight
	)

	for {
		select {
		case <-p.done:
			return

		case out := <-loadCh:
			loadCh = nil
			if out.err != nil {
				if ctx.Err() != nil {
					return
				}
				p.setState(StateError)
				slog.Error("worker: backend load failed", "modality", p.modality, "err", out.err)
				p.emit(Event{Modality: p.modality, Kind: EventError, State: StateError, Err: out.err})
				pending = nil
				continue
			}
			p.setState(StateReady)
			slog.Info("worker: backend ready", "modality", p.modality, "path", out.path)
			p.emit(Event{Modality: p.modality, Kind: EventInitialized, State: StateReady, Path: out.path})
			if pending != nil {
				unit := pending
				pending = nil
				p.process(ctx, unit)
			}

		case cmd := <-p.cmds:
			switch cmd.op {
			case opInit:
				loadCh = p.startLoad(ctx, loadCh)

			case opProcess:
				if cmd.unit == nil || cmd.unit.Empty() {
					continue
				}
				switch p.State() {
				case StateReady:
					p.process(ctx, cmd.unit)
				case StateIdle:
					loadCh = p.startLoad(ctx, loadCh)
					pending = p.deferOrDrop(cmd.unit, pending)
				case StateLoading:
					pending = p.deferOrDrop(cmd.unit, pending)
				case StateError:
					p.recordDrop()
				}
			}
		}
	}
}

// startLoad kicks off an asynchronous backend load unless one is already in
// flight or the state machine forbids it. Returns the (possibly new) load
// channel for the loop to select on.
func (p *Proxy) startLoad(ctx context.Context, loadCh chan loadOutcome) chan loadOutcome {
	if loadCh != nil || p.State() != StateIdle {
		return loadCh // idempotent: loading, ready, and error are no-ops
	}

	p.setState(StateLoading)
	p.emit(Event{Modality: p.modality, Kind: EventStatus, State: StateLoading})

	ch := make(chan loadOutcome, 1)
	go func() {
		path, err := p.backend.Load(ctx)
		ch <- loadOutcome{path: path, err: err}
	}()
	return ch
}

// deferOrDrop applies the per-modality not-ready policy: audio windows
// occupy a single pending slot (a newer window evicts the older one), video
// frames are dropped outright.
func (p *Proxy) deferOrDrop(unit, pending media.Unit) media.Unit {
	if p.modality == emotion.ModalityAudio {
		if pending != nil {
			p.recordDrop()
		}
		return unit
	}
	p.recordDrop()
	return pending
}

// process runs one inference synchronously in the loop goroutine. A failed
// call is transient: the error is reported and the proxy stays ready. A
// result completing after termination is discarded.
func (p *Proxy) process(ctx context.Context, unit media.Unit) {
	spanCtx, span := observe.StartSpan(ctx, "worker.process")
	start := p.clock()
	vec, err := p.backend.Infer(spanCtx, unit)
	elapsed := p.clock().Sub(start)
	span.End()

	select {
	case <-p.done:
		return // discard: terminated while the call was in flight
	default:
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("worker: inference failed", "modality", p.modality, "err", err)
		p.recordInference(elapsed, "error")
		p.emit(Event{Modality: p.modality, Kind: EventError, State: StateReady, Err: err})
		return
	}

	if vec.Validate() != nil {
		vec = vec.Normalized()
	}
	res := emotion.NewResult(p.modality, vec, p.clock())
	p.recordInference(elapsed, "ok")
	p.emit(Event{Modality: p.modality, Kind: EventResult, State: StateReady, Result: &res})
}

// emit delivers an event to the consumer, giving up only on termination.
func (p *Proxy) emit(ev Event) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

func (p *Proxy) setState(s State) {
	p.stateMu.Lock()
	p.state = s
	p.stateMu.Unlock()
}

func (p *Proxy) recordInference(elapsed time.Duration, status string) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordInference(context.Background(), string(p.modality), status, elapsed.Seconds())
}

func (p *Proxy) recordDrop() {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordUnitDropped(context.Background(), string(p.modality))
}
