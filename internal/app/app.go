// Package app wires all affectd subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the event loops and the HTTP surface, and
// Shutdown tears everything down in order.
//
// For testing, inject mock backends and a fixed clock via functional
// options. When an option is not provided, New creates real implementations
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/affectd/affectd/internal/chunker"
	"github.com/affectd/affectd/internal/config"
	"github.com/affectd/affectd/internal/fusion"
	"github.com/affectd/affectd/internal/health"
	"github.com/affectd/affectd/internal/mode"
	"github.com/affectd/affectd/internal/observe"
	"github.com/affectd/affectd/internal/stream"
	"github.com/affectd/affectd/internal/worker"
	"github.com/affectd/affectd/pkg/emotion"
	"github.com/affectd/affectd/pkg/media"
	"github.com/affectd/affectd/pkg/provider/infer"
)

// Backends holds one inference backend per modality. Nil means the modality
// is not configured; the engine then runs single-modality (or synthetic
// only). Populated by main.go via the config registry.
type Backends struct {
	Vision infer.Backend
	Audio  infer.Backend
}

// sampleRater is implemented by audio backends that require a specific input
// rate; the accumulator resamples to it.
type sampleRater interface {
	SampleRate() int
}

// App owns all subsystem lifetimes and orchestrates the emotion pipeline.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics
	clock   func() time.Time

	// Subsystems — initialised in New, torn down in Shutdown.
	store   *fusion.Store
	vision  *worker.Proxy
	audio   *worker.Proxy
	modes   *mode.Controller
	sampler *chunker.VideoSampler
	accum   *chunker.AudioAccumulator

	// Worker status bookkeeping fed by the event loops.
	statusMu  sync.RWMutex
	workers   map[emotion.Modality]stream.WorkerStatus
	startedAt time.Time

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects the metrics instance. Defaults to no instrumentation.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock injects the time source. Tests use this to make timestamps and
// throttling deterministic. Defaults to [time.Now].
func WithClock(clock func() time.Time) Option {
	return func(a *App) { a.clock = clock }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The backends struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, backends *Backends, opts ...Option) (*App, error) {
	if backends == nil {
		backends = &Backends{}
	}
	a := &App{
		cfg:     cfg,
		clock:   time.Now,
		workers: make(map[emotion.Modality]stream.WorkerStatus),
	}
	for _, o := range opts {
		o(a)
	}
	a.startedAt = a.clock()

	// ── 1. Fusion store ──────────────────────────────────────────────────
	engine := fusion.NewEngine(fusion.Config{
		VisionWeight:      cfg.Fusion.VisionWeight,
		AudioWeight:       cfg.Fusion.AudioWeight,
		ConflictThreshold: cfg.Fusion.ConflictThreshold,
	})
	smoother := fusion.NewSmoother(cfg.Fusion.SmoothingAlpha)
	a.store = fusion.NewStore(engine, smoother,
		fusion.WithStoreClock(a.clock),
		fusion.WithStoreMetrics(a.metrics),
	)

	// ── 2. Worker proxies ────────────────────────────────────────────────
	var inits []mode.Initializer
	if backends.Vision != nil {
		a.vision = worker.New(ctx, emotion.ModalityVision, backends.Vision,
			worker.WithClock(a.clock), worker.WithMetrics(a.metrics))
		a.setWorkerStatus(emotion.ModalityVision, stream.WorkerStatus{State: worker.StateIdle})
		inits = append(inits, a.vision)
	}
	if backends.Audio != nil {
		a.audio = worker.New(ctx, emotion.ModalityAudio, backends.Audio,
			worker.WithClock(a.clock), worker.WithMetrics(a.metrics))
		a.setWorkerStatus(emotion.ModalityAudio, stream.WorkerStatus{State: worker.StateIdle})
		inits = append(inits, a.audio)
	}

	// ── 3. Chunkers ──────────────────────────────────────────────────────
	a.sampler = chunker.NewVideoSampler(cfg.Chunker.FrameInterval)

	inputRate := cfg.Chunker.InputSampleRate
	targetRate := inputRate
	if sr, ok := backends.Audio.(sampleRater); ok && sr.SampleRate() > 0 {
		targetRate = sr.SampleRate()
		if inputRate == 0 {
			inputRate = targetRate
		}
	}
	a.accum = chunker.NewAudioAccumulator(inputRate, targetRate, cfg.Chunker.WindowDuration)

	// ── 4. Mode controller ───────────────────────────────────────────────
	a.modes = mode.New(a.store, inits, cfg.Mode, mode.WithClock(a.clock))
	a.closers = append(a.closers, func() error {
		a.modes.Stop()
		return nil
	})

	return a, nil
}

// ApplyConfig applies a hot-reloadable configuration change, typically from
// the config file watcher. Fusion tuning swaps the engine and smoother and
// restarts the smoothing history; a mode change goes through the controller.
// Changes the diff does not track (backends, listen address) need a restart.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.FusionChanged {
		a.store.Reconfigure(
			fusion.NewEngine(fusion.Config{
				VisionWeight:      d.NewFusion.VisionWeight,
				AudioWeight:       d.NewFusion.AudioWeight,
				ConflictThreshold: d.NewFusion.ConflictThreshold,
			}),
			fusion.NewSmoother(d.NewFusion.SmoothingAlpha),
		)
		slog.Info("app: fusion tuning reloaded",
			"vision_weight", d.NewFusion.VisionWeight,
			"audio_weight", d.NewFusion.AudioWeight,
		)
	}

	if d.ModeChanged {
		target := d.NewMode.Default
		if target == "" {
			target = config.ModeLive
		}
		if err := a.modes.Switch(target); err != nil {
			slog.Warn("app: mode switch from config reload", "err", err)
		}
	}
}

// Store exposes the fusion store, e.g. for draining [fusion.Store.Records].
func (a *App) Store() *fusion.Store { return a.store }

// Modes exposes the mode controller.
func (a *App) Modes() *mode.Controller { return a.modes }

// ─── Ingestion ───────────────────────────────────────────────────────────────

// IngestFrame offers a captured video frame. Frames are throttled to the
// configured cadence and dropped in synthetic mode; the call never blocks.
func (a *App) IngestFrame(frame media.Frame) {
	if a.vision == nil || !a.modes.Live() {
		return
	}
	sampled, ok := a.sampler.Sample(frame, a.clock())
	if !ok {
		return
	}
	if err := a.vision.Process(sampled); err != nil && !errors.Is(err, worker.ErrTerminated) {
		slog.Warn("app: vision process", "err", err)
	}
}

// IngestAudio offers a chunk of mono samples at the configured input rate.
// Complete windows are forwarded for inference; the call never blocks.
func (a *App) IngestAudio(samples []float32) {
	if a.audio == nil || !a.modes.Live() {
		return
	}
	win, ok := a.accum.Push(samples, a.clock())
	if !ok {
		return
	}
	a.processAudioWindow(win)
}

// FlushAudio forces out any partial trailing window, e.g. at stream end.
func (a *App) FlushAudio() {
	if a.audio == nil || !a.modes.Live() {
		return
	}
	if win, ok := a.accum.Flush(a.clock()); ok {
		a.processAudioWindow(win)
	}
}

func (a *App) processAudioWindow(win media.Window) {
	if err := a.audio.Process(win); err != nil && !errors.Is(err, worker.ErrTerminated) {
		slog.Warn("app: audio process", "err", err)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the worker event loops and the HTTP surface, then blocks until
// ctx is cancelled or a subsystem fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.vision != nil {
		g.Go(func() error { return a.consumeEvents(ctx, a.vision) })
	}
	if a.audio != nil {
		g.Go(func() error { return a.consumeEvents(ctx, a.audio) })
	}

	// Enter the configured default mode. The controller starts in live, so
	// a live default needs an explicit first init.
	switch a.cfg.Mode.Default {
	case config.ModeSynthetic:
		if err := a.modes.Switch(config.ModeSynthetic); err != nil {
			return fmt.Errorf("app: enter synthetic mode: %w", err)
		}
	default:
		a.initWorkers()
	}

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := a.buildHTTPServer(addr)
		g.Go(func() error { return a.serveHTTP(ctx, srv) })
	}

	slog.Info("app running",
		"mode", a.modes.Current(),
		"vision", a.vision != nil,
		"audio", a.audio != nil,
	)
	return g.Wait()
}

// initWorkers requests backend loading on every configured proxy.
func (a *App) initWorkers() {
	for _, p := range []*worker.Proxy{a.vision, a.audio} {
		if p == nil {
			continue
		}
		if err := p.Init(); err != nil {
			slog.Warn("app: worker init", "modality", p.Modality(), "err", err)
		}
	}
}

// consumeEvents drains one proxy's event stream, feeding results into the
// fusion store and state transitions into the status bookkeeping.
func (a *App) consumeEvents(ctx context.Context, p *worker.Proxy) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-p.Events():
			if !ok {
				return nil // proxy terminated
			}
			a.handleEvent(ev)
		}
	}
}

// handleEvent applies one worker event.
func (a *App) handleEvent(ev worker.Event) {
	switch ev.Kind {
	case worker.EventResult:
		// Results racing a switch to synthetic are discarded; the store
		// was reset and live data must not mix in.
		if ev.Result != nil && a.modes.Live() {
			a.store.Apply(*ev.Result)
		}
		// Only the state moves; the execution path reported at init stays.
		st := a.workerStatus(ev.Modality)
		st.State = ev.State
		a.setWorkerStatus(ev.Modality, st)

	case worker.EventInitialized:
		slog.Info("app: worker ready", "modality", ev.Modality, "path", ev.Path)
		a.setWorkerStatus(ev.Modality, stream.WorkerStatus{State: ev.State, Path: ev.Path})

	case worker.EventStatus:
		st := a.workerStatus(ev.Modality)
		st.State = ev.State
		a.setWorkerStatus(ev.Modality, st)

	case worker.EventError:
		st := stream.WorkerStatus{State: ev.State}
		if ev.Err != nil {
			st.LastError = ev.Err.Error()
		}
		if ev.State == worker.StateError {
			// Fatal: this modality is out until re-init. Drop its retained
			// result so fusion degrades to single-modality.
			a.store.ClearModality(ev.Modality)
		}
		a.setWorkerStatus(ev.Modality, st)
	}
}

// ─── Status ──────────────────────────────────────────────────────────────────

// Status implements [stream.StatusSource].
func (a *App) Status() stream.Status {
	a.statusMu.RLock()
	workers := make(map[string]stream.WorkerStatus, len(a.workers))
	for m, st := range a.workers {
		workers[string(m)] = st
	}
	a.statusMu.RUnlock()

	now := a.clock()
	return stream.Status{
		Mode:    a.modes.Current(),
		Workers: workers,
		Session: stream.SessionStatus{
			StartedAt:       a.startedAt,
			DurationSeconds: now.Sub(a.startedAt).Seconds(),
		},
	}
}

func (a *App) workerStatus(m emotion.Modality) stream.WorkerStatus {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.workers[m]
}

func (a *App) setWorkerStatus(m emotion.Modality, st stream.WorkerStatus) {
	a.statusMu.Lock()
	prev := a.workers[m]
	a.workers[m] = st
	a.statusMu.Unlock()

	if a.metrics == nil {
		return
	}
	switch {
	case prev.State != worker.StateReady && st.State == worker.StateReady:
		a.metrics.WorkerReady(context.Background(), 1)
	case prev.State == worker.StateReady && st.State != worker.StateReady:
		a.metrics.WorkerReady(context.Background(), -1)
	}
}

// ─── HTTP surface ────────────────────────────────────────────────────────────

// buildHTTPServer assembles the mux: consumer API, health probes, and the
// Prometheus scrape endpoint, all behind the tracing middleware.
func (a *App) buildHTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()

	stream.NewServer(a.store, a, a.modes, stream.WithMetrics(a.metrics)).Register(mux)

	var checkers []health.Checker
	if a.vision != nil {
		checkers = append(checkers, a.workerChecker("vision-worker", a.vision))
	}
	if a.audio != nil {
		checkers = append(checkers, a.workerChecker("audio-worker", a.audio))
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	if a.metrics != nil {
		handler = observe.Middleware(a.metrics)(mux)
	}
	return &http.Server{Addr: addr, Handler: handler}
}

// workerChecker reports a proxy as unhealthy only in the error state; idle
// and loading are normal lifecycle phases.
func (a *App) workerChecker(name string, p *worker.Proxy) health.Checker {
	return health.Checker{
		Name: name,
		Check: func(context.Context) error {
			if st := p.State(); st == worker.StateError {
				return fmt.Errorf("worker in state %s", st)
			}
			return nil
		},
	}
}

// serveHTTP runs the server until ctx is cancelled, then drains it.
func (a *App) serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("app: http shutdown", "err", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order: trailing audio is flushed,
// proxies are terminated, then closers run. It respects the context
// deadline: if ctx expires, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Trailing audio first, while the proxy still accepts work.
		a.FlushAudio()

		for _, p := range []*worker.Proxy{a.vision, a.audio} {
			if p != nil {
				p.Terminate()
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
