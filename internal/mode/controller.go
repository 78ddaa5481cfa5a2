// Package mode implements the data-sourcing switch between live inference
// and synthetic generation. Both modes feed the same fusion store, so
// consumers see an identical contract regardless of where the data comes
// from.
package mode

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/affectd/affectd/internal/config"
	"github.com/affectd/affectd/internal/fusion"
	"github.com/affectd/affectd/pkg/emotion"
)

// DefaultSyntheticInterval is the emission cadence in synthetic mode.
const DefaultSyntheticInterval = 2 * time.Second

// Initializer is the subset of the worker proxy the controller drives when
// entering live mode.
type Initializer interface {
	Init() error
	Modality() emotion.Modality
}

// Controller owns the live/synthetic mode switch. Switching modes resets the
// fusion store so stale state from the previous source never leaks into the
// new one; it never interrupts in-flight worker operations.
//
// Safe for concurrent use.
type Controller struct {
	store    *fusion.Store
	workers  []Initializer
	interval time.Duration
	clock    func() time.Time

	mu      sync.Mutex
	current config.Mode
	gen     *Generator

	stop chan struct{} // non-nil while the synthetic loop runs
	wg   sync.WaitGroup
}

// Option configures a [Controller] during construction.
type Option func(*Controller)

// WithClock injects the time source used for synthetic result timestamps.
// Defaults to [time.Now].
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithGenerator replaces the default generator, e.g. with a fixed-seed one
// in tests.
func WithGenerator(g *Generator) Option {
	return func(c *Controller) { c.gen = g }
}

// New creates a Controller over the given store and worker proxies. The
// controller starts in live mode without initializing anything; call
// [Controller.Switch] with the configured default to begin sourcing data.
func New(store *fusion.Store, workers []Initializer, cfg config.ModeConfig, opts ...Option) *Controller {
	c := &Controller{
		store:    store,
		workers:  workers,
		interval: cfg.SyntheticInterval,
		clock:    time.Now,
		current:  config.ModeLive,
		gen:      NewGenerator(uint64(time.Now().UnixNano())),
	}
	if c.interval <= 0 {
		c.interval = DefaultSyntheticInterval
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Current returns the active mode.
func (c *Controller) Current() config.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Live reports whether the controller is sourcing from live inference.
// The app uses this to gate media ingestion.
func (c *Controller) Live() bool { return c.Current() == config.ModeLive }

// Switch changes the sourcing mode. Switching is idempotent; switching to
// the current mode is a no-op. Entering live mode (re)initializes every
// worker proxy; leaving it stops the synthetic loop but leaves the proxies
// in whatever state they are in — terminating them is an explicit, separate
// operation.
func (c *Controller) Switch(m config.Mode) error {
	if !m.IsValid() {
		return fmt.Errorf("mode: invalid mode %q", m)
	}

	c.mu.Lock()
	if m == c.current {
		c.mu.Unlock()
		return nil
	}
	prev := c.current
	c.current = m
	if prev == config.ModeSynthetic {
		c.stopSyntheticLocked()
	}
	if m == config.ModeSynthetic {
		c.startSyntheticLocked()
	}
	c.mu.Unlock()

	// Stale per-modality results from the previous source must not fuse
	// with the new one.
	c.store.Reset()

	if m == config.ModeLive {
		for _, w := range c.workers {
			if err := w.Init(); err != nil {
				slog.Warn("mode: worker init on live switch", "modality", w.Modality(), "err", err)
			}
		}
	}

	slog.Info("mode: switched", "from", prev, "to", m)
	return nil
}

// Tick emits one synthetic result stamped with now. It is the primitive the
// synthetic loop runs on; tests call it directly to control time. Emissions
// flow through the store as vision-modality results, so single-modality
// passthrough delivers the generated vector unchanged.
func (c *Controller) Tick(now time.Time) emotion.Smoothed {
	c.mu.Lock()
	vec := c.gen.Next()
	c.mu.Unlock()

	return c.store.Apply(emotion.NewResult(emotion.ModalityVision, vec, now))
}

// Stop halts the synthetic loop if it is running. It does not touch the
// worker proxies.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopSyntheticLocked()
	c.mu.Unlock()
}

// startSyntheticLocked launches the ticker goroutine. Caller holds c.mu.
func (c *Controller) startSyntheticLocked() {
	if c.stop != nil {
		return
	}
	stop := make(chan struct{})
	c.stop = stop

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.Tick(c.clock())
			}
		}
	}()
}

// stopSyntheticLocked stops the ticker goroutine. Caller holds c.mu.
func (c *Controller) stopSyntheticLocked() {
	if c.stop == nil {
		return
	}
	close(c.stop)
	c.stop = nil
}
