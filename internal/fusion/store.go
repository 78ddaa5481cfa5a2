package fusion

import (
	"context"
	"sync"
	"time"

	"github.com/affectd/affectd/internal/observe"
	"github.com/affectd/affectd/pkg/emotion"
)

// recordBuffer bounds the persistence-facing record channel. When no
// persistence layer is draining it, the oldest records are dropped — the
// engine never stores anything itself.
const recordBuffer = 256

// Store is the explicit owned state object for emotion results. It holds
// the latest result per modality, the derived fused value, and the smoothed
// display state, with Apply as the single mutation entry point per update.
// Nothing else may write smoothed state.
//
// Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	engine   *Engine
	smoother *Smoother
	clock    func() time.Time
	metrics  *observe.Metrics

	vision *emotion.ModalityResult
	audio  *emotion.ModalityResult

	fused    emotion.Fused
	smoothed emotion.Smoothed
	updated  bool

	subs    map[int]chan emotion.Smoothed
	nextSub int

	records chan emotion.Record
}

// StoreOption configures a [Store] during construction.
type StoreOption func(*Store)

// WithStoreClock injects the time source used for fusion timestamps.
// Defaults to [time.Now].
func WithStoreClock(clock func() time.Time) StoreOption {
	return func(s *Store) { s.clock = clock }
}

// WithStoreMetrics wires the store's instrumentation. When nil (the
// default), nothing is recorded.
func WithStoreMetrics(m *observe.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a Store around the given engine and smoother. The store
// takes exclusive ownership of the smoother.
func NewStore(engine *Engine, smoother *Smoother, opts ...StoreOption) *Store {
	s := &Store{
		engine:   engine,
		smoother: smoother,
		clock:    time.Now,
		subs:     make(map[int]chan emotion.Smoothed),
		records:  make(chan emotion.Record, recordBuffer),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply ingests a new modality result, recomputes the fused value from the
// latest result of each modality, folds it into the smoothed state, and
// notifies subscribers. It returns the new smoothed state.
//
// Apply takes ownership of res; the producing worker retains no reference.
func (s *Store) Apply(res emotion.ModalityResult) emotion.Smoothed {
	s.mu.Lock()

	switch res.Modality {
	case emotion.ModalityVision:
		s.vision = &res
	case emotion.ModalityAudio:
		s.audio = &res
	default:
		// Unknown modality: nothing to combine, state unchanged.
		smoothed := s.smoothed
		s.mu.Unlock()
		return smoothed
	}

	smoothed := s.recomputeLocked()
	s.publishLocked(smoothed)
	s.mu.Unlock()

	return smoothed
}

// ClearModality drops the retained result for one modality, e.g. after its
// backend enters a permanent error state or is terminated. Fusion continues
// in single-modality (or neutral fallback) mode from the next update.
func (s *Store) ClearModality(m emotion.Modality) {
	s.mu.Lock()
	switch m {
	case emotion.ModalityVision:
		s.vision = nil
	case emotion.ModalityAudio:
		s.audio = nil
	}
	smoothed := s.recomputeLocked()
	s.publishLocked(smoothed)
	s.mu.Unlock()
}

// Reset clears all retained results and the smoothing history. Used when
// switching between live and synthetic sourcing.
func (s *Store) Reset() {
	s.mu.Lock()
	s.vision = nil
	s.audio = nil
	s.smoother.Reset()
	s.fused = emotion.Fused{}
	s.smoothed = emotion.Smoothed{}
	s.updated = false
	s.mu.Unlock()
}

// Reconfigure swaps the engine and smoother, e.g. after a config reload.
// The smoothing history restarts from the swap; if any results are retained
// the state is recomputed under the new tuning and published.
func (s *Store) Reconfigure(engine *Engine, smoother *Smoother) {
	s.mu.Lock()
	s.engine = engine
	s.smoother = smoother
	if !s.updated {
		s.mu.Unlock()
		return
	}
	smoothed := s.recomputeLocked()
	s.publishLocked(smoothed)
	s.mu.Unlock()
}

// recomputeLocked recomputes fused and smoothed state from the currently
// retained results. Caller holds s.mu.
func (s *Store) recomputeLocked() emotion.Smoothed {
	now := s.clock()
	s.fused = s.engine.Fuse(s.vision, s.audio, now)
	s.smoothed = s.smoother.Update(s.fused)
	s.updated = true

	if s.metrics != nil {
		s.metrics.RecordFusion(context.Background(), string(s.fused.Conflict.Kind))
	}
	return s.smoothed
}

// Fused returns the latest instantaneous fused value. Before any update it
// returns the neutral fallback.
func (s *Store) Fused() emotion.Fused {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.updated {
		return s.engine.Fuse(nil, nil, s.clock())
	}
	return s.fused
}

// Smoothed returns the display-stable state consumers should render.
// Before any update it returns the neutral fallback — the consumer-facing
// contract never returns an error, only a possibly low-confidence value.
func (s *Store) Smoothed() emotion.Smoothed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.updated {
		f := s.engine.Fuse(nil, nil, s.clock())
		return emotion.Smoothed{
			Vector:    f.Vector,
			Dominant:  f.Dominant,
			Conflict:  f.Conflict,
			Timestamp: f.Timestamp,
		}
	}
	return s.smoothed
}

// Subscribe registers for smoothed-state updates. The returned channel has
// a one-element buffer holding the most recent state: a slow subscriber
// observes the latest value, never a backlog, and never blocks the store.
// Call the returned cancel function to unsubscribe.
func (s *Store) Subscribe() (<-chan emotion.Smoothed, func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan emotion.Smoothed, 1)
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Records returns the stream of (label, confidence, timestamp) tuples an
// external persistence layer may drain. Records are dropped when nobody is
// consuming; the engine itself never writes storage.
func (s *Store) Records() <-chan emotion.Record { return s.records }

// publishLocked fans the new state out to subscribers (latest wins) and
// appends a persistence record. It runs under s.mu so publishes are ordered
// exactly as mutations are: a subscriber's buffered "latest" is never older
// than the store's own state. Every send is non-blocking, so holding the
// lock here never stalls a mutation.
func (s *Store) publishLocked(sm emotion.Smoothed) {
	for _, ch := range s.subs {
		select {
		case ch <- sm:
		default:
			// Replace the stale value so the subscriber sees the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- sm:
			default:
			}
		}
	}

	rec := emotion.Record{Label: sm.Dominant, Confidence: sm.Confidence, Timestamp: sm.Timestamp}
	select {
	case s.records <- rec:
	default:
		select {
		case <-s.records:
		default:
		}
		select {
		case s.records <- rec:
		default:
		}
	}
}
