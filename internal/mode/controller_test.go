package mode_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/affectd/affectd/internal/config"
	"github.com/affectd/affectd/internal/fusion"
	"github.com/affectd/affectd/internal/mode"
	"github.com/affectd/affectd/pkg/emotion"
)

// initRecorder counts Init calls in place of a real worker proxy.
type initRecorder struct {
	mu       sync.Mutex
	modality emotion.Modality
	calls    int
	err      error
}

func (r *initRecorder) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

func (r *initRecorder) Modality() emotion.Modality { return r.modality }

func (r *initRecorder) initCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestController(workers ...mode.Initializer) (*mode.Controller, *fusion.Store) {
	store := fusion.NewStore(fusion.NewEngine(fusion.Config{}), fusion.NewSmoother(0))
	c := mode.New(store, workers, config.ModeConfig{},
		mode.WithGenerator(mode.NewGenerator(42)),
	)
	return c, store
}

func TestController_StartsLive(t *testing.T) {
	c, _ := newTestController()
	if c.Current() != config.ModeLive {
		t.Errorf("initial mode = %q, want %q", c.Current(), config.ModeLive)
	}
	if !c.Live() {
		t.Error("Live() = false, want true")
	}
}

func TestController_SwitchToSameModeIsNoop(t *testing.T) {
	vision := &initRecorder{modality: emotion.ModalityVision}
	c, _ := newTestController(vision)

	if err := c.Switch(config.ModeLive); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := vision.initCalls(); got != 0 {
		t.Errorf("Init calls after no-op switch = %d, want 0", got)
	}
}

func TestController_InvalidMode(t *testing.T) {
	c, _ := newTestController()
	if err := c.Switch(config.Mode("replay")); err == nil {
		t.Fatal("expected error for invalid mode, got nil")
	}
}

func TestController_SwitchToLiveReinitializesWorkers(t *testing.T) {
	vision := &initRecorder{modality: emotion.ModalityVision}
	audio := &initRecorder{modality: emotion.ModalityAudio}
	c, _ := newTestController(vision, audio)
	defer c.Stop()

	if err := c.Switch(config.ModeSynthetic); err != nil {
		t.Fatalf("switch to synthetic: %v", err)
	}
	if err := c.Switch(config.ModeLive); err != nil {
		t.Fatalf("switch to live: %v", err)
	}

	if got := vision.initCalls(); got != 1 {
		t.Errorf("vision Init calls = %d, want 1", got)
	}
	if got := audio.initCalls(); got != 1 {
		t.Errorf("audio Init calls = %d, want 1", got)
	}
}

// A worker that fails to init must not abort the switch; the other modality
// keeps working.
func TestController_SwitchToLiveSurvivesInitError(t *testing.T) {
	vision := &initRecorder{modality: emotion.ModalityVision, err: errors.New("model missing")}
	audio := &initRecorder{modality: emotion.ModalityAudio}
	c, _ := newTestController(vision, audio)
	defer c.Stop()

	if err := c.Switch(config.ModeSynthetic); err != nil {
		t.Fatalf("switch to synthetic: %v", err)
	}
	if err := c.Switch(config.ModeLive); err != nil {
		t.Fatalf("switch to live should not fail: %v", err)
	}
	if got := audio.initCalls(); got != 1 {
		t.Errorf("audio Init calls = %d, want 1", got)
	}
}

func TestController_SwitchResetsStore(t *testing.T) {
	c, store := newTestController()
	defer c.Stop()

	// Seed the store with a confident non-neutral result.
	var v emotion.Vector
	idx, _ := emotion.Index(emotion.Anger)
	v[idx] = 1
	store.Apply(emotion.NewResult(emotion.ModalityVision, v, time.Now()))

	if err := c.Switch(config.ModeSynthetic); err != nil {
		t.Fatalf("switch: %v", err)
	}

	got := store.Smoothed()
	if got.Dominant != emotion.Neutral {
		t.Errorf("dominant after switch = %q, want %q (store reset)", got.Dominant, emotion.Neutral)
	}
}

func TestController_TickEmitsValidVector(t *testing.T) {
	c, store := newTestController()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sm := c.Tick(now)
	if err := sm.Vector.Validate(); err != nil {
		t.Errorf("synthetic vector invalid: %v", err)
	}
	if !sm.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want %v", sm.Timestamp, now)
	}
	if got := store.Smoothed().Vector; got != sm.Vector {
		t.Error("store state does not match Tick return")
	}
}

func TestController_TicksProduceDistinctVectors(t *testing.T) {
	c, _ := newTestController()
	now := time.Now()

	a := c.Tick(now)
	b := c.Tick(now.Add(2 * time.Second))
	if a.Vector == b.Vector {
		t.Error("consecutive synthetic vectors should differ")
	}
}

func TestGenerator_SpikesAreConfident(t *testing.T) {
	g := mode.NewGenerator(7)

	// Every spikePeriod-th vector is a spike; scan a few periods and check
	// that confident single-label vectors appear.
	sawSpike := false
	for range 16 {
		v := g.Next()
		if err := v.Validate(); err != nil {
			t.Fatalf("generated vector invalid: %v", err)
		}
		if _, conf := v.Dominant(); conf > 0.8 {
			sawSpike = true
		}
	}
	if !sawSpike {
		t.Error("expected at least one single-label spike in 16 draws")
	}
}

func TestGenerator_Reproducible(t *testing.T) {
	a, b := mode.NewGenerator(99), mode.NewGenerator(99)
	for i := range 8 {
		if va, vb := a.Next(), b.Next(); va != vb {
			t.Fatalf("draw %d: generators with the same seed diverged", i)
		}
	}
}
