package chunker_test

import (
	"testing"
	"time"

	"github.com/affectd/affectd/internal/chunker"
)

func TestAudioAccumulator_EmitsAtThreshold(t *testing.T) {
	a := chunker.NewAudioAccumulator(16000, 16000, time.Second)
	now := time.Now()

	if _, ok := a.Push(make([]float32, 8000), now); ok {
		t.Fatal("half a window should not emit")
	}
	win, ok := a.Push(make([]float32, 8000), now)
	if !ok {
		t.Fatal("full window should emit")
	}
	if len(win.Samples) != 16000 {
		t.Errorf("window length = %d, want 16000", len(win.Samples))
	}
	if win.SampleRate != 16000 {
		t.Errorf("window rate = %d, want 16000", win.SampleRate)
	}
	if !win.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want %v", win.Timestamp, now)
	}

	// The buffer restarts after emission; successive windows never overlap.
	if got := a.Buffered(); got != 0 {
		t.Errorf("Buffered() after emit = %v, want 0", got)
	}
}

func TestAudioAccumulator_OversizedChunkEmitsWhole(t *testing.T) {
	a := chunker.NewAudioAccumulator(16000, 16000, time.Second)

	win, ok := a.Push(make([]float32, 20000), time.Now())
	if !ok {
		t.Fatal("oversized chunk should emit immediately")
	}
	if len(win.Samples) != 20000 {
		t.Errorf("window length = %d, want the whole 20000-sample buffer", len(win.Samples))
	}
}

func TestAudioAccumulator_ResamplesOnEmit(t *testing.T) {
	a := chunker.NewAudioAccumulator(48000, 16000, time.Second)

	win, ok := a.Push(make([]float32, 48000), time.Now())
	if !ok {
		t.Fatal("full window should emit")
	}
	if win.SampleRate != 16000 {
		t.Errorf("window rate = %d, want the model rate 16000", win.SampleRate)
	}
	if len(win.Samples) != 16000 {
		t.Errorf("window length = %d, want 16000 after resampling", len(win.Samples))
	}
}

func TestAudioAccumulator_UndeclaredRateFallsBack(t *testing.T) {
	a := chunker.NewAudioAccumulator(0, 0, time.Second)
	now := time.Now()

	// With no declared rate the default applies; one second of audio at the
	// default rate is still required before anything is emitted.
	if _, ok := a.Push(make([]float32, chunker.DefaultSampleRate/2), now); ok {
		t.Fatal("half a window should not emit")
	}
	win, ok := a.Push(make([]float32, chunker.DefaultSampleRate/2), now)
	if !ok {
		t.Fatal("full window should emit")
	}
	if win.SampleRate != chunker.DefaultSampleRate {
		t.Errorf("window rate = %d, want the default %d", win.SampleRate, chunker.DefaultSampleRate)
	}
	if win.Empty() {
		t.Error("emitted window should be well-formed, not empty")
	}
}

func TestAudioAccumulator_FlushEmitsPartial(t *testing.T) {
	a := chunker.NewAudioAccumulator(16000, 16000, time.Second)

	a.Push(make([]float32, 4000), time.Now())
	win, ok := a.Flush(time.Now())
	if !ok {
		t.Fatal("flush with buffered audio should emit")
	}
	if len(win.Samples) != 4000 {
		t.Errorf("flushed window length = %d, want 4000", len(win.Samples))
	}

	if _, ok := a.Flush(time.Now()); ok {
		t.Error("flush with an empty buffer should not emit")
	}
}

func TestAudioAccumulator_FlushTooShortToResampleKeepsInputRate(t *testing.T) {
	a := chunker.NewAudioAccumulator(48000, 16000, time.Second)

	a.Push([]float32{0.5}, time.Now())
	win, ok := a.Flush(time.Now())
	if !ok {
		t.Fatal("flush with buffered audio should emit")
	}
	if len(win.Samples) != 1 {
		t.Fatalf("flushed window length = %d, want 1", len(win.Samples))
	}
	// A single sample cannot be interpolated; the window must be labelled
	// with the rate the samples actually have.
	if win.SampleRate != 48000 {
		t.Errorf("window rate = %d, want the input rate 48000", win.SampleRate)
	}
}

func TestAudioAccumulator_SkipsEmptyChunks(t *testing.T) {
	a := chunker.NewAudioAccumulator(16000, 16000, time.Second)

	if _, ok := a.Push(nil, time.Now()); ok {
		t.Error("empty chunk should not emit")
	}
	if got := a.Buffered(); got != 0 {
		t.Errorf("Buffered() = %v, want 0", got)
	}
}

func TestAudioAccumulator_Buffered(t *testing.T) {
	a := chunker.NewAudioAccumulator(16000, 16000, time.Second)

	a.Push(make([]float32, 8000), time.Now())
	if got := a.Buffered(); got != 500*time.Millisecond {
		t.Errorf("Buffered() = %v, want 500ms", got)
	}
}
