package chunker

import (
	"sync"
	"time"

	"github.com/affectd/affectd/pkg/media"
)

// DefaultWindowDuration is the minimum accumulated audio span before a
// window is emitted for inference.
const DefaultWindowDuration = time.Second

// DefaultSampleRate is assumed when neither the stream nor the backend
// declares a rate. Matches the prosody model's native rate.
const DefaultSampleRate = 16000

// AudioAccumulator collects raw audio chunks of arbitrary size into an
// append-only buffer and emits one bounded [media.Window] each time the
// buffer reaches the minimum duration, then starts over (successive windows
// never overlap). If the input rate differs from the model rate, the whole
// window is resampled by linear interpolation on emission.
//
// Safe for concurrent use, though a single producer is the expected shape;
// the buffer is only ever mutated under the lock.
type AudioAccumulator struct {
	mu sync.Mutex

	inputRate  int
	targetRate int
	minSamples int

	buf []float32
}

// NewAudioAccumulator creates an accumulator for a stream declared at
// inputRate Hz, emitting windows resampled to targetRate Hz once at least
// minDuration of audio has been collected. A non-positive minDuration falls
// back to [DefaultWindowDuration]; a non-positive inputRate falls back to
// [DefaultSampleRate] — a zero rate would make every push emit a degenerate
// zero-rate window that downstream consumers reject as empty.
func NewAudioAccumulator(inputRate, targetRate int, minDuration time.Duration) *AudioAccumulator {
	if minDuration <= 0 {
		minDuration = DefaultWindowDuration
	}
	if inputRate <= 0 {
		inputRate = DefaultSampleRate
	}
	return &AudioAccumulator{
		inputRate:  inputRate,
		targetRate: targetRate,
		minSamples: int(int64(inputRate) * int64(minDuration) / int64(time.Second)),
	}
}

// Push appends a chunk of mono samples at the declared input rate. When the
// accumulated buffer reaches the minimum duration, Push emits the entire
// buffer as one window and clears it. Empty chunks are silently skipped.
func (a *AudioAccumulator) Push(chunk []float32, now time.Time) (media.Window, bool) {
	if len(chunk) == 0 {
		return media.Window{}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf = append(a.buf, chunk...)
	if len(a.buf) < a.minSamples {
		return media.Window{}, false
	}
	return a.emitLocked(now), true
}

// Flush forces emission of a partial, sub-threshold buffer. Used at session
// end so trailing audio is not silently discarded. Returns false when the
// buffer is empty.
func (a *AudioAccumulator) Flush(now time.Time) (media.Window, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.buf) == 0 {
		return media.Window{}, false
	}
	return a.emitLocked(now), true
}

// Buffered returns the currently accumulated duration at the input rate.
func (a *AudioAccumulator) Buffered() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inputRate <= 0 {
		return 0
	}
	return time.Duration(len(a.buf)) * time.Second / time.Duration(a.inputRate)
}

// emitLocked resamples and hands off the buffer. Caller holds a.mu.
func (a *AudioAccumulator) emitLocked(now time.Time) media.Window {
	samples := a.buf
	a.buf = nil

	// A buffer too short to interpolate passes through Resample unchanged
	// and keeps its input-rate label.
	rate := a.inputRate
	if a.targetRate > 0 && a.targetRate != a.inputRate && len(samples) >= 2 {
		samples = media.Resample(samples, a.inputRate, a.targetRate)
		rate = a.targetRate
	}
	return media.Window{
		Samples:    samples,
		SampleRate: rate,
		Timestamp:  now,
	}
}
