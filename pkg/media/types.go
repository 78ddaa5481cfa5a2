// Package media defines the bounded media units that flow from the signal
// chunker to the inference backends, plus the resampling helpers used to
// bring raw audio to a model's expected rate.
package media

import "time"

// Unit is a bounded, inference-ready piece of media. It is a sealed union:
// the only implementations are [Frame] and [Window]. Code receiving a Unit
// switches on the concrete type and treats anything else as malformed input.
type Unit interface {
	// Empty reports whether the unit carries no usable media. Empty units
	// are silently skipped throughout the pipeline, never raised as errors.
	Empty() bool

	sealedUnit()
}

// Frame is a single fixed-size RGBA raster sampled from the video stream.
type Frame struct {
	// Width and Height are the raster dimensions in pixels.
	Width, Height int

	// Pix is tightly packed RGBA data, 4 bytes per pixel, row-major.
	Pix []byte

	// Timestamp marks when the frame was captured.
	Timestamp time.Time
}

func (Frame) sealedUnit() {}

// Empty reports whether the frame has no pixels or a Pix length that does
// not match its declared dimensions.
func (f Frame) Empty() bool {
	if f.Width <= 0 || f.Height <= 0 || len(f.Pix) == 0 {
		return true
	}
	return len(f.Pix) != f.Width*f.Height*4
}

// Window is an accumulated span of mono audio samples, resampled to the
// rate the audio model expects.
type Window struct {
	// Samples are mono float32 PCM in [-1, 1].
	Samples []float32

	// SampleRate is the rate of Samples in Hz.
	SampleRate int

	// Timestamp marks when the window was emitted.
	Timestamp time.Time
}

func (Window) sealedUnit() {}

// Empty reports whether the window carries no samples or an invalid rate.
func (w Window) Empty() bool {
	return len(w.Samples) == 0 || w.SampleRate <= 0
}

// Duration returns the playback duration of the window.
func (w Window) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}
