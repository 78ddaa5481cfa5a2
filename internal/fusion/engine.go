// Package fusion combines the latest per-modality emotion results into one
// interpretable vector, detects cross-modal conflicts, smooths the fused
// vector for display stability, and owns the consumer-visible state.
//
// The [Engine] is a pure function of its two inputs plus a timestamp; the
// [Smoother] and [Store] hold the only mutable state, and the Store is the
// single mutation entry point per update.
package fusion

import (
	"time"

	"github.com/affectd/affectd/pkg/emotion"
)

// Default tuning constants. They are deliberate defaults, not calibrated
// per person; override them through [Config].
const (
	// DefaultVisionWeight favours vision as the more discriminative modality.
	DefaultVisionWeight = 0.6

	// DefaultAudioWeight is the vocal-prosody share of the fused vector.
	DefaultAudioWeight = 0.4

	// DefaultConflictThreshold is the per-modality confidence floor below
	// which no conflict rule fires.
	DefaultConflictThreshold = 0.4
)

// Config tunes the fusion engine. Zero values fall back to the defaults.
type Config struct {
	// VisionWeight and AudioWeight scale each modality's vector in the
	// weighted sum. They should sum to 1 so the fused vector stays a
	// probability distribution.
	VisionWeight float64
	AudioWeight  float64

	// ConflictThreshold is the confidence floor for conflict detection (τ).
	ConflictThreshold float64
}

// Engine fuses per-modality results. It carries only immutable
// configuration and is safe for concurrent use.
type Engine struct {
	wVision float64
	wAudio  float64
	tau     float64
}

// NewEngine creates an Engine from cfg, substituting defaults for zero
// fields.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		wVision: cfg.VisionWeight,
		wAudio:  cfg.AudioWeight,
		tau:     cfg.ConflictThreshold,
	}
	if e.wVision == 0 && e.wAudio == 0 {
		e.wVision = DefaultVisionWeight
		e.wAudio = DefaultAudioWeight
	}
	if e.tau == 0 {
		e.tau = DefaultConflictThreshold
	}
	return e
}

// Fuse combines the latest known result from each modality. Either or both
// results may be nil:
//
//   - neither: 100% neutral, confidence 0, no conflict — the engine always
//     produces a value, never an error.
//   - exactly one: the vector passes through unchanged; no conflict is
//     possible with a single modality.
//   - both: fused[c] = wV·vision[c] + wA·audio[c] per category, with the
//     conflict rules evaluated against the unfused per-modality dominants.
//
// The dominant label is the arg-max of the fused vector; ties break to the
// first label in canonical order.
func (e *Engine) Fuse(vision, audio *emotion.ModalityResult, now time.Time) emotion.Fused {
	switch {
	case vision == nil && audio == nil:
		return emotion.Fused{
			Vector:    emotion.NeutralVector(),
			Dominant:  emotion.Neutral,
			Conflict:  emotion.Conflict{Kind: emotion.ConflictNone},
			Timestamp: now,
		}

	case audio == nil:
		return passthrough(vision.Vector, now)

	case vision == nil:
		return passthrough(audio.Vector, now)
	}

	var fusedVec emotion.Vector
	for i := range fusedVec {
		fusedVec[i] = e.wVision*vision.Vector[i] + e.wAudio*audio.Vector[i]
	}
	dom, conf := fusedVec.Dominant()

	return emotion.Fused{
		Vector:     fusedVec,
		Dominant:   dom,
		Confidence: conf,
		Conflict:   e.detectConflict(vision, audio),
		Timestamp:  now,
	}
}

// passthrough wraps a single modality's vector as the fused result.
func passthrough(v emotion.Vector, now time.Time) emotion.Fused {
	dom, conf := v.Dominant()
	return emotion.Fused{
		Vector:     v,
		Dominant:   dom,
		Confidence: conf,
		Conflict:   emotion.Conflict{Kind: emotion.ConflictNone},
		Timestamp:  now,
	}
}
