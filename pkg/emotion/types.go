// Package emotion defines the shared data model for the affectd pipeline:
// probability vectors over the eight FER+ emotion categories, per-modality
// inference results, and the fused/smoothed values consumers render.
//
// All types in this package are plain values. Once constructed they are
// never mutated; producers hand them off by value (or by channel) and the
// receiver owns them from that point on.
package emotion

import (
	"encoding/json"
	"fmt"
	"time"
)

// Label identifies one of the eight emotion categories recognised by the
// FER+ model family.
type Label string

const (
	Neutral   Label = "neutral"
	Happiness Label = "happiness"
	Sadness   Label = "sadness"
	Anger     Label = "anger"
	Fear      Label = "fear"
	Surprise  Label = "surprise"
	Disgust   Label = "disgust"
	Contempt  Label = "contempt"
)

// NumLabels is the number of emotion categories in a [Vector].
const NumLabels = 8

// Labels lists all categories in canonical order. The order is load-bearing:
// it is the index order of [Vector] and the tie-break order for Dominant.
var Labels = [NumLabels]Label{
	Neutral, Happiness, Sadness, Anger, Fear, Surprise, Disgust, Contempt,
}

var labelIndex = func() map[Label]int {
	m := make(map[Label]int, NumLabels)
	for i, l := range Labels {
		m[l] = i
	}
	return m
}()

// Index returns the canonical vector index for l and whether l is a known label.
func Index(l Label) (int, bool) {
	i, ok := labelIndex[l]
	return i, ok
}

// Modality identifies one sensing channel.
type Modality string

const (
	// ModalityVision is the facial-expression channel (video frames).
	ModalityVision Modality = "vision"

	// ModalityAudio is the vocal-prosody channel (audio windows).
	ModalityAudio Modality = "audio"
)

// IsValid reports whether m is a recognised modality.
func (m Modality) IsValid() bool {
	return m == ModalityVision || m == ModalityAudio
}

// Vector is a probability distribution over the eight emotion categories,
// indexed in [Labels] order. A well-formed vector has no negative entries
// and sums to 1 within floating-point tolerance; see [Vector.Validate].
type Vector [NumLabels]float64

// NeutralVector returns the 100%-neutral distribution used as the fallback
// when no modality has produced a result yet.
func NeutralVector() Vector {
	var v Vector
	v[0] = 1
	return v
}

// Sum returns the total probability mass of v.
func (v Vector) Sum() float64 {
	var s float64
	for _, p := range v {
		s += p
	}
	return s
}

// Dominant returns the arg-max label of v and its probability. Ties are
// broken by canonical label order: the first label with the maximum value wins.
func (v Vector) Dominant() (Label, float64) {
	best := 0
	for i := 1; i < NumLabels; i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return Labels[best], v[best]
}

// Normalized returns a copy of v scaled so its entries sum to 1. Negative
// entries are clamped to zero first. A vector with no mass at all normalises
// to [NeutralVector].
func (v Vector) Normalized() Vector {
	var out Vector
	var sum float64
	for i, p := range v {
		if p > 0 {
			out[i] = p
			sum += p
		}
	}
	if sum == 0 {
		return NeutralVector()
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Validate reports whether v is a well-formed probability distribution:
// every entry ≥ 0 and the sum within [0.99, 1.01].
func (v Vector) Validate() error {
	var sum float64
	for i, p := range v {
		if p < 0 {
			return fmt.Errorf("emotion: vector entry %q is negative (%g)", Labels[i], p)
		}
		sum += p
	}
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("emotion: vector sum %g outside [0.99, 1.01]", sum)
	}
	return nil
}

// MarshalJSON encodes v as a JSON object keyed by label, e.g.
// {"neutral":0.8,"happiness":0.2,...}. Keys appear in canonical order.
func (v Vector) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 128)
	buf = append(buf, '{')
	for i, l := range Labels {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '"')
		buf = append(buf, l...)
		buf = append(buf, '"', ':')
		num, err := json.Marshal(v[i])
		if err != nil {
			return nil, err
		}
		buf = append(buf, num...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// UnmarshalJSON decodes a label→probability object. Unknown labels are an
// error; absent labels default to zero.
func (v *Vector) UnmarshalJSON(data []byte) error {
	var m map[Label]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	var out Vector
	for l, p := range m {
		i, ok := labelIndex[l]
		if !ok {
			return fmt.Errorf("emotion: unknown label %q", l)
		}
		out[i] = p
	}
	*v = out
	return nil
}

// ModalityResult is one completed inference on a single modality. Results
// are immutable once created; a newer result from the same modality
// supersedes the previous one entirely (no history is retained).
type ModalityResult struct {
	Modality   Modality  `json:"modality"`
	Vector     Vector    `json:"vector"`
	Dominant   Label     `json:"dominant"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewResult builds a ModalityResult from a raw inference vector, deriving
// the dominant label and its confidence from the vector itself.
func NewResult(m Modality, v Vector, ts time.Time) ModalityResult {
	dom, conf := v.Dominant()
	return ModalityResult{
		Modality:   m,
		Vector:     v,
		Dominant:   dom,
		Confidence: conf,
		Timestamp:  ts,
	}
}

// ConflictKind classifies a cross-modal disagreement pattern.
type ConflictKind string

const (
	ConflictNone    ConflictKind = "none"
	ConflictSarcasm ConflictKind = "sarcasm"
	ConflictMasking ConflictKind = "masking"
	ConflictMixed   ConflictKind = "mixed"
)

// Conflict describes a detected cross-modal disagreement. At most one
// conflict is reported per fusion.
type Conflict struct {
	Detected    bool         `json:"detected"`
	Kind        ConflictKind `json:"kind"`
	Description string       `json:"description,omitempty"`
}

// Fused is the instantaneous combination of the latest available modality
// results. It may jitter frame-to-frame; consumers should render [Smoothed]
// instead.
type Fused struct {
	Vector     Vector    `json:"vector"`
	Dominant   Label     `json:"dominant"`
	Confidence float64   `json:"confidence"`
	Conflict   Conflict  `json:"conflict"`
	Timestamp  time.Time `json:"timestamp"`
}

// Smoothed is the display-stable emotion state: the same shape as [Fused]
// but with an exponentially averaged vector and a dominant label recomputed
// from that average. The conflict flag is carried through unsmoothed.
type Smoothed struct {
	Vector     Vector    `json:"vector"`
	Dominant   Label     `json:"dominant"`
	Confidence float64   `json:"confidence"`
	Conflict   Conflict  `json:"conflict"`
	Timestamp  time.Time `json:"timestamp"`
}

// Record is the (label, confidence, timestamp) tuple an external persistence
// layer may consume to build session summaries. The engine itself never
// stores these.
type Record struct {
	Label      Label     `json:"label"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}
