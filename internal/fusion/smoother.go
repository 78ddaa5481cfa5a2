package fusion

import "github.com/affectd/affectd/pkg/emotion"

// DefaultAlpha is the exponential-moving-average weight of the newest fused
// vector. Tuned so the running value reaches ~95% of a step change within
// roughly five updates ((1-0.3)^5 ≈ 0.168 residual).
const DefaultAlpha = 0.3

// Smoother maintains the exponential moving average of fused vectors that
// stabilises the displayed emotion against frame-to-frame jitter.
//
// A Smoother is not safe for concurrent use; the owning [Store] serialises
// all access.
type Smoother struct {
	alpha  float64
	seeded bool
	vec    emotion.Vector
}

// NewSmoother creates a Smoother with the given EMA weight. A non-positive
// alpha (or one above 1) falls back to [DefaultAlpha].
func NewSmoother(alpha float64) *Smoother {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &Smoother{alpha: alpha}
}

// Update folds a new fused value into the running average and returns the
// resulting display-stable state. The first update seeds the running vector
// directly from the fused vector. The dominant label and confidence are
// recomputed from the smoothed vector — not carried over from the fused
// one — while the conflict signal passes through unsmoothed.
func (s *Smoother) Update(f emotion.Fused) emotion.Smoothed {
	if !s.seeded {
		s.vec = f.Vector
		s.seeded = true
	} else {
		for i := range s.vec {
			s.vec[i] = s.vec[i]*(1-s.alpha) + f.Vector[i]*s.alpha
		}
	}

	dom, conf := s.vec.Dominant()
	return emotion.Smoothed{
		Vector:     s.vec,
		Dominant:   dom,
		Confidence: conf,
		Conflict:   f.Conflict,
		Timestamp:  f.Timestamp,
	}
}

// Reset clears the running average so the next update seeds fresh. Used
// when switching data sources mid-session.
func (s *Smoother) Reset() {
	s.seeded = false
	s.vec = emotion.Vector{}
}
