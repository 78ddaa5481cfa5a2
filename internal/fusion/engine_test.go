package fusion_test

import (
	"math"
	"testing"
	"time"

	"github.com/affectd/affectd/internal/fusion"
	"github.com/affectd/affectd/pkg/emotion"
)

// result builds a ModalityResult whose dominant label carries the given
// confidence, with the remainder of the mass on neutral.
func result(m emotion.Modality, dom emotion.Label, conf float64) *emotion.ModalityResult {
	var v emotion.Vector
	idx, _ := emotion.Index(dom)
	// Spread the remainder thin across the other labels so dom stays
	// dominant even at low confidence.
	rest := (1 - conf) / float64(emotion.NumLabels-1)
	for i := range v {
		v[i] = rest
	}
	v[idx] = conf
	res := emotion.NewResult(m, v, time.Now())
	return &res
}

func vision(dom emotion.Label, conf float64) *emotion.ModalityResult {
	return result(emotion.ModalityVision, dom, conf)
}

func audio(dom emotion.Label, conf float64) *emotion.ModalityResult {
	return result(emotion.ModalityAudio, dom, conf)
}

func TestFuse_NeitherModalityFallsBackToNeutral(t *testing.T) {
	e := fusion.NewEngine(fusion.Config{})
	now := time.Now()

	got := e.Fuse(nil, nil, now)
	if got.Dominant != emotion.Neutral {
		t.Errorf("dominant = %q, want neutral", got.Dominant)
	}
	if got.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", got.Confidence)
	}
	if got.Conflict.Detected {
		t.Error("neutral fallback must not report a conflict")
	}
	if !got.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, now)
	}
}

func TestFuse_SingleModalityPassesThrough(t *testing.T) {
	e := fusion.NewEngine(fusion.Config{})
	v := vision(emotion.Happiness, 0.8)

	got := e.Fuse(v, nil, time.Now())
	if got.Vector != v.Vector {
		t.Errorf("fused vector = %v, want the vision vector unchanged", got.Vector)
	}
	if got.Dominant != emotion.Happiness || got.Confidence != 0.8 {
		t.Errorf("dominant = %q/%v, want happiness/0.8", got.Dominant, got.Confidence)
	}
	if got.Conflict.Detected {
		t.Error("single-modality fusion must not report a conflict")
	}
}

func TestFuse_WeightedCombination(t *testing.T) {
	e := fusion.NewEngine(fusion.Config{VisionWeight: 0.6, AudioWeight: 0.4})

	v := vision(emotion.Happiness, 1)
	a := audio(emotion.Anger, 1)
	got := e.Fuse(v, a, time.Now())

	hapIdx, _ := emotion.Index(emotion.Happiness)
	angIdx, _ := emotion.Index(emotion.Anger)
	if math.Abs(got.Vector[hapIdx]-0.6) > 1e-9 {
		t.Errorf("fused happiness = %v, want 0.6", got.Vector[hapIdx])
	}
	if math.Abs(got.Vector[angIdx]-0.4) > 1e-9 {
		t.Errorf("fused anger = %v, want 0.4", got.Vector[angIdx])
	}
	if got.Dominant != emotion.Happiness {
		t.Errorf("dominant = %q, want happiness", got.Dominant)
	}
}

func TestDetectConflict(t *testing.T) {
	e := fusion.NewEngine(fusion.Config{ConflictThreshold: 0.4})

	tests := []struct {
		name   string
		vision *emotion.ModalityResult
		audio  *emotion.ModalityResult
		want   emotion.ConflictKind
	}{
		{
			name:   "sarcasm: happy face over angry voice",
			vision: vision(emotion.Happiness, 0.7),
			audio:  audio(emotion.Anger, 0.6),
			want:   emotion.ConflictSarcasm,
		},
		{
			name:   "sarcasm: happy face over contemptuous voice",
			vision: vision(emotion.Happiness, 0.7),
			audio:  audio(emotion.Contempt, 0.6),
			want:   emotion.ConflictSarcasm,
		},
		{
			name:   "masking: firm neutral face over sad voice",
			vision: vision(emotion.Neutral, 0.7),
			audio:  audio(emotion.Sadness, 0.6),
			want:   emotion.ConflictMasking,
		},
		{
			name:   "mixed: confident disagreeing non-neutral reads",
			vision: vision(emotion.Sadness, 0.6),
			audio:  audio(emotion.Fear, 0.6),
			want:   emotion.ConflictMixed,
		},
		{
			name:   "agreement is no conflict",
			vision: vision(emotion.Happiness, 0.9),
			audio:  audio(emotion.Happiness, 0.9),
			want:   emotion.ConflictNone,
		},
		{
			name:   "below threshold is no conflict",
			vision: vision(emotion.Happiness, 0.3),
			audio:  audio(emotion.Anger, 0.3),
			want:   emotion.ConflictNone,
		},
		{
			name:   "weak neutral face does not mask",
			vision: vision(emotion.Neutral, 0.45),
			audio:  audio(emotion.Sadness, 0.6),
			want:   emotion.ConflictNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Fuse(tt.vision, tt.audio, time.Now()).Conflict
			if got.Kind != tt.want {
				t.Errorf("conflict kind = %q, want %q", got.Kind, tt.want)
			}
			if wantDetected := tt.want != emotion.ConflictNone; got.Detected != wantDetected {
				t.Errorf("detected = %v, want %v", got.Detected, wantDetected)
			}
			if got.Detected && got.Description == "" {
				t.Error("detected conflict carries no description")
			}
		})
	}
}

func TestDetectConflict_SarcasmOutranksMixed(t *testing.T) {
	// Happy face over an angry voice matches both the sarcasm and the mixed
	// pattern; only the higher-priority sarcasm is reported.
	e := fusion.NewEngine(fusion.Config{})
	got := e.Fuse(vision(emotion.Happiness, 0.8), audio(emotion.Anger, 0.8), time.Now()).Conflict
	if got.Kind != emotion.ConflictSarcasm {
		t.Errorf("conflict kind = %q, want sarcasm", got.Kind)
	}
}

func TestNewEngine_Defaults(t *testing.T) {
	e := fusion.NewEngine(fusion.Config{})

	v := vision(emotion.Happiness, 1)
	a := audio(emotion.Anger, 1)
	got := e.Fuse(v, a, time.Now())

	hapIdx, _ := emotion.Index(emotion.Happiness)
	if math.Abs(got.Vector[hapIdx]-fusion.DefaultVisionWeight) > 1e-9 {
		t.Errorf("fused happiness = %v, want the default vision weight %v",
			got.Vector[hapIdx], fusion.DefaultVisionWeight)
	}
}
