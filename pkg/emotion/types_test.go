package emotion_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/affectd/affectd/pkg/emotion"
)

func TestNeutralVector(t *testing.T) {
	v := emotion.NeutralVector()
	if err := v.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	dom, conf := v.Dominant()
	if dom != emotion.Neutral {
		t.Errorf("dominant = %q, want %q", dom, emotion.Neutral)
	}
	if conf != 1 {
		t.Errorf("confidence = %v, want 1", conf)
	}
}

func TestIndex(t *testing.T) {
	for i, l := range emotion.Labels {
		idx, ok := emotion.Index(l)
		if !ok || idx != i {
			t.Errorf("Index(%q) = (%d, %v), want (%d, true)", l, idx, ok, i)
		}
	}
	if _, ok := emotion.Index("joy"); ok {
		t.Error("Index accepted an unknown label")
	}
}

func TestDominant_TieBreaksCanonicalOrder(t *testing.T) {
	var v emotion.Vector
	sadIdx, _ := emotion.Index(emotion.Sadness)
	angerIdx, _ := emotion.Index(emotion.Anger)
	v[sadIdx] = 0.5
	v[angerIdx] = 0.5

	dom, conf := v.Dominant()
	if dom != emotion.Sadness {
		t.Errorf("dominant = %q, want %q (first in canonical order)", dom, emotion.Sadness)
	}
	if conf != 0.5 {
		t.Errorf("confidence = %v, want 0.5", conf)
	}
}

func TestNormalized(t *testing.T) {
	var v emotion.Vector
	v[0] = 2
	v[1] = 2
	v[2] = -1 // clamped before normalising

	got := v.Normalized()
	if err := got.Validate(); err != nil {
		t.Fatalf("Validate after Normalized: %v", err)
	}
	if got[0] != 0.5 || got[1] != 0.5 {
		t.Errorf("normalised entries = %v, %v, want 0.5, 0.5", got[0], got[1])
	}
	if got[2] != 0 {
		t.Errorf("negative entry = %v after normalising, want 0", got[2])
	}
}

func TestNormalized_NoMassFallsBackToNeutral(t *testing.T) {
	var v emotion.Vector
	if got := v.Normalized(); got != emotion.NeutralVector() {
		t.Errorf("Normalized(zero) = %v, want neutral fallback", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*emotion.Vector)
		wantErr bool
	}{
		{"well-formed", func(v *emotion.Vector) { v[0] = 1 }, false},
		{"negative entry", func(v *emotion.Vector) { v[0] = 1.5; v[1] = -0.5 }, true},
		{"sum too low", func(v *emotion.Vector) { v[0] = 0.5 }, true},
		{"sum too high", func(v *emotion.Vector) { v[0] = 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v emotion.Vector
			tt.mutate(&v)
			err := v.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVectorJSON_RoundTrip(t *testing.T) {
	var v emotion.Vector
	v[0] = 0.25
	v[3] = 0.75

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.HasPrefix(string(data), `{"neutral":0.25`) {
		t.Errorf("keys not in canonical order: %s", data)
	}

	var got emotion.Vector
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != v {
		t.Errorf("round trip = %v, want %v", got, v)
	}
}

func TestVectorJSON_UnknownLabel(t *testing.T) {
	var v emotion.Vector
	if err := json.Unmarshal([]byte(`{"joy":1}`), &v); err == nil {
		t.Error("Unmarshal accepted an unknown label")
	}
}

func TestNewResult_DerivesDominant(t *testing.T) {
	var v emotion.Vector
	fearIdx, _ := emotion.Index(emotion.Fear)
	v[fearIdx] = 0.9
	v[0] = 0.1

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	res := emotion.NewResult(emotion.ModalityAudio, v, ts)

	if res.Dominant != emotion.Fear {
		t.Errorf("dominant = %q, want %q", res.Dominant, emotion.Fear)
	}
	if res.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", res.Confidence)
	}
	if !res.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", res.Timestamp, ts)
	}
}

func TestModality_IsValid(t *testing.T) {
	if !emotion.ModalityVision.IsValid() || !emotion.ModalityAudio.IsValid() {
		t.Error("built-in modalities reported invalid")
	}
	if emotion.Modality("text").IsValid() {
		t.Error("unknown modality reported valid")
	}
}
