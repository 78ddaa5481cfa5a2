package fusion

import (
	"fmt"

	"github.com/affectd/affectd/pkg/emotion"
)

// hostileVoice lists the audio dominants that pair with a smiling face to
// form the sarcasm pattern.
var hostileVoice = map[emotion.Label]bool{
	emotion.Anger:    true,
	emotion.Contempt: true,
	emotion.Disgust:  true,
}

// detectConflict evaluates the cross-modal disagreement rules against the
// unfused per-modality dominants, independent of the fused arg-max. Rules
// are checked in priority order — sarcasm, masking, mixed — and at most one
// conflict is reported.
func (e *Engine) detectConflict(vision, audio *emotion.ModalityResult) emotion.Conflict {
	// Sarcasm: a happy face over a hostile voice, both confident.
	if vision.Dominant == emotion.Happiness &&
		hostileVoice[audio.Dominant] &&
		vision.Confidence > e.tau && audio.Confidence > e.tau {
		return emotion.Conflict{
			Detected: true,
			Kind:     emotion.ConflictSarcasm,
			Description: fmt.Sprintf("facial expression reads happiness while vocal tone reads %s",
				audio.Dominant),
		}
	}

	// Masking: a firmly neutral face hiding a confident non-neutral voice.
	if neutralIdx, _ := emotion.Index(emotion.Neutral); vision.Dominant == emotion.Neutral &&
		vision.Vector[neutralIdx] > 0.5 &&
		audio.Dominant != emotion.Neutral && audio.Confidence > e.tau {
		return emotion.Conflict{
			Detected: true,
			Kind:     emotion.ConflictMasking,
			Description: fmt.Sprintf("neutral facial expression over a vocal tone of %s",
				audio.Dominant),
		}
	}

	// Mixed: two confident, different, non-neutral reads.
	if vision.Dominant != audio.Dominant &&
		vision.Dominant != emotion.Neutral && audio.Dominant != emotion.Neutral &&
		vision.Confidence > e.tau && audio.Confidence > e.tau {
		return emotion.Conflict{
			Detected: true,
			Kind:     emotion.ConflictMixed,
			Description: fmt.Sprintf("facial expression reads %s while vocal tone reads %s",
				vision.Dominant, audio.Dominant),
		}
	}

	return emotion.Conflict{Kind: emotion.ConflictNone}
}
