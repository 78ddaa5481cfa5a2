// Package chunker turns continuous sensor streams into the bounded,
// inference-ready units the worker proxies accept: throttled single video
// frames and accumulated, resampled audio windows.
package chunker

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/affectd/affectd/pkg/media"
)

// DefaultFrameInterval is the video sampling cadence: one frame roughly
// every 100 ms (10 Hz) regardless of the display refresh rate.
const DefaultFrameInterval = 100 * time.Millisecond

// VideoSampler throttles frame captures to a fixed cadence. Requests inside
// the cadence window are dropped, not queued — the pipeline favours recency
// over completeness. Safe for concurrent use; the drop decision is atomic,
// so a re-entrant call inside the same window reliably observes the drop.
type VideoSampler struct {
	limiter *rate.Limiter
}

// NewVideoSampler creates a sampler with the given cadence interval.
// A non-positive interval falls back to [DefaultFrameInterval].
func NewVideoSampler(interval time.Duration) *VideoSampler {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &VideoSampler{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Sample offers a captured frame at the given time. It returns the frame
// and true when the frame passes the throttle, or a zero frame and false
// when the request falls inside the cadence window or the frame is
// malformed. Malformed frames are skipped without consuming the window.
func (s *VideoSampler) Sample(frame media.Frame, now time.Time) (media.Frame, bool) {
	if frame.Empty() {
		return media.Frame{}, false
	}
	if !s.limiter.AllowN(now, 1) {
		return media.Frame{}, false
	}
	frame.Timestamp = now
	return frame, true
}
