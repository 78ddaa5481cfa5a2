package stream

import (
	"time"

	"github.com/affectd/affectd/internal/config"
	"github.com/affectd/affectd/internal/worker"
	"github.com/affectd/affectd/pkg/provider/infer"
)

// Websocket message types pushed to subscribed clients.
const (
	// MessageState carries the smoothed emotion state.
	MessageState = "state.update"

	// MessageStatus carries the engine status snapshot.
	MessageStatus = "status.update"
)

// envelope is the wire frame for every pushed message.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WorkerStatus is one modality's worker snapshot as served on /v1/status.
type WorkerStatus struct {
	State worker.State        `json:"state"`
	Path  infer.ExecutionPath `json:"path,omitempty"`

	// LastError is the most recent backend error message, if any.
	LastError string `json:"last_error,omitempty"`
}

// SessionStatus reports how long the engine has been running.
type SessionStatus struct {
	StartedAt time.Time `json:"started_at"`

	// DurationSeconds is computed at snapshot time.
	DurationSeconds float64 `json:"duration_seconds"`
}

// Status is the engine status snapshot served on /v1/status and pushed as
// [MessageStatus] frames.
type Status struct {
	Mode    config.Mode             `json:"mode"`
	Workers map[string]WorkerStatus `json:"workers"`
	Session SessionStatus           `json:"session"`
}

// StatusSource provides point-in-time status snapshots. The app implements
// this over its worker event bookkeeping.
type StatusSource interface {
	Status() Status
}
