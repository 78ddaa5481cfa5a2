package worker

import (
	"github.com/affectd/affectd/pkg/emotion"
	"github.com/affectd/affectd/pkg/media"
	"github.com/affectd/affectd/pkg/provider/infer"
)

// State is the lifecycle state of one modality's worker proxy.
type State string

const (
	// StateIdle means no init has been requested yet, or the proxy has been
	// terminated.
	StateIdle State = "idle"

	// StateLoading means the backend model is loading. Loading may persist
	// indefinitely; it is surfaced as status rather than blocking anything.
	StateLoading State = "loading"

	// StateReady means the backend accepts process requests.
	StateReady State = "ready"

	// StateError means the backend failed to load. The state is permanent
	// for this proxy instance; create a new proxy to retry.
	StateError State = "error"
)

// IsValid reports whether s is a recognised state.
func (s State) IsValid() bool {
	switch s {
	case StateIdle, StateLoading, StateReady, StateError:
		return true
	}
	return false
}

// Available reports whether fusion should treat the modality as able to
// deliver results.
func (s State) Available() bool { return s == StateReady }

// opKind tags an outbound command to the worker loop.
type opKind int

const (
	opInit opKind = iota
	opProcess
)

// command is the outbound message type from the orchestrator to the worker
// loop. Exactly one interpretation applies per op; Unit is set only for
// opProcess.
type command struct {
	op   opKind
	unit media.Unit
}

// EventKind tags an inbound event from the worker loop.
type EventKind string

const (
	// EventInitialized reports a successful init, carrying the chosen
	// execution path. State is StateReady.
	EventInitialized EventKind = "initialized"

	// EventResult carries a completed inference result.
	EventResult EventKind = "result"

	// EventStatus reports a state transition with no other payload.
	EventStatus EventKind = "status"

	// EventError reports a failure: transient (state stays ready) or fatal
	// (state is StateError).
	EventError EventKind = "error"
)

// Event is the inbound message type from a worker proxy. Kind determines
// which payload fields are meaningful.
type Event struct {
	// Modality identifies the emitting proxy.
	Modality emotion.Modality

	// Kind discriminates the payload.
	Kind EventKind

	// Result is set for EventResult. The receiver owns it from delivery on;
	// the proxy retains no reference.
	Result *emotion.ModalityResult

	// State is set for every event and reflects the proxy state after the
	// event.
	State State

	// Path is set for EventInitialized.
	Path infer.ExecutionPath

	// Err is set for EventError.
	Err error
}
