// Package infer defines the Backend interface for emotion inference engines.
//
// A backend wraps one modality's model (e.g., the FER+ facial-expression
// ONNX model or a vocal-prosody classifier) and exposes a uniform
// load/infer/close surface. The engine core treats a backend as an opaque
// capability: given a preprocessed media unit, produce an emotion
// probability vector. Backends are allowed to be slow and allowed to fail;
// they are not allowed to block forever.
//
// Implementations do not need to be safe for concurrent use — each backend
// is owned by exactly one worker proxy, which serialises all calls.
package infer

import (
	"context"
	"errors"

	"github.com/affectd/affectd/pkg/emotion"
	"github.com/affectd/affectd/pkg/media"
)

// ExecutionPath reports which compute path a backend selected at load time.
// Backends must attempt an accelerated path first and fall back to the
// baseline CPU path transparently; the chosen path is reported alongside the
// ready transition so consumers can explain performance, not gate on it.
type ExecutionPath string

const (
	// PathCUDA is GPU-accelerated execution via the CUDA provider.
	PathCUDA ExecutionPath = "cuda"

	// PathCPU is baseline CPU execution.
	PathCPU ExecutionPath = "cpu"

	// PathMock is used by test doubles and the synthetic generator.
	PathMock ExecutionPath = "mock"
)

// ErrBadInput is returned (wrapped) by Infer when the unit cannot be
// consumed by this backend — wrong unit type for the modality, or a payload
// the model cannot digest. A bad input is a transient failure: the backend
// stays usable and the next unit is processed normally.
var ErrBadInput = errors.New("infer: bad input unit")

// Backend is the abstraction over one modality's inference engine.
type Backend interface {
	// Load initialises the model and returns the execution path that was
	// selected. Load is called at most once per backend instance, from the
	// owning worker's goroutine. A Load failure is fatal for the backend;
	// the caller must not call Infer afterwards.
	Load(ctx context.Context) (ExecutionPath, error)

	// Infer runs one inference on a bounded media unit and returns a
	// normalised emotion probability vector. Errors are transient unless
	// Load has failed: the caller may keep submitting units.
	Infer(ctx context.Context, unit media.Unit) (emotion.Vector, error)

	// Close releases all model resources. Calling Close more than once is
	// safe and returns nil.
	Close() error
}
