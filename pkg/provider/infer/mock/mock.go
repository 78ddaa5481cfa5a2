// Package mock provides a test double for the infer.Backend interface.
//
// Configure the vectors (or errors) each call should produce, then inspect
// the recorded calls. A zero-value Backend loads successfully on [PathMock]
// and returns a neutral vector from every Infer call.
//
// Example:
//
//	b := &mock.Backend{InferVectors: []emotion.Vector{v1, v2}}
//	path, _ := b.Load(ctx)
//	vec, _ := b.Infer(ctx, unit) // returns v1
package mock

import (
	"context"
	"sync"

	"github.com/affectd/affectd/pkg/emotion"
	"github.com/affectd/affectd/pkg/media"
	"github.com/affectd/affectd/pkg/provider/infer"
)

// Ensure Backend implements infer.Backend at compile time.
var _ infer.Backend = (*Backend)(nil)

// InferCall records a single invocation of Backend.Infer.
type InferCall struct {
	// Unit is the media unit passed to Infer.
	Unit media.Unit
}

// Backend is a mock implementation of infer.Backend.
type Backend struct {
	mu sync.Mutex

	// LoadPath is the execution path reported by Load. Defaults to PathMock.
	LoadPath infer.ExecutionPath

	// LoadErr, if non-nil, is returned by Load (fatal load failure).
	LoadErr error

	// LoadDelay, if non-nil, is closed by the test to release a Load call
	// that should block. Leave nil for Load to return immediately.
	LoadDelay chan struct{}

	// InferVectors are returned by successive Infer calls in order. When
	// exhausted (or empty), Infer returns a neutral vector.
	InferVectors []emotion.Vector

	// InferErr, if non-nil, is returned by every Infer call.
	InferErr error

	// InferDelay, if non-nil, is closed by the test to release Infer calls
	// that should block. Unlike LoadDelay it deliberately ignores context
	// cancellation, so tests can hold a call in flight across Terminate and
	// still have it complete with a vector.
	InferDelay chan struct{}

	// --- Call records ---

	// LoadCalls is the number of times Load was called.
	LoadCalls int

	// InferCalls records every call to Infer in order.
	InferCalls []InferCall

	// CloseCalls is the number of times Close was called.
	CloseCalls int

	inferIdx int
}

// Load records the call, optionally blocks on LoadDelay, and returns
// (LoadPath, LoadErr).
func (b *Backend) Load(ctx context.Context) (infer.ExecutionPath, error) {
	b.mu.Lock()
	b.LoadCalls++
	delay := b.LoadDelay
	path := b.LoadPath
	loadErr := b.LoadErr
	b.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if loadErr != nil {
		return "", loadErr
	}
	if path == "" {
		path = infer.PathMock
	}
	return path, nil
}

// Infer records the call, optionally blocks on InferDelay, and returns the
// next configured vector. The lock is released before blocking so call
// inspection stays usable while a call is held in flight.
func (b *Backend) Infer(_ context.Context, unit media.Unit) (emotion.Vector, error) {
	b.mu.Lock()
	b.InferCalls = append(b.InferCalls, InferCall{Unit: unit})
	delay := b.InferDelay
	inferErr := b.InferErr
	vec := emotion.NeutralVector()
	if b.inferIdx < len(b.InferVectors) {
		vec = b.InferVectors[b.inferIdx]
		b.inferIdx++
	}
	b.mu.Unlock()

	if delay != nil {
		<-delay
	}
	if inferErr != nil {
		return emotion.Vector{}, inferErr
	}
	return vec, nil
}

// Close records the call and returns nil.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CloseCalls++
	return nil
}

// InferCallCount returns the number of Infer calls. Thread-safe.
func (b *Backend) InferCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.InferCalls)
}

// ResetCalls clears all recorded calls. Thread-safe.
func (b *Backend) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.LoadCalls = 0
	b.InferCalls = nil
	b.CloseCalls = 0
	b.inferIdx = 0
}
