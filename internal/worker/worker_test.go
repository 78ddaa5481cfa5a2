package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/affectd/affectd/internal/worker"
	"github.com/affectd/affectd/pkg/emotion"
	"github.com/affectd/affectd/pkg/media"
	"github.com/affectd/affectd/pkg/provider/infer"
	"github.com/affectd/affectd/pkg/provider/infer/mock"
)

func testFrame() media.Frame {
	return media.Frame{Width: 2, Height: 2, Pix: make([]byte, 16)}
}

func testWindow(mark float32) media.Window {
	return media.Window{Samples: []float32{mark}, SampleRate: 16000}
}

func spikeVector(l emotion.Label) emotion.Vector {
	var v emotion.Vector
	idx, _ := emotion.Index(l)
	v[idx] = 1
	return v
}

// waitEvent reads events until one of the wanted kind arrives.
func waitEvent(t *testing.T, p *worker.Proxy, kind worker.EventKind) worker.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-p.Events():
			if !ok {
				t.Fatalf("events channel closed while waiting for %q", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", kind)
		}
	}
}

func newProxy(t *testing.T, modality emotion.Modality, b infer.Backend) *worker.Proxy {
	t.Helper()
	p := worker.New(context.Background(), modality, b)
	t.Cleanup(p.Terminate)
	return p
}

func TestProxy_InitTransitionsToReady(t *testing.T) {
	backend := &mock.Backend{}
	p := newProxy(t, emotion.ModalityVision, backend)

	if got := p.State(); got != worker.StateIdle {
		t.Fatalf("initial state = %q, want idle", got)
	}
	if err := p.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	ev := waitEvent(t, p, worker.EventInitialized)
	if ev.State != worker.StateReady {
		t.Errorf("event state = %q, want ready", ev.State)
	}
	if ev.Path != infer.PathMock {
		t.Errorf("event path = %q, want %q", ev.Path, infer.PathMock)
	}
	if got := p.State(); got != worker.StateReady {
		t.Errorf("state = %q, want ready", got)
	}
}

func TestProxy_InitIsIdempotent(t *testing.T) {
	backend := &mock.Backend{}
	p := newProxy(t, emotion.ModalityVision, backend)

	p.Init()
	waitEvent(t, p, worker.EventInitialized)
	p.Init()

	// A process round-trip synchronises with the loop so the second Init has
	// been handled by the time we check.
	p.Process(testFrame())
	waitEvent(t, p, worker.EventResult)

	if got := backend.LoadCalls; got != 1 {
		t.Errorf("Load calls = %d, want 1", got)
	}
}

func TestProxy_LoadFailureIsFatal(t *testing.T) {
	backend := &mock.Backend{LoadErr: errors.New("model file corrupt")}
	p := newProxy(t, emotion.ModalityVision, backend)

	p.Init()
	ev := waitEvent(t, p, worker.EventError)
	if ev.State != worker.StateError {
		t.Fatalf("event state = %q, want error", ev.State)
	}
	if ev.Err == nil {
		t.Fatal("error event carries no error")
	}

	// The state is permanent; further units are dropped, never inferred.
	p.Process(testFrame())
	time.Sleep(20 * time.Millisecond)
	if got := backend.InferCallCount(); got != 0 {
		t.Errorf("Infer calls after fatal load = %d, want 0", got)
	}
	if got := p.State(); got != worker.StateError {
		t.Errorf("state = %q, want error", got)
	}
}

func TestProxy_ResultsAreFIFO(t *testing.T) {
	backend := &mock.Backend{InferVectors: []emotion.Vector{
		spikeVector(emotion.Happiness),
		spikeVector(emotion.Sadness),
	}}
	p := newProxy(t, emotion.ModalityVision, backend)

	p.Init()
	waitEvent(t, p, worker.EventInitialized)

	p.Process(testFrame())
	p.Process(testFrame())

	first := waitEvent(t, p, worker.EventResult)
	second := waitEvent(t, p, worker.EventResult)

	if first.Result.Dominant != emotion.Happiness {
		t.Errorf("first result = %q, want happiness", first.Result.Dominant)
	}
	if second.Result.Dominant != emotion.Sadness {
		t.Errorf("second result = %q, want sadness", second.Result.Dominant)
	}
}

func TestProxy_VideoDroppedWhileLoading(t *testing.T) {
	backend := &mock.Backend{LoadDelay: make(chan struct{})}
	p := newProxy(t, emotion.ModalityVision, backend)

	// A process request in StateIdle triggers loading; the frame itself is
	// dropped because a fresher frame is always coming.
	p.Process(testFrame())
	close(backend.LoadDelay)
	waitEvent(t, p, worker.EventInitialized)

	time.Sleep(20 * time.Millisecond)
	if got := backend.InferCallCount(); got != 0 {
		t.Errorf("Infer calls = %d, want 0 (frame dropped during load)", got)
	}
}

func TestProxy_AudioPendingSlotKeepsLatest(t *testing.T) {
	backend := &mock.Backend{LoadDelay: make(chan struct{})}
	p := newProxy(t, emotion.ModalityAudio, backend)

	p.Process(testWindow(1))
	p.Process(testWindow(2)) // evicts the first window
	close(backend.LoadDelay)

	waitEvent(t, p, worker.EventInitialized)
	waitEvent(t, p, worker.EventResult)

	if got := backend.InferCallCount(); got != 1 {
		t.Fatalf("Infer calls = %d, want 1", got)
	}
	win := backend.InferCalls[0].Unit.(media.Window)
	if win.Samples[0] != 2 {
		t.Errorf("inferred window mark = %v, want 2 (latest wins)", win.Samples[0])
	}
}

func TestProxy_TransientInferErrorKeepsReady(t *testing.T) {
	backend := &mock.Backend{InferErr: errors.New("tensor shape mismatch")}
	p := newProxy(t, emotion.ModalityVision, backend)

	p.Init()
	waitEvent(t, p, worker.EventInitialized)

	p.Process(testFrame())
	ev := waitEvent(t, p, worker.EventError)
	if ev.State != worker.StateReady {
		t.Errorf("event state = %q, want ready (transient error)", ev.State)
	}
	if got := p.State(); got != worker.StateReady {
		t.Errorf("state = %q, want ready", got)
	}
}

func TestProxy_TerminateRejectsFurtherWork(t *testing.T) {
	backend := &mock.Backend{}
	p := worker.New(context.Background(), emotion.ModalityVision, backend)

	p.Init()
	waitEvent(t, p, worker.EventInitialized)

	p.Terminate()
	p.Terminate() // safe to repeat

	if err := p.Process(testFrame()); !errors.Is(err, worker.ErrTerminated) {
		t.Errorf("Process after terminate = %v, want ErrTerminated", err)
	}
	if err := p.Init(); !errors.Is(err, worker.ErrTerminated) {
		t.Errorf("Init after terminate = %v, want ErrTerminated", err)
	}
	if got := backend.CloseCalls; got != 1 {
		t.Errorf("backend Close calls = %d, want 1", got)
	}

	// The events channel drains to a close after the final status event.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-p.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed after terminate")
		}
	}
}

// A result that completes after Terminate must be discarded, never
// delivered — terminated proxies mutate nothing.
func TestProxy_ResultAfterTerminateIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	backend := &mock.Backend{
		InferDelay:   release,
		InferVectors: []emotion.Vector{spikeVector(emotion.Happiness)},
	}
	p := newProxy(t, emotion.ModalityVision, backend)

	p.Init()
	waitEvent(t, p, worker.EventInitialized)

	// Hold an inference in flight.
	p.Process(testFrame())
	deadline := time.Now().Add(2 * time.Second)
	for backend.InferCallCount() == 0 {
		if !time.Now().Before(deadline) {
			t.Fatal("inference never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Terminate while the call is blocked; it completes only once the proxy
	// has already committed to shutting down.
	terminated := make(chan struct{})
	go func() {
		p.Terminate()
		close(terminated)
	}()
	for !errors.Is(p.Process(testFrame()), worker.ErrTerminated) {
		if !time.Now().Before(deadline) {
			t.Fatal("proxy never started terminating")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)

	select {
	case <-terminated:
	case <-time.After(2 * time.Second):
		t.Fatal("Terminate did not return after the in-flight call completed")
	}

	// The channel drains to a close; the late result must not be among the
	// remaining events.
	for ev := range p.Events() {
		if ev.Kind == worker.EventResult {
			t.Fatalf("result delivered after terminate: %+v", ev.Result)
		}
	}
	if got := backend.InferCallCount(); got != 1 {
		t.Errorf("Infer calls = %d, want 1", got)
	}
}

func TestProxy_ContextCancelTerminates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &mock.Backend{}
	p := worker.New(ctx, emotion.ModalityVision, backend)

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := p.Process(testFrame()); errors.Is(err, worker.ErrTerminated) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("proxy never terminated after context cancellation")
}
