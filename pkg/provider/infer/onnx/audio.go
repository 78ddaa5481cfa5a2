package onnx

import (
	"context"
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/affectd/affectd/pkg/emotion"
	"github.com/affectd/affectd/pkg/media"
	"github.com/affectd/affectd/pkg/provider/infer"
)

// Compile-time assertion that AudioBackend satisfies infer.Backend.
var _ infer.Backend = (*AudioBackend)(nil)

const (
	defaultAudioInputName  = "input"
	defaultAudioOutputName = "output"
	defaultAudioSampleRate = 16000
	defaultAudioWindowSec  = 1
)

// AudioBackend runs a vocal-prosody emotion classifier on accumulated audio
// windows. The model is expected to take a fixed-length mono float32
// waveform of shape (1, N) and produce eight logits in FER+ label order.
// Windows shorter than N samples are zero-padded; longer windows are
// truncated to the most recent N samples.
//
// Not safe for concurrent use; the owning worker serialises all calls.
type AudioBackend struct {
	modelPath   string
	libraryPath string
	disableCUDA bool
	inputName   string
	outputName  string
	sampleRate  int

	windowLen int
	session   *ort.AdvancedSession
	opts      *ort.SessionOptions
	input     *ort.Tensor[float32]
	output    *ort.Tensor[float32]
	closed    bool
}

// AudioOption is a functional option for configuring an AudioBackend.
type AudioOption func(*AudioBackend)

// WithAudioLibraryPath overrides the onnxruntime shared library location.
func WithAudioLibraryPath(path string) AudioOption {
	return func(b *AudioBackend) { b.libraryPath = path }
}

// WithAudioCPUOnly skips the CUDA execution provider entirely.
func WithAudioCPUOnly() AudioOption {
	return func(b *AudioBackend) { b.disableCUDA = true }
}

// WithAudioIONames overrides the model's graph input/output node names.
func WithAudioIONames(input, output string) AudioOption {
	return func(b *AudioBackend) {
		b.inputName = input
		b.outputName = output
	}
}

// WithAudioSampleRate sets the waveform rate the model was trained on.
// Defaults to 16000 Hz.
func WithAudioSampleRate(rate int) AudioOption {
	return func(b *AudioBackend) { b.sampleRate = rate }
}

// NewAudio creates an AudioBackend for the prosody model at modelPath.
// The model is not loaded until [AudioBackend.Load] is called.
func NewAudio(modelPath string, opts ...AudioOption) (*AudioBackend, error) {
	if modelPath == "" {
		return nil, errors.New("onnx: audio model path must not be empty")
	}
	b := &AudioBackend{
		modelPath:  modelPath,
		inputName:  defaultAudioInputName,
		outputName: defaultAudioOutputName,
		sampleRate: defaultAudioSampleRate,
	}
	for _, o := range opts {
		o(b)
	}
	b.windowLen = b.sampleRate * defaultAudioWindowSec
	return b, nil
}

// SampleRate returns the waveform rate the model expects. The chunker uses
// this as its resampling target.
func (b *AudioBackend) SampleRate() int { return b.sampleRate }

// Load initialises the onnxruntime environment, builds the session, and
// allocates the fixed input/output tensors. Returns the execution path that
// was selected.
func (b *AudioBackend) Load(ctx context.Context) (infer.ExecutionPath, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("onnx: audio load cancelled: %w", err)
	}
	if err := initEnvironment(b.libraryPath); err != nil {
		return "", fmt.Errorf("onnx: init environment: %w", err)
	}

	opts, path, err := newSessionOptions(!b.disableCUDA)
	if err != nil {
		return "", fmt.Errorf("onnx: session options: %w", err)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(b.windowLen)))
	if err != nil {
		_ = opts.Destroy()
		return "", fmt.Errorf("onnx: create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, emotion.NumLabels))
	if err != nil {
		_ = input.Destroy()
		_ = opts.Destroy()
		return "", fmt.Errorf("onnx: create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(b.modelPath,
		[]string{b.inputName}, []string{b.outputName},
		[]ort.Value{input}, []ort.Value{output}, opts)
	if err != nil {
		_ = output.Destroy()
		_ = input.Destroy()
		_ = opts.Destroy()
		return "", fmt.Errorf("onnx: load audio model %q: %w", b.modelPath, err)
	}

	b.session = session
	b.opts = opts
	b.input = input
	b.output = output
	return path, nil
}

// Infer runs the prosody model on one audio window and returns the
// normalised emotion vector.
func (b *AudioBackend) Infer(ctx context.Context, unit media.Unit) (emotion.Vector, error) {
	if b.session == nil {
		return emotion.Vector{}, errors.New("onnx: audio backend not loaded")
	}
	if err := ctx.Err(); err != nil {
		return emotion.Vector{}, err
	}

	window, ok := unit.(media.Window)
	if !ok {
		return emotion.Vector{}, fmt.Errorf("%w: audio backend expects media.Window, got %T", infer.ErrBadInput, unit)
	}
	if window.Empty() {
		return emotion.Vector{}, fmt.Errorf("%w: empty window", infer.ErrBadInput)
	}
	if window.SampleRate != b.sampleRate {
		return emotion.Vector{}, fmt.Errorf("%w: window rate %d Hz, model expects %d Hz",
			infer.ErrBadInput, window.SampleRate, b.sampleRate)
	}

	fitWindow(window.Samples, b.input.GetData())

	if err := b.session.Run(); err != nil {
		return emotion.Vector{}, fmt.Errorf("onnx: audio inference: %w", err)
	}
	return softmaxRemap(b.output.GetData()), nil
}

// Close releases the session and tensors. Safe to call more than once.
func (b *AudioBackend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.session != nil {
		_ = b.session.Destroy()
		b.session = nil
	}
	if b.output != nil {
		_ = b.output.Destroy()
		b.output = nil
	}
	if b.input != nil {
		_ = b.input.Destroy()
		b.input = nil
	}
	if b.opts != nil {
		_ = b.opts.Destroy()
		b.opts = nil
	}
	return nil
}

// fitWindow copies samples into dst, keeping the most recent len(dst)
// samples when the window overruns and zero-padding the tail when it
// underruns.
func fitWindow(samples []float32, dst []float32) {
	if len(samples) > len(dst) {
		samples = samples[len(samples)-len(dst):]
	}
	n := copy(dst, samples)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}
