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

// Compile-time assertion that VisionBackend satisfies infer.Backend.
var _ infer.Backend = (*VisionBackend)(nil)

// FER+ model geometry and graph node names (emotion-ferplus-8.onnx).
const (
	ferInputName  = "Input3"
	ferOutputName = "Plus692_Output_0"
	ferSide       = 64
)

// VisionBackend runs the FER+ facial-expression model on sampled video
// frames. Frames are converted to 64×64 grayscale NCHW tensors before
// inference, matching the model's training input.
//
// Not safe for concurrent use; the owning worker serialises all calls.
type VisionBackend struct {
	modelPath   string
	libraryPath string
	disableCUDA bool

	session *ort.AdvancedSession
	opts    *ort.SessionOptions
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	closed  bool
}

// VisionOption is a functional option for configuring a VisionBackend.
type VisionOption func(*VisionBackend)

// WithVisionLibraryPath overrides the onnxruntime shared library location.
func WithVisionLibraryPath(path string) VisionOption {
	return func(b *VisionBackend) { b.libraryPath = path }
}

// WithVisionCPUOnly skips the CUDA execution provider entirely.
func WithVisionCPUOnly() VisionOption {
	return func(b *VisionBackend) { b.disableCUDA = true }
}

// NewVision creates a VisionBackend for the FER+ model at modelPath.
// The model is not loaded until [VisionBackend.Load] is called.
func NewVision(modelPath string, opts ...VisionOption) (*VisionBackend, error) {
	if modelPath == "" {
		return nil, errors.New("onnx: vision model path must not be empty")
	}
	b := &VisionBackend{modelPath: modelPath}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Load initialises the onnxruntime environment, builds the session, and
// allocates the fixed input/output tensors. Returns the execution path that
// was selected.
func (b *VisionBackend) Load(ctx context.Context) (infer.ExecutionPath, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("onnx: vision load cancelled: %w", err)
	}
	if err := initEnvironment(b.libraryPath); err != nil {
		return "", fmt.Errorf("onnx: init environment: %w", err)
	}

	opts, path, err := newSessionOptions(!b.disableCUDA)
	if err != nil {
		return "", fmt.Errorf("onnx: session options: %w", err)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, ferSide, ferSide))
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
		[]string{ferInputName}, []string{ferOutputName},
		[]ort.Value{input}, []ort.Value{output}, opts)
	if err != nil {
		_ = output.Destroy()
		_ = input.Destroy()
		_ = opts.Destroy()
		return "", fmt.Errorf("onnx: load vision model %q: %w", b.modelPath, err)
	}

	b.session = session
	b.opts = opts
	b.input = input
	b.output = output
	return path, nil
}

// Infer runs the FER+ model on a single frame and returns the normalised
// emotion vector.
func (b *VisionBackend) Infer(ctx context.Context, unit media.Unit) (emotion.Vector, error) {
	if b.session == nil {
		return emotion.Vector{}, errors.New("onnx: vision backend not loaded")
	}
	if err := ctx.Err(); err != nil {
		return emotion.Vector{}, err
	}

	frame, ok := unit.(media.Frame)
	if !ok {
		return emotion.Vector{}, fmt.Errorf("%w: vision backend expects media.Frame, got %T", infer.ErrBadInput, unit)
	}
	if frame.Empty() {
		return emotion.Vector{}, fmt.Errorf("%w: empty frame", infer.ErrBadInput)
	}

	grayscaleResize(frame, b.input.GetData())

	if err := b.session.Run(); err != nil {
		return emotion.Vector{}, fmt.Errorf("onnx: vision inference: %w", err)
	}
	return softmaxRemap(b.output.GetData()), nil
}

// Close releases the session and tensors. Safe to call more than once.
func (b *VisionBackend) Close() error {
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

// grayscaleResize downscales an RGBA frame to the FER+ 64×64 grayscale
// input using bilinear sampling and Rec. 601 luminance weights, writing
// raw [0, 255] float values into dst (len 64*64) as the model expects.
func grayscaleResize(frame media.Frame, dst []float32) {
	xRatio := float64(frame.Width-1) / float64(ferSide-1)
	yRatio := float64(frame.Height-1) / float64(ferSide-1)
	if frame.Width == 1 {
		xRatio = 0
	}
	if frame.Height == 1 {
		yRatio = 0
	}

	for y := 0; y < ferSide; y++ {
		srcY := float64(y) * yRatio
		y0 := int(srcY)
		y1 := y0 + 1
		if y1 >= frame.Height {
			y1 = frame.Height - 1
		}
		fy := srcY - float64(y0)

		for x := 0; x < ferSide; x++ {
			srcX := float64(x) * xRatio
			x0 := int(srcX)
			x1 := x0 + 1
			if x1 >= frame.Width {
				x1 = frame.Width - 1
			}
			fx := srcX - float64(x0)

			l00 := luminance(frame, x0, y0)
			l10 := luminance(frame, x1, y0)
			l01 := luminance(frame, x0, y1)
			l11 := luminance(frame, x1, y1)

			top := l00*(1-fx) + l10*fx
			bottom := l01*(1-fx) + l11*fx
			dst[y*ferSide+x] = float32(top*(1-fy) + bottom*fy)
		}
	}
}

// luminance returns the Rec. 601 luma of the pixel at (x, y) in [0, 255].
func luminance(frame media.Frame, x, y int) float64 {
	off := (y*frame.Width + x) * 4
	r := float64(frame.Pix[off])
	g := float64(frame.Pix[off+1])
	b := float64(frame.Pix[off+2])
	return 0.299*r + 0.587*g + 0.114*b
}
