// Package onnx provides infer.Backend implementations backed by local ONNX
// models via the onnxruntime Go bindings. The onnxruntime shared library
// must be available at runtime; its location can be overridden with
// [WithLibraryPath].
//
// Two backends ship with affectd: [VisionBackend] wraps the FER+
// facial-expression model (emotion-ferplus-8.onnx) and [AudioBackend] wraps
// a vocal-prosody classifier. Both attempt CUDA execution first and fall
// back to CPU transparently.
package onnx

import (
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/affectd/affectd/pkg/emotion"
	"github.com/affectd/affectd/pkg/provider/infer"
)

// ferplusOrder is the label order of the FER+ model family's output layer.
// It differs from the canonical emotion.Labels order, so raw scores are
// remapped after softmax.
var ferplusOrder = [emotion.NumLabels]emotion.Label{
	emotion.Neutral, emotion.Happiness, emotion.Surprise, emotion.Sadness,
	emotion.Anger, emotion.Disgust, emotion.Fear, emotion.Contempt,
}

var (
	envOnce sync.Once
	envErr  error
)

// initEnvironment initialises the global onnxruntime environment exactly
// once per process. The environment is deliberately never destroyed: it is
// shared by every backend and lives until process exit.
func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if !ort.IsInitialized() {
			envErr = ort.InitializeEnvironment()
		}
	})
	return envErr
}

// newSessionOptions builds session options, appending the CUDA execution
// provider when wanted. It returns the options, the path that will be used,
// and any fatal error. CUDA setup failures are not fatal — they downgrade
// to CPU.
func newSessionOptions(wantCUDA bool) (*ort.SessionOptions, infer.ExecutionPath, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, "", err
	}
	path := infer.PathCPU
	if wantCUDA {
		if cudaOpts, cudaErr := ort.NewCUDAProviderOptions(); cudaErr == nil {
			if appendErr := opts.AppendExecutionProviderCUDA(cudaOpts); appendErr == nil {
				path = infer.PathCUDA
			}
			_ = cudaOpts.Destroy()
		}
	}
	return opts, path, nil
}

// softmaxRemap converts raw FER+ logits into a normalised probability
// vector in canonical label order. Uses the max-subtraction trick for
// numerical stability.
func softmaxRemap(logits []float32) emotion.Vector {
	var v emotion.Vector
	if len(logits) < emotion.NumLabels {
		return emotion.NeutralVector()
	}

	maxLogit := float64(logits[0])
	for _, l := range logits[1:emotion.NumLabels] {
		if float64(l) > maxLogit {
			maxLogit = float64(l)
		}
	}

	var sum float64
	exp := make([]float64, emotion.NumLabels)
	for i := 0; i < emotion.NumLabels; i++ {
		exp[i] = math.Exp(float64(logits[i]) - maxLogit)
		sum += exp[i]
	}

	for i, label := range ferplusOrder {
		idx, _ := emotion.Index(label)
		v[idx] = exp[i] / sum
	}
	return v
}
