package inference

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/couchcryptid/drought-forecast-service/internal/domain"
)

// ortEnv guards process-wide ONNX Runtime initialization.
var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// DefaultLibraryName is the ONNX Runtime shared library looked up next to the
// model when no explicit path is configured.
func DefaultLibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// TensorInfo describes one model input or output.
type TensorInfo struct {
	Name       string  `json:"name"`
	Dimensions []int64 `json:"dimensions"`
}

// ModelInfo describes the tensors of an ONNX model file.
type ModelInfo struct {
	Inputs  []TensorInfo `json:"inputs"`
	Outputs []TensorInfo `json:"outputs"`
}

// ONNXModel is a Model backed by an ONNX Runtime session.
type ONNXModel struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	outDims    []int64 // output shape with the batch dimension at index 0
}

func resolveLibrary(modelPath, libPath string) string {
	if libPath != "" {
		return libPath
	}
	return filepath.Join(filepath.Dir(modelPath), DefaultLibraryName())
}

// InspectONNX reads tensor metadata from a model file.
func InspectONNX(modelPath, libPath string) (ModelInfo, error) {
	if err := initORT(resolveLibrary(modelPath, libPath)); err != nil {
		return ModelInfo{}, fmt.Errorf("onnx: initialize runtime: %w", err)
	}
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("onnx: read model info: %w", err)
	}
	var info ModelInfo
	for _, in := range inputs {
		info.Inputs = append(info.Inputs, TensorInfo{Name: in.Name, Dimensions: in.Dimensions})
	}
	for _, out := range outputs {
		info.Outputs = append(info.Outputs, TensorInfo{Name: out.Name, Dimensions: out.Dimensions})
	}
	return info, nil
}

// validateSignature checks the model takes [batch, steps, features] and
// returns the output dimensions with dynamic axes resolved.
func validateSignature(info ModelInfo) ([]int64, error) {
	if len(info.Inputs) != 1 {
		return nil, fmt.Errorf("onnx: expected 1 input, got %d", len(info.Inputs))
	}
	if len(info.Outputs) == 0 {
		return nil, errors.New("onnx: model has no outputs")
	}

	in := info.Inputs[0].Dimensions
	if len(in) != 3 {
		return nil, fmt.Errorf("onnx: expected 3D input tensor, got %v", in)
	}
	if in[1] > 0 && in[1] != domain.WindowLength {
		return nil, fmt.Errorf("onnx: input expects %d time steps, want %d", in[1], domain.WindowLength)
	}
	if in[2] > 0 && in[2] != domain.FeatureCount {
		return nil, fmt.Errorf("onnx: input expects %d features, want %d", in[2], domain.FeatureCount)
	}

	out := info.Outputs[0].Dimensions
	if len(out) == 0 {
		return nil, fmt.Errorf("onnx: scalar output tensor not supported")
	}
	dims := make([]int64, len(out))
	for i, d := range out {
		if d <= 0 {
			d = 1
		}
		dims[i] = d
	}
	return dims, nil
}

// LoadONNX opens modelPath in a new session. libPath is the ONNX Runtime
// shared library; when empty it is looked up next to the model.
func LoadONNX(modelPath, libPath string) (*ONNXModel, error) {
	info, err := InspectONNX(modelPath, libPath)
	if err != nil {
		return nil, err
	}
	outDims, err := validateSignature(info)
	if err != nil {
		return nil, err
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: create session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("onnx: set intra-op threads: %w", err)
	}

	inputName := info.Inputs[0].Name
	outputName := info.Outputs[0].Name
	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{inputName}, []string{outputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	return &ONNXModel{
		session:    session,
		inputName:  inputName,
		outputName: outputName,
		outDims:    outDims,
	}, nil
}

// Run evaluates one batch.
func (m *ONNXModel) Run(input []float32, batch, steps, features int64) ([]float32, error) {
	in, err := ort.NewTensor(ort.NewShape(batch, steps, features), input)
	if err != nil {
		return nil, fmt.Errorf("onnx: create input tensor: %w", err)
	}
	defer in.Destroy()

	dims := append([]int64{batch}, m.outDims[1:]...)
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(dims...))
	if err != nil {
		return nil, fmt.Errorf("onnx: create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := m.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("onnx: run: %w", err)
	}

	src := out.GetData()
	result := make([]float32, len(src))
	copy(result, src)
	return result, nil
}

// Close releases the session.
func (m *ONNXModel) Close() error {
	return m.session.Destroy()
}
