package detections

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

type outputLayout int

const (
	// layoutRows is [1, boxes, 5+classes] with an objectness column (YOLOv5).
	layoutRows outputLayout = iota
	// layoutChannels is [1, 4+classes, boxes] without objectness (YOLOv8 and later).
	layoutChannels
)

func (l outputLayout) String() string {
	if l == layoutRows {
		return "rows"
	}
	return "channels"
}

// ModelSpec describes the tensor shapes of a loaded detection model.
type ModelSpec struct {
	Path        string
	InputName   string
	OutputName  string
	InputWidth  int
	InputHeight int
	Layout      outputLayout
	NumBoxes    int
	NumClasses  int
	outputShape ort.Shape
}

func inspectModel(path string) (ModelSpec, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return ModelSpec{}, fmt.Errorf("error reading model info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) == 0 {
		return ModelSpec{}, fmt.Errorf("unexpected model signature: %d inputs, %d outputs", len(inputs), len(outputs))
	}

	in := inputs[0].Dimensions
	if len(in) != 4 {
		return ModelSpec{}, fmt.Errorf("unexpected input shape %v", in)
	}
	height, width := int(in[2]), int(in[3])
	if height <= 0 {
		height = DefaultInputSize
	}
	if width <= 0 {
		width = DefaultInputSize
	}

	out := outputs[0].Dimensions
	if len(out) != 3 || out[1] <= 0 || out[2] <= 0 {
		return ModelSpec{}, fmt.Errorf("model must be exported with a static [batch, a, b] output, got %v", out)
	}
	layout, boxes, classes, err := resolveLayout(int(out[1]), int(out[2]))
	if err != nil {
		return ModelSpec{}, err
	}

	return ModelSpec{
		Path:        path,
		InputName:   inputs[0].Name,
		OutputName:  outputs[0].Name,
		InputWidth:  width,
		InputHeight: height,
		Layout:      layout,
		NumBoxes:    boxes,
		NumClasses:  classes,
		outputShape: ort.NewShape(1, out[1], out[2]),
	}, nil
}

// resolveLayout infers the output layout from the two trailing output
// dimensions. Anchor counts are always larger than the attribute count.
func resolveLayout(a, b int) (outputLayout, int, int, error) {
	if a > b {
		classes := b - 5
		if classes < 1 {
			return 0, 0, 0, fmt.Errorf("row layout needs at least 6 attributes, got %d", b)
		}
		return layoutRows, a, classes, nil
	}
	classes := a - 4
	if classes < 1 {
		return 0, 0, 0, fmt.Errorf("channel layout needs at least 5 attributes, got %d", a)
	}
	return layoutChannels, b, classes, nil
}

type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

func initSession(spec ModelSpec, threads int) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("error setting inter-op threads: %w", err)
	}

	inputShape := ort.NewShape(1, 3, int64(spec.InputHeight), int64(spec.InputWidth))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](spec.outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		spec.Path,
		[]string{spec.InputName},
		[]string{spec.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session: session,
		Input:   inputTensor,
		Output:  outputTensor,
	}, nil
}
