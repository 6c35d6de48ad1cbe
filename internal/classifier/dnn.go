package classifier

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"gocv.io/x/gocv"
)

// DNNConfig configures a DNNClassifier.
type DNNConfig struct {
	ModelPath  string // ONNX, TensorFlow .pb or any format gocv.ReadNet accepts
	ConfigPath string // Optional network description for formats that need one
	Backend    string // gocv backend name ("default", "opencv", "cuda", ...)
	Target     string // gocv target name ("cpu", "fp16", "cuda", ...)
	Frames     int    // Window length N
	Features   int    // Vector length L
	Vocabulary *Vocabulary
}

// DNNClassifier runs a sequence model through OpenCV's DNN module.
// The network is loaded once; invocations are serialized because the
// network keeps intermediate blobs between SetInput and Forward.
type DNNClassifier struct {
	config DNNConfig
	net    gocv.Net
	mu     sync.Mutex
}

// NewDNNClassifier loads the model at config.ModelPath.
func NewDNNClassifier(config DNNConfig) (*DNNClassifier, error) {
	if config.Vocabulary == nil {
		return nil, fmt.Errorf("dnn classifier: vocabulary is required")
	}
	if config.Frames <= 0 || config.Features <= 0 {
		return nil, fmt.Errorf("dnn classifier: invalid input shape [%d, %d]", config.Frames, config.Features)
	}

	net := gocv.ReadNet(config.ModelPath, config.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("dnn classifier: failed to load model %q", config.ModelPath)
	}

	if err := net.SetPreferableBackend(gocv.ParseNetBackend(config.Backend)); err != nil {
		net.Close()
		return nil, fmt.Errorf("dnn classifier: set backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.ParseNetTarget(config.Target)); err != nil {
		net.Close()
		return nil, fmt.Errorf("dnn classifier: set target: %w", err)
	}

	return &DNNClassifier{config: config, net: net}, nil
}

// Classify runs one forward pass over window.
func (c *DNNClassifier) Classify(ctx context.Context, window [][]float32) ([]float32, error) {
	if err := CheckShape(window, c.config.Frames, c.config.Features); err != nil {
		return nil, err
	}

	data := make([]byte, 0, c.config.Frames*c.config.Features*4)
	for _, row := range window {
		for _, x := range row {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(x))
		}
	}

	blob, err := gocv.NewMatWithSizesFromBytes([]int{1, c.config.Frames, c.config.Features}, gocv.MatTypeCV32F, data)
	if err != nil {
		return nil, fmt.Errorf("build input blob: %w", err)
	}
	defer blob.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.net.SetInput(blob, "")
	out := c.net.Forward("")
	defer out.Close()

	if out.Empty() {
		return nil, fmt.Errorf("forward pass produced no output")
	}

	raw, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	if len(raw) != c.config.Vocabulary.Len() {
		return nil, fmt.Errorf("%w: model produced %d scores for a vocabulary of %d",
			ErrDimensionMismatch, len(raw), c.config.Vocabulary.Len())
	}

	probs := make([]float32, len(raw))
	copy(probs, raw)
	return probs, nil
}

// Close releases the network.
func (c *DNNClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.net.Close()
}
