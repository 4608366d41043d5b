package texture

import (
	"fmt"
	"image"
	"log"
	"sync"

	"gocv.io/x/gocv"
)

// NetInputSize is the square input resolution of the network encoders.
const NetInputSize = 224

// ImageNet channel statistics in RGB order.
var (
	imageNetMean = [3]float32{0.485, 0.456, 0.406}
	imageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Net embeds crops with a pretrained CNN exported to ONNX with its
// classification head removed, so Forward yields the pooled features.
type Net struct {
	kind   Kind
	name   string
	mu     sync.Mutex // gocv.Net is not safe for concurrent Forward calls
	net    gocv.Net
	closed bool
}

// NewNet loads an ONNX model for the given kind.
func NewNet(kind Kind, modelPath string) (*Net, error) {
	digest, err := fileDigest(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("failed to load model %s", modelPath)
	}
	log.Printf("texture: loaded %s from %s (%s)", kind, modelPath, digest)

	return &Net{
		kind: kind,
		name: fmt.Sprintf("%s@%s", kind, digest),
		net:  net,
	}, nil
}

func (n *Net) Kind() Kind { return n.kind }
func (n *Net) Name() string { return n.name }
func (n *Net) Dim() int { return n.kind.Dim() }

// Embed resizes the crop to 224x224, converts it to RGB in [0,1], applies
// ImageNet normalization and runs a forward pass.
func (n *Net) Embed(crop gocv.Mat) ([]float64, error) {
	if crop.Empty() {
		return nil, fmt.Errorf("empty crop")
	}

	blob := gocv.BlobFromImage(crop, 1.0/255.0, image.Pt(NetInputSize, NetInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	data, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to access blob: %w", err)
	}
	plane := NetInputSize * NetInputSize
	for c := 0; c < 3; c++ {
		ch := data[c*plane : (c+1)*plane]
		for i := range ch {
			ch[i] = (ch[i] - imageNetMean[c]) / imageNetStd[c]
		}
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, fmt.Errorf("encoder closed")
	}
	n.net.SetInput(blob, "")
	out := n.net.Forward("")
	n.mu.Unlock()
	defer out.Close()

	if out.Total() != n.Dim() {
		return nil, fmt.Errorf("%s produced %d values, want %d", n.kind, out.Total(), n.Dim())
	}
	raw, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read output: %w", err)
	}

	vec := make([]float64, len(raw))
	for i, v := range raw {
		vec[i] = float64(v)
	}
	if err := normalize(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// Close releases the network.
func (n *Net) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return n.net.Close()
}
