// Package texture embeds a canonical walnut crop into a fixed-length
// appearance vector.
package texture

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"gocv.io/x/gocv"
)

var (
	// ErrDegenerateEmbedding is returned when an encoder produces NaN, Inf or
	// an all-zero vector.
	ErrDegenerateEmbedding = errors.New("degenerate texture embedding")

	// ErrModelRequired is returned when a network encoder has no model file.
	ErrModelRequired = errors.New("texture model file required")
)

// Kind selects an encoder implementation.
type Kind int

const (
	KindGradient Kind = iota
	KindResNet50
	KindResNet18
)

var kindNames = map[Kind]string{
	KindGradient: "gradient",
	KindResNet50: "resnet50",
	KindResNet18: "resnet18",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Dim returns the embedding length produced by encoders of this kind.
func (k Kind) Dim() int {
	switch k {
	case KindResNet50:
		return 2048
	case KindResNet18:
		return 512
	default:
		return GradientDim
	}
}

// ParseKind parses an encoder name.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown texture encoder %q", s)
}

// Encoder turns a BGR crop into an embedding of length Dim.
// Implementations are safe for concurrent use.
type Encoder interface {
	Kind() Kind
	// Name identifies the encoder and its weights; it changes whenever the
	// embeddings it produces could change.
	Name() string
	Dim() int
	Embed(crop gocv.Mat) ([]float64, error)
	Close() error
}

// New creates an encoder. modelPath is required for the network kinds and
// ignored for KindGradient.
func New(kind Kind, modelPath string) (Encoder, error) {
	switch kind {
	case KindGradient:
		return NewGradient(), nil
	case KindResNet50, KindResNet18:
		if modelPath == "" {
			return nil, fmt.Errorf("%s: %w", kind, ErrModelRequired)
		}
		return NewNet(kind, modelPath)
	default:
		return nil, fmt.Errorf("unknown texture encoder %v", kind)
	}
}

// fileDigest returns the first 12 hex digits of the file's sha256.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:12], nil
}

// normalize scales v to unit L2 norm in place, rejecting degenerate output.
func normalize(v []float64) error {
	var sum float64
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return ErrDegenerateEmbedding
		}
		sum += x * x
	}
	if sum == 0 {
		return ErrDegenerateEmbedding
	}
	n := math.Sqrt(sum)
	for i := range v {
		v[i] /= n
	}
	return nil
}
