// Package config loads and validates the walnut-pair configuration.
package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"walnut-pair/internal/descriptor"
	"walnut-pair/internal/fusion"
	"walnut-pair/internal/reduce"
	"walnut-pair/internal/region"
	"walnut-pair/internal/similarity"
	"walnut-pair/internal/texture"
	"walnut-pair/internal/walnut"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

const appName = "walnut-pair"

// Config is the complete run configuration. It is passed by value.
type Config struct {
	Workers int `yaml:"workers" toml:"workers" json:"-"`

	Region     RegionConfig     `yaml:"region" toml:"region" json:"region"`
	Size       SizeConfig       `yaml:"size" toml:"size" json:"size"`
	Color      ColorConfig      `yaml:"color" toml:"color" json:"color"`
	Contour    ContourConfig    `yaml:"contour" toml:"contour" json:"contour"`
	Texture    TextureConfig    `yaml:"texture" toml:"texture" json:"texture"`
	Fusion     FusionConfig     `yaml:"fusion" toml:"fusion" json:"fusion"`
	Reduce     ReduceConfig     `yaml:"reduce" toml:"reduce" json:"-"`
	Similarity SimilarityConfig `yaml:"similarity" toml:"similarity" json:"-"`
	Cache      CacheConfig      `yaml:"cache" toml:"cache" json:"-"`
	Store      StoreConfig      `yaml:"store" toml:"store" json:"-"`
}

// RegionConfig mirrors region.Params.
type RegionConfig struct {
	HueMin          float64 `yaml:"hue_min" toml:"hue_min" json:"hue_min"`
	HueMax          float64 `yaml:"hue_max" toml:"hue_max" json:"hue_max"`
	SatMin          float64 `yaml:"sat_min" toml:"sat_min" json:"sat_min"`
	SatMax          float64 `yaml:"sat_max" toml:"sat_max" json:"sat_max"`
	ValMin          float64 `yaml:"val_min" toml:"val_min" json:"val_min"`
	ValMax          float64 `yaml:"val_max" toml:"val_max" json:"val_max"`
	KernelSize      int     `yaml:"kernel_size" toml:"kernel_size" json:"kernel_size"`
	MinAreaFraction float64 `yaml:"min_area_fraction" toml:"min_area_fraction" json:"min_area_fraction"`
	CanonicalSize   int     `yaml:"canonical_size" toml:"canonical_size" json:"canonical_size"`
}

// SizeConfig holds the calibration constant. It has no default.
type SizeConfig struct {
	PixelsPerUnit float64 `yaml:"pixels_per_unit" toml:"pixels_per_unit" json:"pixels_per_unit"`
}

type ColorConfig struct {
	Bins      int  `yaml:"bins" toml:"bins" json:"bins"`
	Normalize bool `yaml:"normalize" toml:"normalize" json:"normalize"`
}

type ContourConfig struct {
	KernelSize int `yaml:"kernel_size" toml:"kernel_size" json:"kernel_size"`
}

// TextureConfig selects the texture encoder. The default is the model-free
// gradient encoder; resnet50 and resnet18 run a pretrained ONNX network and
// need Model to point at the exported file, for example
//
//	texture:
//	  encoder: resnet50
//	  model: /models/resnet50.onnx
type TextureConfig struct {
	Encoder string `yaml:"encoder" toml:"encoder" json:"encoder"`
	Model   string `yaml:"model" toml:"model" json:"-"` // Identity enters the version through the encoder name
}

type FusionConfig struct {
	Weights      fusion.Weights     `yaml:"weights" toml:"weights" json:"weights"`
	AngleWeights map[string]float64 `yaml:"angle_weights" toml:"angle_weights" json:"angle_weights"`
	Reducer      string             `yaml:"reducer" toml:"reducer" json:"reducer"`
	Layout       string             `yaml:"layout" toml:"layout" json:"layout"`
}

type ReduceConfig struct {
	PCA        bool `yaml:"pca" toml:"pca"`
	Components int  `yaml:"components" toml:"components"`
}

type SimilarityConfig struct {
	Metric    string  `yaml:"metric" toml:"metric"`
	TopK      int     `yaml:"topk" toml:"topk"`
	Exclusive bool    `yaml:"exclusive" toml:"exclusive"`
	Clusters  int     `yaml:"clusters" toml:"clusters"`
	Ridge     float64 `yaml:"ridge" toml:"ridge"`
}

type CacheConfig struct {
	Path     string `yaml:"path" toml:"path"` // bolt file; empty keeps the cache in memory
	Disabled bool   `yaml:"disabled" toml:"disabled"`
}

type StoreConfig struct {
	Path string `yaml:"path" toml:"path"` // SQLite file; empty disables the run store
}

// Default returns the defaults for everything except the calibration
// constant, which must be set explicitly.
func Default() Config {
	rp := region.DefaultParams()
	cp := descriptor.DefaultColorParams()
	rd := reduce.DefaultParams()
	sp := similarity.DefaultParams()

	return Config{
		Workers: runtime.NumCPU(),
		Region: RegionConfig{
			HueMin: rp.HueMin, HueMax: rp.HueMax,
			SatMin: rp.SatMin, SatMax: rp.SatMax,
			ValMin: rp.ValMin, ValMax: rp.ValMax,
			KernelSize:      rp.KernelSize,
			MinAreaFraction: rp.MinAreaFraction,
			CanonicalSize:   rp.CanonicalSize,
		},
		Color:   ColorConfig{Bins: cp.Bins, Normalize: cp.Normalize},
		Contour: ContourConfig{KernelSize: descriptor.DefaultContourParams().KernelSize},
		Texture: TextureConfig{Encoder: texture.KindGradient.String()},
		Fusion: FusionConfig{
			Weights: fusion.DefaultWeights(),
			Reducer: fusion.ReduceMean.String(),
			Layout:  fusion.LayoutPerAngle.String(),
		},
		Reduce: ReduceConfig{PCA: rd.PCA, Components: rd.Components},
		Similarity: SimilarityConfig{
			Metric: sp.Metric.String(),
			TopK:   sp.TopK,
			Ridge:  sp.Ridge,
		},
	}
}

// DefaultPath returns ~/.config/walnut-pair/config.yaml.
func DefaultPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, appName, "config.yaml")
}

// Load reads a YAML or TOML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg, err := Decode(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode reads a YAML or TOML file over the defaults without validating it,
// so callers can apply overrides first.
func Decode(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
	case ".yaml", ".yml", "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
	default:
		return cfg, fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, ext)
	}
	return cfg, nil
}

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...))
}

// Validate checks every section. The first problem is returned.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return invalid("workers", "%d must not be negative", c.Workers)
	}
	if err := c.RegionParams().Validate(); err != nil {
		return invalid("region", "%v", err)
	}
	if !(c.Size.PixelsPerUnit > 0) || math.IsInf(c.Size.PixelsPerUnit, 1) {
		return invalid("size.pixels_per_unit", "must be set to a positive calibration constant, got %g", c.Size.PixelsPerUnit)
	}
	if c.Color.Bins < 1 || c.Color.Bins > 256 {
		return invalid("color.bins", "%d out of range 1-256", c.Color.Bins)
	}
	if c.Contour.KernelSize < 1 || c.Contour.KernelSize%2 == 0 {
		return invalid("contour.kernel_size", "%d must be odd and positive", c.Contour.KernelSize)
	}

	kind, err := texture.ParseKind(c.Texture.Encoder)
	if err != nil {
		return invalid("texture.encoder", "%v", err)
	}
	if kind != texture.KindGradient && c.Texture.Model == "" {
		return invalid("texture.model", "required for %s", kind)
	}

	fp, err := c.FusionParams(1, 1)
	if err != nil {
		return err
	}
	if err := fp.Validate(); err != nil {
		return invalid("fusion", "%v", err)
	}

	if err := c.ReduceParams().Validate(); err != nil {
		return invalid("reduce.components", "%v", err)
	}

	sp, err := c.SimilarityParams()
	if err != nil {
		return err
	}
	if err := sp.Validate(); err != nil {
		return invalid("similarity", "%v", err)
	}
	if _, err := c.ExtractionDigest(); err != nil {
		return err
	}
	return nil
}

// RegionParams converts the region section.
func (c Config) RegionParams() region.Params {
	r := c.Region
	return region.DefaultParams().
		WithHSV(r.HueMin, r.HueMax, r.SatMin, r.SatMax, r.ValMin, r.ValMax).
		WithKernelSize(r.KernelSize).
		WithCanonicalSize(r.CanonicalSize).
		WithMinAreaFraction(r.MinAreaFraction)
}

// ColorParams converts the color section.
func (c Config) ColorParams() descriptor.ColorParams {
	return descriptor.ColorParams{Bins: c.Color.Bins, Normalize: c.Color.Normalize}
}

// ContourParams converts the contour section.
func (c Config) ContourParams() descriptor.ContourParams {
	return descriptor.ContourParams{KernelSize: c.Contour.KernelSize}
}

// TextureKind parses the configured encoder.
func (c Config) TextureKind() (texture.Kind, error) {
	return texture.ParseKind(c.Texture.Encoder)
}

// FusionParams converts the fusion section for the given modality lengths.
func (c Config) FusionParams(colorDim, textureDim int) (fusion.Params, error) {
	p := fusion.DefaultParams(colorDim, textureDim)
	p.Weights = c.Fusion.Weights

	r, err := fusion.ParseReducer(c.Fusion.Reducer)
	if err != nil {
		return p, invalid("fusion.reducer", "%v", err)
	}
	l, err := fusion.ParseLayout(c.Fusion.Layout)
	if err != nil {
		return p, invalid("fusion.layout", "%v", err)
	}

	weights := make(map[walnut.Angle]float64, len(c.Fusion.AngleWeights))
	for name, w := range c.Fusion.AngleWeights {
		a, err := walnut.ParseAngle(name)
		if err != nil {
			return p, invalid("fusion.angle_weights", "%v", err)
		}
		weights[a] = w
	}

	return p.WithReducer(r).WithLayout(l).WithAngleWeights(weights), nil
}

// ReduceParams converts the reduce section.
func (c Config) ReduceParams() reduce.Params {
	return reduce.Params{PCA: c.Reduce.PCA, Components: c.Reduce.Components}
}

// SimilarityParams converts the similarity section.
func (c Config) SimilarityParams() (similarity.Params, error) {
	m, err := similarity.ParseMetric(c.Similarity.Metric)
	if err != nil {
		return similarity.Params{}, invalid("similarity.metric", "%v", err)
	}
	return similarity.Params{
		Metric:    m,
		TopK:      c.Similarity.TopK,
		Exclusive: c.Similarity.Exclusive,
		Clusters:  c.Similarity.Clusters,
		Ridge:     c.Similarity.Ridge,
		Workers:   c.Workers,
	}, nil
}

// ExtractionDigest hashes every setting that changes extracted tensors.
// Corpus-level sections (reduce, similarity) and runtime settings are left
// out so they can change without invalidating cached features.
func (c Config) ExtractionDigest() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", invalid("extraction settings", "%v", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16], nil
}

// Save writes the configuration as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
