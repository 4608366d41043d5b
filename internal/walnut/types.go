// Package walnut defines the shared data model for walnut matching: camera
// angles, multi-view image sets, content fingerprints and fused feature
// tensors.
package walnut

import (
	"errors"
	"fmt"
	"image"
	"strings"
)

var (
	// ErrEmptyID is returned when a view set is created without an identifier.
	ErrEmptyID = errors.New("walnut id is empty")

	// ErrNoViews is returned when a view set has no usable image.
	ErrNoViews = errors.New("walnut has no views")

	// ErrUnknownAngle is returned when an angle name cannot be parsed.
	ErrUnknownAngle = errors.New("unknown angle")
)

// Angle identifies one of the fixed camera positions around a walnut.
type Angle int

const (
	AngleFront Angle = iota
	AngleBack
	AngleLeft
	AngleRight
	AngleTop
	AngleDown
)

// NumAngles is the number of camera positions.
const NumAngles = 6

// Angles lists every angle in the declared order. All fixed-length layouts
// (texture blocks, fingerprints) iterate in this order.
var Angles = [NumAngles]Angle{AngleFront, AngleBack, AngleLeft, AngleRight, AngleTop, AngleDown}

func (a Angle) String() string {
	switch a {
	case AngleFront:
		return "Front"
	case AngleBack:
		return "Back"
	case AngleLeft:
		return "Left"
	case AngleRight:
		return "Right"
	case AngleTop:
		return "Top"
	case AngleDown:
		return "Down"
	default:
		return "Unknown"
	}
}

// Tag returns the single-letter tag used in capture filenames, e.g. "F".
func (a Angle) Tag() string {
	if a < AngleFront || a > AngleDown {
		return "?"
	}
	return a.String()[:1]
}

// Valid reports whether a is one of the declared angles.
func (a Angle) Valid() bool {
	return a >= AngleFront && a <= AngleDown
}

// ParseAngle accepts a full angle name or its tag, case-insensitively.
// "bottom" is accepted as an alias for Down.
func ParseAngle(s string) (Angle, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "bottom" {
		return AngleDown, nil
	}
	for _, a := range Angles {
		if key == strings.ToLower(a.String()) || key == strings.ToLower(a.Tag()) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAngle, s)
}

// ViewSet holds the decoded photos of one walnut, keyed by angle.
// It is immutable once created.
type ViewSet struct {
	id     string
	views  map[Angle]image.Image
	prints map[Angle]string
	print  string
}

// NewViewSet builds a view set and fingerprints every image. Nil images are
// ignored; at least one image is required.
func NewViewSet(id string, views map[Angle]image.Image) (*ViewSet, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrEmptyID
	}
	vs := &ViewSet{
		id:     id,
		views:  make(map[Angle]image.Image, len(views)),
		prints: make(map[Angle]string, len(views)),
	}
	for a, img := range views {
		if !a.Valid() {
			return nil, fmt.Errorf("walnut %s: %w: %d", id, ErrUnknownAngle, int(a))
		}
		if img == nil {
			continue
		}
		vs.views[a] = img
		vs.prints[a] = FingerprintImage(img)
	}
	if len(vs.views) == 0 {
		return nil, fmt.Errorf("walnut %s: %w", id, ErrNoViews)
	}
	vs.print = CombineFingerprints(vs.prints)
	return vs, nil
}

// ID returns the walnut identifier.
func (v *ViewSet) ID() string { return v.id }

// View returns the image for angle a, if present.
func (v *ViewSet) View(a Angle) (image.Image, bool) {
	img, ok := v.views[a]
	return img, ok
}

// Angles returns the present angles in declared order.
func (v *ViewSet) Angles() []Angle {
	out := make([]Angle, 0, len(v.views))
	for _, a := range Angles {
		if _, ok := v.views[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Len returns the number of present angles.
func (v *ViewSet) Len() int { return len(v.views) }

// Fingerprint returns the combined content fingerprint of all views.
func (v *ViewSet) Fingerprint() string { return v.print }

// AngleFingerprint returns the content fingerprint of one view, or "" if absent.
func (v *ViewSet) AngleFingerprint(a Angle) string { return v.prints[a] }

// FeatureTensor is the raw fused feature vector of one walnut.
type FeatureTensor struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Version     string    `json:"version"`
	Angles      []Angle   `json:"angles"`
	Values      []float64 `json:"values"`
}

// Len returns the number of features.
func (t *FeatureTensor) Len() int { return len(t.Values) }

// Clone returns a deep copy.
func (t *FeatureTensor) Clone() *FeatureTensor {
	c := *t
	c.Angles = append([]Angle(nil), t.Angles...)
	c.Values = append([]float64(nil), t.Values...)
	return &c
}
