package label

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownLabel is returned by Lookup for names outside the catalog.
var ErrUnknownLabel = errors.New("unknown label")

// ErrInvalidLabel is returned by Validate.
var ErrInvalidLabel = errors.New("invalid label")

// Kind はラベル媒体の種類を表す
type Kind string

const (
	KindBrotherDK Kind = "brother-dk"
	KindGeneric   Kind = "generic"
)

// Label describes the printable area of one physical medium. It is a value
// type; the catalog below is the closed set of media the printers know.
type Label struct {
	Name string
	Kind Kind

	WidthPx int
	// HeightPx is nil for continuous (cut-to-length) media.
	HeightPx *int
	// HeightPxMax caps the computed height of continuous media.
	HeightPxMax int

	WidthMM  int
	HeightMM *int
}

// Portrait reports whether the label is taller than wide. Continuous media
// always count as portrait.
func (l Label) Portrait() bool {
	if l.HeightPx == nil {
		return true
	}
	return *l.HeightPx > l.WidthPx
}

// Continuous reports whether the label is cut to length.
func (l Label) Continuous() bool {
	return l.HeightPx == nil
}

// SizeDescriptor returns the media size string used to address the device
// ("62x100" for die-cut labels, "62" for continuous rolls).
func (l Label) SizeDescriptor() string {
	if l.HeightMM != nil {
		return fmt.Sprintf("%dx%d", l.WidthMM, *l.HeightMM)
	}
	return fmt.Sprintf("%d", l.WidthMM)
}

// Validate checks the geometry invariants.
func (l Label) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidLabel)
	}
	if l.WidthPx <= 0 {
		return fmt.Errorf("%w: %s has non-positive width %d", ErrInvalidLabel, l.Name, l.WidthPx)
	}
	if l.HeightPx == nil && l.HeightPxMax <= 0 {
		return fmt.Errorf("%w: continuous label %s needs a positive height cap", ErrInvalidLabel, l.Name)
	}
	if l.HeightPx != nil && *l.HeightPx <= 0 {
		return fmt.Errorf("%w: %s has non-positive height %d", ErrInvalidLabel, l.Name, *l.HeightPx)
	}
	return nil
}

// Is reports whether two labels name the same medium (case-insensitive).
func (l Label) Is(other Label) bool {
	return strings.EqualFold(l.Name, other.Name)
}

func (l Label) String() string {
	if l.HeightPx == nil {
		return fmt.Sprintf("%s (%dpx continuous, max %dpx)", l.Name, l.WidthPx, l.HeightPxMax)
	}
	return fmt.Sprintf("%s (%dx%dpx)", l.Name, l.WidthPx, *l.HeightPx)
}

func intPtr(v int) *int {
	return &v
}
