package imageformat

import (
	"errors"
	"fmt"
)

var (
	// ErrImageNotFound is returned when the source path does not exist.
	ErrImageNotFound = errors.New("image not found")

	// ErrLabelTooLong is returned when a continuous label would need more
	// media than its height cap allows.
	ErrLabelTooLong = errors.New("label too long")

	// ErrDecode is returned when the source cannot be decoded as a raster image.
	ErrDecode = errors.New("failed to decode image")
)

// LabelTooLongError carries the size that was rejected.
type LabelTooLongError struct {
	Label     string
	Width     int
	Height    int
	MaxHeight int
}

func (e *LabelTooLongError) Error() string {
	return fmt.Sprintf("attempting to resize this image to %dx%d for %s: the height exceeds %dpx and would eat too much label, try an image with a squarer aspect ratio",
		e.Width, e.Height, e.Label, e.MaxHeight)
}

func (e *LabelTooLongError) Is(target error) bool {
	return target == ErrLabelTooLong
}
