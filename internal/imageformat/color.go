package imageformat

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

var namedColors = map[string]color.NRGBA{
	"white": {R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	"black": {R: 0x00, G: 0x00, B: 0x00, A: 0xff},
	"gray":  {R: 0x80, G: 0x80, B: 0x80, A: 0xff},
	"grey":  {R: 0x80, G: 0x80, B: 0x80, A: 0xff},
}

// ParseColor accepts a color name (white, black, gray) or #rrggbb / #rgb.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, nil
	}

	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 || !strings.HasPrefix(s, "#") {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
