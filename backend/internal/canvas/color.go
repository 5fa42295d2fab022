package canvas

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Transparent is the "no paint" color used by shapes without a fill.
const Transparent = "transparent"

// White is the background every canvas starts from and returns to on clear.
var White = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

// ParseColor accepts #rgb, #rrggbb, #rrggbbaa and "transparent".
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == Transparent {
		return color.NRGBA{}, nil
	}
	if !strings.HasPrefix(s, "#") {
		return color.NRGBA{}, fmt.Errorf("%w: color %q", ErrInvalidAction, s)
	}
	hex := s[1:]
	switch len(hex) {
	case 3:
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]}) + "ff"
	case 6:
		hex += "ff"
	case 8:
	default:
		return color.NRGBA{}, fmt.Errorf("%w: color %q", ErrInvalidAction, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: color %q", ErrInvalidAction, s)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// FormatColor renders c as #rrggbb, or #rrggbbaa when c is not opaque.
func FormatColor(c color.NRGBA) string {
	if c.A == 0xff {
		return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

// Palette holds the participant display colors.
var Palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A", "#98D8C8",
	"#F7DC6F", "#BB8FCE", "#85C1E2", "#F8B4D9", "#A8E6CF",
}

// ColorFor maps an identity onto the palette. Pure: it only depends on the
// identity bytes, so the same identity always gets the same color. Different
// identities may collide.
func ColorFor(identity string) string {
	return Palette[xxhash.Sum64String(identity)%uint64(len(Palette))]
}
