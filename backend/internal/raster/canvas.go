// Package raster is the reference renderer: it turns canvas actions into
// pixels on an RGBA buffer and encodes snapshots as PNG. Rendering is fully
// deterministic so that the server, bots and tests agree on every pixel.
package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
	"github.com/NainaKothari-14/drawtogether/backend/internal/fill"
)

const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

var transparentPx = color.NRGBA{}

type Canvas struct {
	img  *image.NRGBA
	fill fill.Engine
}

// New returns a white canvas. Non-positive dimensions fall back to defaults;
// tolerance follows fill.New, so 0 is fill.DefaultTolerance.
func New(width, height, tolerance int) *Canvas {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	c := &Canvas{img: image.NewNRGBA(image.Rect(0, 0, width, height)), fill: fill.New(tolerance)}
	c.Reset()
	return c
}

func (c *Canvas) Width() int  { return c.img.Rect.Dx() }
func (c *Canvas) Height() int { return c.img.Rect.Dy() }

// Image exposes the backing buffer. Callers must not keep it across Apply.
func (c *Canvas) Image() *image.NRGBA { return c.img }

func (c *Canvas) At(x, y int) color.NRGBA { return c.img.NRGBAAt(x, y) }

// Pix returns a copy of the raw pixel buffer.
func (c *Canvas) Pix() []uint8 { return append([]uint8(nil), c.img.Pix...) }

// Reset paints the whole canvas white.
func (c *Canvas) Reset() {
	draw.Draw(c.img, c.img.Rect, image.NewUniform(canvas.White), image.Point{}, draw.Src)
}

// Apply renders a. Coordinates outside the canvas are clipped, never an error.
func (c *Canvas) Apply(a canvas.Action) error {
	return c.ApplyPayload(a.Payload)
}

func (c *Canvas) ApplyPayload(p canvas.Payload) error {
	switch v := p.(type) {
	case canvas.Stroke:
		return c.stroke(v)
	case canvas.Shape:
		return c.shape(v)
	case canvas.Erase:
		c.disc(v.X, v.Y, v.Size, transparentPx, true)
		return nil
	case canvas.Fill:
		fc, err := v.Color()
		if err != nil {
			return err
		}
		c.fill.FillImage(c.img, v.X, v.Y, fc)
		return nil
	case canvas.Clear:
		c.Reset()
		return nil
	default:
		return fmt.Errorf("%w: payload %T", canvas.ErrInvalidAction, p)
	}
}

func (c *Canvas) stroke(s canvas.Stroke) error {
	col, err := canvas.ParseColor(s.Color)
	if err != nil {
		return err
	}
	radius := s.Size / 2
	switch s.Brush {
	case canvas.BrushBlur:
		col = withAlpha(col, 0.6)
	case canvas.BrushMarker:
		col = withAlpha(col, 0.7)
		radius = s.Size * 1.5 / 2
	case canvas.BrushGlow:
		c.line(s.X0, s.Y0, s.X1, s.Y1, s.Size, withAlpha(col, 0.25))
	case canvas.BrushSpray:
		c.spray(s, col)
		return nil
	}
	c.line(s.X0, s.Y0, s.X1, s.Y1, radius, col)
	return nil
}

// spray scatters 20 dots around the segment end. The dot positions come from
// a generator seeded with the segment itself, so replays match.
func (c *Canvas) spray(s canvas.Stroke, col color.NRGBA) {
	seed := xxhash.Sum64String(fmt.Sprintf("%g,%g,%g,%g,%g", s.X0, s.Y0, s.X1, s.Y1, s.Size))
	r := rand.New(rand.NewPCG(seed, seed>>1))
	for i := 0; i < 20; i++ {
		dx := (r.Float64() - 0.5) * s.Size * 2
		dy := (r.Float64() - 0.5) * s.Size * 2
		c.disc(s.X1+dx, s.Y1+dy, 1, withAlpha(col, r.Float64()*0.5+0.3), false)
	}
}

func (c *Canvas) shape(s canvas.Shape) error {
	col, err := canvas.ParseColor(s.Color)
	if err != nil {
		return err
	}
	var fillCol color.NRGBA
	if s.FillColor != "" {
		if fillCol, err = canvas.ParseColor(s.FillColor); err != nil {
			return err
		}
	}
	half := s.Size / 2

	switch s.Type {
	case canvas.ShapeRectangle:
		x0, x1 := math.Min(s.X0, s.X1), math.Max(s.X0, s.X1)
		y0, y1 := math.Min(s.Y0, s.Y1), math.Max(s.Y0, s.Y1)
		if fillCol.A > 0 {
			c.rect(x0, y0, x1, y1, fillCol)
		}
		c.rect(x0-half, y0-half, x1+half, y0+half, col)
		c.rect(x0-half, y1-half, x1+half, y1+half, col)
		c.rect(x0-half, y0-half, x0+half, y1+half, col)
		c.rect(x1-half, y0-half, x1+half, y1+half, col)
	case canvas.ShapeCircle:
		radius := math.Hypot(s.X1-s.X0, s.Y1-s.Y0)
		if fillCol.A > 0 {
			c.disc(s.X0, s.Y0, radius, fillCol, false)
		}
		c.ring(s.X0, s.Y0, radius, half, col)
	case canvas.ShapeLine:
		c.line(s.X0, s.Y0, s.X1, s.Y1, half, col)
	}
	return nil
}

// line stamps discs of radius r every half pixel from (x0,y0) to (x1,y1),
// giving round caps and joins.
func (c *Canvas) line(x0, y0, x1, y1, r float64, col color.NRGBA) {
	if r < 0.5 {
		r = 0.5
	}
	m := c.newMask()
	t0, t1, ok := clipSegment(x0, y0, x1, y1, -r, -r, float64(m.w)+r, float64(m.h)+r)
	if !ok {
		return
	}
	dx, dy := x1-x0, y1-y0
	steps := int(math.Ceil(math.Hypot(dx, dy) * (t1 - t0) * 2))
	for i := 0; i <= steps; i++ {
		t := t0
		if steps > 0 {
			t = t0 + (t1-t0)*float64(i)/float64(steps)
		}
		m.disc(x0+dx*t, y0+dy*t, r)
	}
	c.paint(m, col, false)
}

// clipSegment returns the parameter range of the segment inside the box
// (Liang-Barsky).
func clipSegment(x0, y0, x1, y1, minX, minY, maxX, maxY float64) (float64, float64, bool) {
	t0, t1 := 0.0, 1.0
	dx, dy := x1-x0, y1-y0
	for _, e := range [4][2]float64{{-dx, x0 - minX}, {dx, maxX - x0}, {-dy, y0 - minY}, {dy, maxY - y0}} {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return 0, 0, false
			}
			continue
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return 0, 0, false
			}
			t0 = math.Max(t0, t)
		} else {
			if t < t0 {
				return 0, 0, false
			}
			t1 = math.Min(t1, t)
		}
	}
	return t0, t1, true
}

func (c *Canvas) disc(cx, cy, r float64, col color.NRGBA, replace bool) {
	m := c.newMask()
	m.disc(cx, cy, r)
	c.paint(m, col, replace)
}

func (c *Canvas) ring(cx, cy, radius, half float64, col color.NRGBA) {
	if half < 0.5 {
		half = 0.5
	}
	m := c.newMask()
	m.each(cx-radius-half, cy-radius-half, cx+radius+half, cy+radius+half, func(x, y int) bool {
		d := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy)
		return math.Abs(d-radius) <= half
	})
	c.paint(m, col, false)
}

func (c *Canvas) rect(x0, y0, x1, y1 float64, col color.NRGBA) {
	m := c.newMask()
	m.each(x0, y0, x1, y1, func(x, y int) bool {
		px, py := float64(x)+0.5, float64(y)+0.5
		return px >= x0 && px <= x1 && py >= y0 && py <= y1
	})
	c.paint(m, col, false)
}

// paint composites col over every pixel in mask exactly once, or replaces
// the pixel outright when replace is set.
func (c *Canvas) paint(m *mask, col color.NRGBA, replace bool) {
	for k := range m.set {
		x, y := k%m.w, k/m.w
		i := c.img.PixOffset(x, y)
		px := c.img.Pix[i : i+4 : i+4]
		if replace {
			px[0], px[1], px[2], px[3] = col.R, col.G, col.B, col.A
			continue
		}
		over(px, col)
	}
}

// over is src-over compositing with straight (non-premultiplied) alpha.
func over(dst []uint8, src color.NRGBA) {
	sa := uint32(src.A)
	if sa == 0xff {
		dst[0], dst[1], dst[2], dst[3] = src.R, src.G, src.B, src.A
		return
	}
	if sa == 0 {
		return
	}
	da := uint32(dst[3])
	outA := sa*255 + da*(255-sa) // scaled by 255
	if outA == 0 {
		dst[0], dst[1], dst[2], dst[3] = 0, 0, 0, 0
		return
	}
	blend := func(s, d uint8) uint8 {
		v := (uint32(s)*sa*255 + uint32(d)*da*(255-sa) + outA/2) / outA
		return uint8(v)
	}
	dst[0] = blend(src.R, dst[0])
	dst[1] = blend(src.G, dst[1])
	dst[2] = blend(src.B, dst[2])
	dst[3] = uint8((outA + 127) / 255)
}

func withAlpha(c color.NRGBA, f float64) color.NRGBA {
	c.A = uint8(math.Round(float64(c.A) * f))
	return c
}

// mask is the set of pixels one primitive touches, so overlapping stamps of
// the same stroke do not compound their alpha.
type mask struct {
	w, h int
	set  map[int]struct{}
}

func (c *Canvas) newMask() *mask {
	return &mask{w: c.Width(), h: c.Height(), set: make(map[int]struct{})}
}

func (m *mask) disc(cx, cy, r float64) {
	m.each(cx-r, cy-r, cx+r, cy+r, func(x, y int) bool {
		return math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy) <= r
	})
}

func (m *mask) each(x0, y0, x1, y1 float64, in func(x, y int) bool) {
	minX := clamp(math.Floor(x0), m.w)
	maxX := clamp(math.Ceil(x1), m.w)
	minY := clamp(math.Floor(y0), m.h)
	maxY := clamp(math.Ceil(y1), m.h)
	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			if in(x, y) {
				m.set[y*m.w+x] = struct{}{}
			}
		}
	}
}

// clamp bounds v to [0, hi] before converting, so far off-canvas
// coordinates never overflow int.
func clamp(v float64, hi int) int {
	if v < 0 {
		return 0
	}
	if v > float64(hi) {
		return hi
	}
	return int(v)
}

// Rebuild resets the canvas to snap (white when nil) and replays actions on
// top of it in order. An action that fails to render is skipped and the
// first such error is returned after the rest are applied.
func (c *Canvas) Rebuild(snap *canvas.Snapshot, actions []canvas.Action) error {
	c.Reset()
	var first error
	if !snap.Empty() {
		if err := c.Load(snap.Data); err != nil {
			first = err
		}
	}
	for _, a := range actions {
		if err := c.Apply(a); err != nil && first == nil {
			first = fmt.Errorf("seq %d: %w", a.Seq, err)
		}
	}
	return first
}

// Encode returns the canvas as PNG bytes.
func (c *Canvas) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, c.img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Snapshot encodes the canvas as a snapshot tagged with seq.
func (c *Canvas) Snapshot(seq uint64) (*canvas.Snapshot, error) {
	b, err := c.Encode()
	if err != nil {
		return nil, err
	}
	return &canvas.Snapshot{Data: b, Seq: seq}, nil
}

// Load replaces the canvas content with a PNG image. Like drawing an image
// onto a cleared surface, pixels the image does not cover become transparent.
func (c *Canvas) Load(data []byte) error {
	src, err := Decode(data)
	if err != nil {
		return err
	}
	draw.Draw(c.img, c.img.Rect, image.NewUniform(transparentPx), image.Point{}, draw.Src)
	draw.Draw(c.img, c.img.Rect, src, src.Bounds().Min, draw.Src)
	return nil
}

// Decode parses PNG bytes into an RGBA image.
func Decode(data []byte) (*image.NRGBA, error) {
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if rgba, ok := src.(*image.NRGBA); ok {
		return rgba, nil
	}
	b := src.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, src, b.Min, draw.Src)
	return out, nil
}
