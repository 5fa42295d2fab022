// Package fill implements the tolerance-matching 4-connected flood fill used
// everywhere a fill action is applied. Every participant and the server run
// the same code with the same tolerance, so replaying a fill produces the
// same pixels as the original.
package fill

import (
	"errors"
	"image"
	"image/color"
)

// DefaultTolerance is the per-channel absolute difference still counted as
// the same color.
const DefaultTolerance = 10

var ErrBufferSize = errors.New("fill: buffer smaller than width*height*4")

// Engine fills RGBA pixel buffers (4 bytes per pixel, row-major, no padding).
type Engine struct {
	Tolerance int
}

// New returns an engine with the given tolerance. 0 selects
// DefaultTolerance like every other unset option; a negative tolerance
// matches colors exactly.
func New(tolerance int) Engine {
	switch {
	case tolerance == 0:
		tolerance = DefaultTolerance
	case tolerance < 0:
		tolerance = 0
	}
	return Engine{Tolerance: tolerance}
}

// Matches reports whether a and b are within tolerance on R, G, B and A.
func (e Engine) Matches(a, b color.NRGBA) bool {
	return within(a.R, b.R, e.Tolerance) &&
		within(a.G, b.G, e.Tolerance) &&
		within(a.B, b.B, e.Tolerance) &&
		within(a.A, b.A, e.Tolerance)
}

func within(a, b uint8, tol int) bool {
	d := int(a) - int(b)
	if d < 0 {
		d = -d
	}
	return d <= tol
}

// Fill replaces the region 4-connected to (seedX, seedY) whose pixels match
// the seed color with fc, and returns how many pixels changed. A seed outside
// the buffer, or a seed already matching fc, is a no-op.
func (e Engine) Fill(buf []uint8, width, height, seedX, seedY int, fc color.NRGBA) (int, error) {
	if width <= 0 || height <= 0 {
		return 0, nil
	}
	if len(buf) < width*height*4 {
		return 0, ErrBufferSize
	}
	return e.fill(buf, width*4, width, height, seedX, seedY, fc), nil
}

// FillImage is Fill over an *image.NRGBA, honouring its stride and bounds.
// Coordinates are relative to img.Rect.Min.
func (e Engine) FillImage(img *image.NRGBA, seedX, seedY int, fc color.NRGBA) int {
	b := img.Rect
	return e.fill(img.Pix, img.Stride, b.Dx(), b.Dy(), seedX, seedY, fc)
}

func (e Engine) fill(pix []uint8, stride, width, height, seedX, seedY int, fc color.NRGBA) int {
	if seedX < 0 || seedY < 0 || seedX >= width || seedY >= height {
		return 0
	}
	at := func(x, y int) color.NRGBA {
		i := y*stride + x*4
		return color.NRGBA{R: pix[i], G: pix[i+1], B: pix[i+2], A: pix[i+3]}
	}

	target := at(seedX, seedY)
	if e.Matches(target, fc) {
		return 0
	}

	visited := make([]bool, width*height)
	stack := make([]image.Point, 0, 64)
	stack = append(stack, image.Point{X: seedX, Y: seedY})
	n := 0
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if p.X < 0 || p.Y < 0 || p.X >= width || p.Y >= height {
			continue
		}
		k := p.Y*width + p.X
		if visited[k] {
			continue
		}
		visited[k] = true
		if !e.Matches(at(p.X, p.Y), target) {
			continue
		}

		i := p.Y*stride + p.X*4
		pix[i], pix[i+1], pix[i+2], pix[i+3] = fc.R, fc.G, fc.B, fc.A
		n++

		stack = append(stack,
			image.Point{X: p.X + 1, Y: p.Y},
			image.Point{X: p.X - 1, Y: p.Y},
			image.Point{X: p.X, Y: p.Y + 1},
			image.Point{X: p.X, Y: p.Y - 1},
		)
	}
	return n
}
