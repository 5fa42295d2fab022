// Package canvas holds the shared drawing vocabulary: the closed set of
// actions a participant can perform, their colors and the snapshot type.
package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"math"
	"strings"
	"time"
)

var ErrInvalidAction = errors.New("INVALID_ACTION")

type Kind string

const (
	KindStroke Kind = "stroke"
	KindShape  Kind = "shape"
	KindErase  Kind = "erase"
	KindFill   Kind = "fill"
	KindClear  Kind = "clear"
)

// Payload is implemented only by the payload types of this package.
type Payload interface {
	Kind() Kind
	Validate() error
	payload()
}

type Brush string

const (
	BrushNormal Brush = "normal"
	BrushBlur   Brush = "blur"
	BrushSpray  Brush = "spray"
	BrushMarker Brush = "marker"
	BrushGlow   Brush = "glow"
)

// Stroke is one segment of a free-hand line, sent while the pointer moves.
type Stroke struct {
	X0    float64 `json:"x0"`
	Y0    float64 `json:"y0"`
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
	Color string  `json:"color"`
	Size  float64 `json:"size"`
	Brush Brush   `json:"brushType,omitempty"`
}

type ShapeType string

const (
	ShapeRectangle ShapeType = "rectangle"
	ShapeCircle    ShapeType = "circle"
	ShapeLine      ShapeType = "line"
)

// Shape is a completed rectangle, circle or straight line. For circles
// (X0,Y0) is the center and the distance to (X1,Y1) the radius.
type Shape struct {
	Type      ShapeType `json:"type"`
	X0        float64   `json:"x0"`
	Y0        float64   `json:"y0"`
	X1        float64   `json:"x1"`
	Y1        float64   `json:"y1"`
	Color     string    `json:"color"`
	FillColor string    `json:"fillColor,omitempty"`
	Size      float64   `json:"size"`
}

// Erase clears a disc of radius Size around (X,Y).
type Erase struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Size float64 `json:"size"`
}

// Fill flood-fills the region containing the seed pixel (X,Y).
type Fill struct {
	X         int    `json:"x"`
	Y         int    `json:"y"`
	FillColor string `json:"fillColor"`
}

// Clear resets the whole canvas to white.
type Clear struct{}

func (Stroke) Kind() Kind { return KindStroke }
func (Shape) Kind() Kind  { return KindShape }
func (Erase) Kind() Kind  { return KindErase }
func (Fill) Kind() Kind   { return KindFill }
func (Clear) Kind() Kind  { return KindClear }

func (Stroke) payload() {}
func (Shape) payload()  {}
func (Erase) payload()  {}
func (Fill) payload()   {}
func (Clear) payload()  {}

func (s Stroke) Validate() error {
	if err := finite(s.X0, s.Y0, s.X1, s.Y1); err != nil {
		return err
	}
	if _, err := ParseColor(s.Color); err != nil {
		return err
	}
	switch s.Brush {
	case "", BrushNormal, BrushBlur, BrushSpray, BrushMarker, BrushGlow:
	default:
		return fmt.Errorf("%w: brush %q", ErrInvalidAction, s.Brush)
	}
	return positive(s.Size)
}

func (s Shape) Validate() error {
	switch s.Type {
	case ShapeRectangle, ShapeCircle, ShapeLine:
	default:
		return fmt.Errorf("%w: shape %q", ErrInvalidAction, s.Type)
	}
	if err := finite(s.X0, s.Y0, s.X1, s.Y1); err != nil {
		return err
	}
	if _, err := ParseColor(s.Color); err != nil {
		return err
	}
	if s.FillColor != "" {
		if _, err := ParseColor(s.FillColor); err != nil {
			return err
		}
	}
	return positive(s.Size)
}

func (e Erase) Validate() error {
	if err := finite(e.X, e.Y); err != nil {
		return err
	}
	return positive(e.Size)
}

func (f Fill) Validate() error {
	_, err := f.Color()
	return err
}

// Color returns the fill color. Fills always paint opaque pixels, so the
// alpha channel of the requested color is ignored; "transparent" is refused.
func (f Fill) Color() (c color.NRGBA, err error) {
	if strings.EqualFold(strings.TrimSpace(f.FillColor), Transparent) {
		return c, fmt.Errorf("%w: fill color must be opaque", ErrInvalidAction)
	}
	rgba, err := ParseColor(f.FillColor)
	if err != nil {
		return c, err
	}
	rgba.A = 0xff
	return rgba, nil
}

func (Clear) Validate() error { return nil }

func finite(vs ...float64) error {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: coordinate %v", ErrInvalidAction, v)
		}
	}
	return nil
}

func positive(size float64) error {
	if math.IsNaN(size) || math.IsInf(size, 0) || size <= 0 {
		return fmt.Errorf("%w: size %v", ErrInvalidAction, size)
	}
	return nil
}

// DecodePayload decodes raw as the payload of kind and validates it.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch kind {
	case KindStroke:
		var v Stroke
		if err := unmarshal(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case KindShape:
		var v Shape
		if err := unmarshal(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case KindErase:
		var v Erase
		if err := unmarshal(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case KindFill:
		var v Fill
		if err := unmarshal(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case KindClear:
		p = Clear{}
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidAction, kind)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func unmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", ErrInvalidAction)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	return nil
}

// Action is one entry of a board log. Immutable once appended.
type Action struct {
	Seq      uint64    // arrival order on the board, starting at 1
	Kind     Kind      // always Payload.Kind()
	Author   string    // display name of the originating participant
	AuthorID string    // connection identity of the originating participant
	At       time.Time // wall-clock arrival, for the timeline
	Payload  Payload
}

type actionJSON struct {
	Seq      uint64          `json:"seq"`
	Kind     Kind            `json:"kind"`
	Author   string          `json:"author"`
	AuthorID string          `json:"authorId,omitempty"`
	At       time.Time       `json:"at"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func (a Action) MarshalJSON() ([]byte, error) {
	w := actionJSON{Seq: a.Seq, Kind: a.Kind, Author: a.Author, AuthorID: a.AuthorID, At: a.At}
	if a.Payload != nil {
		b, err := json.Marshal(a.Payload)
		if err != nil {
			return nil, err
		}
		w.Payload = b
	}
	return json.Marshal(w)
}

func (a *Action) UnmarshalJSON(b []byte) error {
	var w actionJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	p, err := DecodePayload(w.Kind, w.Payload)
	if err != nil {
		return err
	}
	*a = Action{Seq: w.Seq, Kind: w.Kind, Author: w.Author, AuthorID: w.AuthorID, At: w.At, Payload: p}
	return nil
}
