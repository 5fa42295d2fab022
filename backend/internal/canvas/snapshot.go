package canvas

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"time"
)

var ErrInvalidSnapshot = errors.New("INVALID_SNAPSHOT")

// Snapshot is an encoded full-canvas raster (PNG). Seq is the sequence of
// the last board action already painted into it; 0 means unknown.
type Snapshot struct {
	Data []byte    `json:"data"`
	Seq  uint64    `json:"seq,omitempty"`
	At   time.Time `json:"at"`
}

func (s *Snapshot) Empty() bool { return s == nil || len(s.Data) == 0 }

// Clone returns a deep copy so callers never alias a stored buffer.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Data = append([]byte(nil), s.Data...)
	return &out
}

// Check reports whether the snapshot holds a PNG that decodes and fits in
// maxW x maxH. A bound <= 0 is not enforced. The header is checked before
// the full decode so an oversized image is never allocated.
func (s *Snapshot) Check(maxW, maxH int) error {
	if s.Empty() {
		return fmt.Errorf("%w: empty", ErrInvalidSnapshot)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(s.Data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 ||
		(maxW > 0 && cfg.Width > maxW) || (maxH > 0 && cfg.Height > maxH) {
		return fmt.Errorf("%w: %dx%d exceeds %dx%d", ErrInvalidSnapshot, cfg.Width, cfg.Height, maxW, maxH)
	}
	if _, err := png.Decode(bytes.NewReader(s.Data)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return nil
}
