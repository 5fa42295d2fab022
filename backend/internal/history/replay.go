package history

import (
	"context"
	"time"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
)

// Replay plays steps back in order, calling apply for each and waiting delay
// between steps. Cancellation is checked before every step; a step that has
// started always completes. Returns how many steps were applied.
func Replay(ctx context.Context, steps []*canvas.Snapshot, delay time.Duration, apply func(i int, snap *canvas.Snapshot) error) (int, error) {
	var timer *time.Timer
	if delay > 0 {
		timer = time.NewTimer(delay)
		timer.Stop()
		defer timer.Stop()
	}
	for i, snap := range steps {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := apply(i, snap); err != nil {
			return i, err
		}
		if timer == nil || i == len(steps)-1 {
			continue
		}
		timer.Reset(delay)
		select {
		case <-ctx.Done():
			return i + 1, ctx.Err()
		case <-timer.C:
		}
	}
	return len(steps), nil
}
