package collab

import (
	"time"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
)

const (
	EventActionApplied = "ACTION_APPLIED"
	EventBoardCleared  = "BOARD_CLEARED"
)

// BoardActionEvent is the record written to the action stream, keyed by
// board so one board's actions stay on one partition.
type BoardActionEvent struct {
	EventType string        `json:"eventType"`
	BoardKey  string        `json:"boardKey"`
	Seq       uint64        `json:"seq"`
	Action    canvas.Action `json:"action"`
	AppliedAt time.Time     `json:"appliedAt"`
}

func newBoardActionEvent(boardKey string, a canvas.Action) BoardActionEvent {
	typ := EventActionApplied
	if a.Kind == canvas.KindClear {
		typ = EventBoardCleared
	}
	return BoardActionEvent{EventType: typ, BoardKey: boardKey, Seq: a.Seq, Action: a, AppliedAt: a.At}
}
