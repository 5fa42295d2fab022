package collab

import (
	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
	"github.com/NainaKothari-14/drawtogether/backend/internal/presence"
)

type EventType string

const (
	EventBoardState EventType = "board_state"
	EventJoined     EventType = "joined"
	EventLeft       EventType = "left"
	EventRoster     EventType = "roster"
	EventCursors    EventType = "cursors"
	EventOperation  EventType = "operation"
	EventCleared    EventType = "cleared"
	EventAck        EventType = "ack"
)

// Event is what the relay hands to subscribers. Fields are shared between
// recipients and must be treated as read-only.
type Event struct {
	Type     EventType
	BoardKey string

	// originating participant, for joined/left/operation/cleared
	Identity string
	Name     string
	Color    string

	Action  *canvas.Action // operation, cleared
	State   *State         // board_state
	Members []presence.Member
	Cursors map[string]presence.Cursor
	Seq     uint64 // ack
}

// Ordered reports whether losing the event would leave the recipient with a
// wrong picture of the board. Only cursor updates may be dropped.
func (e Event) Ordered() bool { return e.Type != EventCursors }

// Subscriber is one connection joined to a board. Deliver must not block: it
// enqueues and returns false when the connection cannot take more. Close
// must be idempotent and must not call back into the relay.
type Subscriber interface {
	ID() string
	Name() string
	Deliver(Event) bool
	Close()
}

// ActionSink observes every applied action, e.g. to stream it to Kafka.
type ActionSink interface {
	PublishAction(boardKey string, a canvas.Action)
}

// PresenceMirror observes roster and cursor changes, e.g. to share presence
// through Redis. MemberSeen reports that a joined member is still alive and
// may be called often; implementations throttle it.
type PresenceMirror interface {
	MemberJoined(boardKey string, m presence.Member)
	MemberSeen(boardKey string, m presence.Member)
	MemberLeft(boardKey, identity string)
	CursorMoved(boardKey, identity string, c presence.Cursor)
}

// SnapshotSink receives snapshots pushed to a board, e.g. for durable storage.
type SnapshotSink interface {
	Submit(boardKey string, snap *canvas.Snapshot) bool
}

// ActionSinks fans one action out to several sinks in order.
type ActionSinks []ActionSink

func (s ActionSinks) PublishAction(boardKey string, a canvas.Action) {
	for _, sink := range s {
		if sink != nil {
			sink.PublishAction(boardKey, a)
		}
	}
}
