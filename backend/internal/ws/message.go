package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
	"github.com/NainaKothari-14/drawtogether/backend/internal/collab"
	"github.com/NainaKothari-14/drawtogether/backend/internal/presence"
)

var ErrProtocol = errors.New("PROTOCOL_ERROR")

// inbound types
const (
	TypeJoin      = "join"
	TypeCursor    = "cursor"
	TypeOperation = "operation"
	TypeClear     = "clear"
	TypeSnapshot  = "snapshot"
	TypeLeave     = "leave"
	TypeHeartbeat = "heartbeat"
)

// outbound types that are not relay events
const (
	TypeWelcome  = "welcome"
	TypeError    = "error"
	TypeFeedback = "feedback"
)

type ClientMessage struct {
	Type     string           `json:"type"`
	BoardKey string           `json:"boardKey,omitempty"`
	Name     string           `json:"name,omitempty"`
	X        float64          `json:"x,omitempty"`
	Y        float64          `json:"y,omitempty"`
	Kind     canvas.Kind      `json:"kind,omitempty"`
	Payload  json.RawMessage  `json:"payload,omitempty"`
	Snapshot *canvas.Snapshot `json:"snapshot,omitempty"`
}

type ServerMessage struct {
	Type     string                     `json:"type"`
	BoardKey string                     `json:"boardKey,omitempty"`
	Identity string                     `json:"identity,omitempty"`
	Name     string                     `json:"name,omitempty"`
	Color    string                     `json:"color,omitempty"`
	Seq      uint64                     `json:"seq,omitempty"`
	Action   *canvas.Action             `json:"action,omitempty"`
	Actions  []canvas.Action            `json:"actions,omitempty"`
	Snapshot *canvas.Snapshot           `json:"snapshot,omitempty"`
	Members  []presence.Member          `json:"members,omitempty"`
	Cursors  map[string]presence.Cursor `json:"cursors,omitempty"`
	Content  string                     `json:"content,omitempty"`
}

func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if m.Type == "" {
		return m, fmt.Errorf("%w: missing type", ErrProtocol)
	}
	return m, nil
}

// DrawPayload decodes the payload of an operation frame.
func (m ClientMessage) DrawPayload() (canvas.Payload, error) {
	if m.Kind == "" {
		return nil, fmt.Errorf("%w: missing kind", canvas.ErrInvalidAction)
	}
	return canvas.DecodePayload(m.Kind, m.Payload)
}

// FromEvent converts a relay event to its wire form.
func FromEvent(e collab.Event) ServerMessage {
	m := ServerMessage{
		Type:     string(e.Type),
		BoardKey: e.BoardKey,
		Identity: e.Identity,
		Name:     e.Name,
		Color:    e.Color,
		Seq:      e.Seq,
		Action:   e.Action,
		Members:  e.Members,
		Cursors:  e.Cursors,
	}
	if e.Action != nil {
		m.Seq = e.Action.Seq
	}
	if e.State != nil {
		m.Seq = e.State.Seq
		m.Actions = e.State.Actions
		m.Snapshot = e.State.Snapshot
	}
	return m
}

func errorMessage(boardKey string, err error) ServerMessage {
	return ServerMessage{Type: TypeError, BoardKey: boardKey, Content: err.Error()}
}
