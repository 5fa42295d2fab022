// Package presence tracks who is on each board and where their cursor is.
package presence

import (
	"errors"
	"sync"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
)

var ErrBoardFull = errors.New("BOARD_FULL")

type Member struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
	Color    string `json:"color"`
}

type Cursor struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Name  string  `json:"name"`
	Color string  `json:"color"`
}

type room struct {
	mu      sync.Mutex
	order   []string // join order
	members map[string]Member
	cursors map[string]Cursor
}

// Tracker holds the roster and cursors of every board. Each board has its
// own lock; different boards never contend past the map lookup.
type Tracker struct {
	mu    sync.RWMutex
	rooms map[string]*room

	maxParticipants int
}

// NewTracker returns a tracker; maxParticipants <= 0 means unbounded.
func NewTracker(maxParticipants int) *Tracker {
	return &Tracker{rooms: make(map[string]*room), maxParticipants: maxParticipants}
}

func (t *Tracker) lookup(boardKey string) *room {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rooms[boardKey]
}

func (t *Tracker) getOrCreate(boardKey string) *room {
	if r := t.lookup(boardKey); r != nil {
		return r
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.rooms[boardKey]
	if r == nil {
		r = &room{members: make(map[string]Member), cursors: make(map[string]Cursor)}
		t.rooms[boardKey] = r
	}
	return r
}

// Register adds identity to the board roster and returns its display color.
// Registering an identity again only refreshes its name.
func (t *Tracker) Register(boardKey, identity, name string) (string, error) {
	r := t.getOrCreate(boardKey)
	r.mu.Lock()
	defer r.mu.Unlock()

	color := canvas.ColorFor(identity)
	if m, ok := r.members[identity]; ok {
		m.Name = name
		r.members[identity] = m
		return color, nil
	}
	if t.maxParticipants > 0 && len(r.order) >= t.maxParticipants {
		return "", ErrBoardFull
	}
	r.order = append(r.order, identity)
	r.members[identity] = Member{Identity: identity, Name: name, Color: color}
	return color, nil
}

// Unregister removes identity and its cursor. It reports whether anything
// was removed; unknown identities are a no-op.
func (t *Tracker) Unregister(boardKey, identity string) bool {
	r := t.lookup(boardKey)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cursors, identity)
	if _, ok := r.members[identity]; !ok {
		return false
	}
	delete(r.members, identity)
	for i, id := range r.order {
		if id == identity {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// UpdateCursor overwrites the cursor of a registered identity.
func (t *Tracker) UpdateCursor(boardKey, identity string, x, y float64) (Cursor, bool) {
	r := t.lookup(boardKey)
	if r == nil {
		return Cursor{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[identity]
	if !ok {
		return Cursor{}, false
	}
	c := Cursor{X: x, Y: y, Name: m.Name, Color: m.Color}
	r.cursors[identity] = c
	return c, true
}

// Roster returns the members in join order.
func (t *Tracker) Roster(boardKey string) []Member {
	r := t.lookup(boardKey)
	if r == nil {
		return []Member{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Member, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id])
	}
	return out
}

// Cursors returns every known cursor on the board except excluding's own.
func (t *Tracker) Cursors(boardKey, excluding string) map[string]Cursor {
	out := make(map[string]Cursor)
	r := t.lookup(boardKey)
	if r == nil {
		return out
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.cursors {
		if id != excluding {
			out[id] = c
		}
	}
	return out
}

// Member returns the roster entry of identity on the board.
func (t *Tracker) Member(boardKey, identity string) (Member, bool) {
	r := t.lookup(boardKey)
	if r == nil {
		return Member{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[identity]
	return m, ok
}
