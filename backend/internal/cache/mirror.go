package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NainaKothari-14/drawtogether/backend/internal/presence"
)

const (
	DefaultMemberTTL = 60 * time.Second
	DefaultCursorTTL = 10 * time.Second
)

type mirrorOp struct {
	kind     byte // 'j' joined or seen, 'l' left, 'c' cursor
	board    string
	identity string
	member   presence.Member
	cursor   presence.Cursor
}

// Mirror copies relay presence changes into a PresenceCache from a single
// background worker. Callers never wait on Redis; when the queue is full the
// change is dropped and counted.
type Mirror struct {
	cache     PresenceCache
	memberTTL time.Duration
	cursorTTL time.Duration
	timeout   time.Duration
	log       *slog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan mirrorOp
	done    chan struct{}
	dropped atomic.Uint64
	failed  atomic.Uint64

	// last member TTL refresh per board/identity
	seenMu   sync.Mutex
	lastSeen map[string]time.Time
	now      func() time.Time
}

type MirrorOptions struct {
	QueueSize int
	MemberTTL time.Duration
	CursorTTL time.Duration
	Timeout   time.Duration
	Logger    *slog.Logger
}

func NewMirror(cache PresenceCache, opt MirrorOptions) *Mirror {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 1024
	}
	if opt.MemberTTL <= 0 {
		opt.MemberTTL = DefaultMemberTTL
	}
	if opt.CursorTTL <= 0 {
		opt.CursorTTL = DefaultCursorTTL
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 2 * time.Second
	}
	lg := opt.Logger
	if lg == nil {
		lg = slog.Default()
	}
	m := &Mirror{
		cache:     cache,
		memberTTL: opt.MemberTTL,
		cursorTTL: opt.CursorTTL,
		timeout:   opt.Timeout,
		log:       lg.With("component", "presence_mirror"),
		queue:     make(chan mirrorOp, opt.QueueSize),
		done:      make(chan struct{}),
		lastSeen:  make(map[string]time.Time),
		now:       time.Now,
	}
	go m.run()
	return m
}

func seenKey(board, identity string) string { return board + "\x00" + identity }

func (m *Mirror) MemberJoined(board string, mem presence.Member) {
	m.seenMu.Lock()
	m.lastSeen[seenKey(board, mem.Identity)] = m.now()
	m.seenMu.Unlock()
	m.offer(mirrorOp{kind: 'j', board: board, identity: mem.Identity, member: mem})
}

// MemberSeen refreshes the member's TTL at most once per third of the TTL,
// so heartbeats and cursor moves can call it freely.
func (m *Mirror) MemberSeen(board string, mem presence.Member) {
	key := seenKey(board, mem.Identity)
	now := m.now()
	m.seenMu.Lock()
	if last, ok := m.lastSeen[key]; ok && now.Sub(last) < m.memberTTL/3 {
		m.seenMu.Unlock()
		return
	}
	m.lastSeen[key] = now
	m.seenMu.Unlock()
	m.offer(mirrorOp{kind: 'j', board: board, identity: mem.Identity, member: mem})
}

func (m *Mirror) MemberLeft(board, identity string) {
	m.seenMu.Lock()
	delete(m.lastSeen, seenKey(board, identity))
	m.seenMu.Unlock()
	m.offer(mirrorOp{kind: 'l', board: board, identity: identity})
}

func (m *Mirror) CursorMoved(board, identity string, c presence.Cursor) {
	m.offer(mirrorOp{kind: 'c', board: board, identity: identity, cursor: c})
}

func (m *Mirror) offer(op mirrorOp) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- op:
	default:
		m.dropped.Add(1)
	}
}

func (m *Mirror) run() {
	defer close(m.done)
	for op := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		var err error
		switch op.kind {
		case 'j':
			err = m.cache.AddMember(ctx, op.board, op.member, m.memberTTL)
		case 'l':
			err = m.cache.RemoveMember(ctx, op.board, op.identity)
		case 'c':
			err = m.cache.SetCursor(ctx, op.board, op.identity, op.cursor, m.cursorTTL)
		}
		cancel()
		if err != nil {
			if m.failed.Add(1)%100 == 1 {
				m.log.Warn("presence mirror write failed", "board", op.board, "identity", op.identity, "err", err)
			}
		}
	}
}

// Close drains queued changes and stops the worker.
func (m *Mirror) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()
	<-m.done
}

// Stats returns dropped and failed write counts.
func (m *Mirror) Stats() (dropped, failed uint64) {
	return m.dropped.Load(), m.failed.Load()
}
