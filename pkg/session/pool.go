package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/deedb/deedb/pkg/config"
)

// ErrPoolExhausted is returned by Acquire when no session is free and the
// pool is already at its configured maximum, and none becomes available
// before the acquire timeout elapses.
var ErrPoolExhausted = errors.New("session: pool exhausted")

// ErrPoolClosed is returned by Acquire once the owning DB has been closed.
var ErrPoolClosed = errors.New("session: pool is closed")

// pooledSession wraps a Session with the idle-tracking metadata the pool
// needs to decide when a handle is eligible for eviction.
type pooledSession struct {
	session  *Session
	lastUsed time.Time
}

// Pool is a bounded pool of Sessions against a shared DB. Grounded on the
// original engine's connection_pool.rs: a fixed capacity of connection
// slots, lazily filled with real sessions on first use, with an idle
// session past MaxIdle evicted and replaced by a fresh one at the point
// it would otherwise be handed out — the same place get_connection's
// health-check-then-evict branch runs, not a separate sweep goroutine.
//
// Unlike the original, which blocks a calling thread on a condvar when
// the pool is exhausted, Acquire respects ctx and cfg.AcquireTimeout and
// returns ErrPoolExhausted rather than blocking indefinitely: a single-
// process embedded engine has no separate admission-control layer to lean
// on, so an unbounded wait risks wedging the caller instead of surfacing
// back pressure. Slots are modeled as a buffered channel: a nil entry
// means "room to create a new session", a non-nil entry is an idle
// session waiting for reuse. Channel send/receive already gives correct
// wakeup semantics, so no condition variable or sweep loop is needed.
type Pool struct {
	db  *DB
	cfg config.PoolConfig

	slots chan *pooledSession

	mu      sync.Mutex
	active  int
	closed  bool
	created int64
}

func newPool(db *DB, cfg config.PoolConfig) *Pool {
	p := &Pool{db: db, cfg: cfg, slots: make(chan *pooledSession, cfg.MaxSize)}
	for i := 0; i < cfg.MaxSize; i++ {
		p.slots <- nil
	}
	return p
}

// acquire returns a Session: an idle one not past MaxIdle if available,
// otherwise a freshly created one, waiting up to cfg.AcquireTimeout (or
// until ctx is done) for a slot to free up.
func (p *Pool) acquire(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	// Prefer an idle session over creation room: rotate the slots queued
	// right now, sending creation room to the back, until an idle one
	// turns up.
	for n := len(p.slots); n > 0; n-- {
		select {
		case ps := <-p.slots:
			if ps != nil {
				return p.claim(ps)
			}
			p.slots <- nil
		default:
			n = 1
		}
	}

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case ps := <-p.slots:
		return p.claim(ps)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrPoolExhausted
	}
}

// claim turns a slot (idle session or creation room) into a checked-out
// Session.
func (p *Pool) claim(ps *pooledSession) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.slots <- ps // hand the slot back for Close's accounting, if anyone still reads it
		return nil, ErrPoolClosed
	}
	if ps != nil && p.cfg.MaxIdle > 0 && time.Since(ps.lastUsed) > p.cfg.MaxIdle {
		ps.session.reset()
		ps = nil // evicted: fall through to creating a fresh session in its place
	}
	p.active++
	if ps == nil {
		p.created++
	}
	p.mu.Unlock()

	if ps == nil {
		return newSession(p.db, p), nil
	}
	return ps.session, nil
}

// release returns s to the pool, available for the next acquire.
func (p *Pool) release(s *Session) {
	p.mu.Lock()
	p.active--
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	p.slots <- &pooledSession{session: s, lastUsed: time.Now()}
}

// closeAll marks the pool closed; outstanding checked-out sessions are
// left for their callers to finish with and Close themselves.
func (p *Pool) closeAll() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// PoolStats is the admin-facing snapshot of pool utilization (§4.L).
type PoolStats struct {
	Active       int
	Idle         int
	MaxSize      int
	MinSize      int
	TotalCreated int64
}

// Utilization returns Active/MaxSize, or 0 if MaxSize is 0.
func (s PoolStats) Utilization() float64 {
	if s.MaxSize == 0 {
		return 0
	}
	return float64(s.Active) / float64(s.MaxSize)
}

func (p *Pool) stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Active:       p.active,
		Idle:         len(p.slots), // includes unfilled creation room, not just idle sessions
		MaxSize:      p.cfg.MaxSize,
		MinSize:      p.cfg.MinSize,
		TotalCreated: p.created,
	}
}
