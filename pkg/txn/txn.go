// Package txn implements the transaction manager described in §4.D:
// begin/commit/rollback, read/write-set tracking, and the isolation-level
// commit-time validation policy. Writes are not buffered here: pkg/mvcc
// applies them eagerly, and this package only tracks read and write sets
// and validates them at commit.
package txn

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/deedb/deedb/pkg/mvcc"
	"github.com/deedb/deedb/pkg/value"
)

var (
	// ErrNotActive is returned by any operation against a transaction that
	// has already committed or rolled back.
	ErrNotActive = errors.New("txn: transaction is not active")
	// ErrConflict is returned by Commit when a concurrent transaction
	// invalidates this one under its isolation level.
	ErrConflict = errors.New("txn: commit conflict")
)

// Status is a transaction's lifecycle state.
type Status int

const (
	Active Status = iota
	Committed
	RolledBack
)

// Txn is one in-flight (or resolved) transaction. Reads and writes issued
// through it are tracked so Commit can apply the isolation level's
// validation policy; the actual data lives in pkg/mvcc's version chains.
type Txn struct {
	ID     value.TxnID
	Iso    mvcc.Isolation
	Status Status

	readSet  map[value.EntityID]struct{}
	writeSet map[value.EntityID]struct{}
}

// trackRead records that the transaction observed entity id. Idempotent.
func (t *Txn) trackRead(id value.EntityID) {
	t.readSet[id] = struct{}{}
}

// trackWrite records that the transaction wrote entity id. Idempotent.
func (t *Txn) trackWrite(id value.EntityID) {
	t.writeSet[id] = struct{}{}
}

// WriteSet returns the entities t wrote, for the caller to undo against
// pkg/mvcc when t rolls back or loses commit-time validation. pkg/mvcc
// applies writes eagerly rather than buffering them until commit, so
// undoing a rolled-back transaction is the caller's responsibility, not
// something Rollback/Commit can do internally without importing pkg/mvcc's
// write path.
func (t *Txn) WriteSet() []value.EntityID {
	out := make([]value.EntityID, 0, len(t.writeSet))
	for id := range t.writeSet {
		out = append(out, id)
	}
	return out
}

type commitRecord struct {
	id       value.TxnID
	writeSet map[value.EntityID]struct{}
}

// Manager begins, commits, and rolls back transactions, and computes the
// oldest-active-transaction horizon pkg/mvcc's GC pass needs.
type Manager struct {
	mu sync.Mutex

	ids *value.IDGenerator

	active   map[value.TxnID]*Txn
	history  []commitRecord // committed transactions, oldest first
	maxHistory int

	committed atomic.Int64
	aborted   atomic.Int64
}

// Stats is the admin-facing snapshot §6 and §4.L's AdminStats require:
// how many transactions are currently active, and running totals of how
// many have committed or aborted (rolled back, either by client request
// or by losing commit-time validation) since the manager was created.
type Stats struct {
	Active    int
	Committed int64
	Aborted   int64
}

// Stats reports the manager's current transaction counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	active := len(m.active)
	m.mu.Unlock()
	return Stats{Active: active, Committed: m.committed.Load(), Aborted: m.aborted.Load()}
}

// NewManager returns a transaction manager. maxHistory bounds how many
// committed transactions' write sets are retained for conflict checking
// against still-active transactions; 0 means unbounded.
func NewManager(maxHistory int) *Manager {
	return &Manager{
		ids:        value.NewIDGenerator(),
		active:     make(map[value.TxnID]*Txn),
		maxHistory: maxHistory,
	}
}

// FastForward advances the id generator past maxSeen, so the first
// transaction begun after a WAL recovery pass never reuses an id that
// already appears in the recovered log.
func (m *Manager) FastForward(maxSeen value.TxnID) {
	m.ids.Observe(uint64(maxSeen))
}

// Begin starts a new transaction under the given isolation level.
func (m *Manager) Begin(iso mvcc.Isolation) *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &Txn{
		ID:       value.TxnID(m.ids.Next()),
		Iso:      iso,
		Status:   Active,
		readSet:  make(map[value.EntityID]struct{}),
		writeSet: make(map[value.EntityID]struct{}),
	}
	m.active[t.ID] = t
	return t
}

// TrackRead records a read of id under t, for RepeatableRead/Serializable
// validation at commit time. Returns ErrNotActive once t is no longer
// active.
func (m *Manager) TrackRead(t *Txn, id value.EntityID) error {
	if t.Status != Active {
		return ErrNotActive
	}
	t.trackRead(id)
	return nil
}

// TrackWrite records a write of id under t.
func (m *Manager) TrackWrite(t *Txn, id value.EntityID) error {
	if t.Status != Active {
		return ErrNotActive
	}
	t.trackWrite(id)
	return nil
}

// Commit validates t against the isolation level's conflict policy and, if
// it passes, marks it committed and records its write set in history for
// future transactions' validation.
//
//   - ReadUncommitted, ReadCommitted: no validation, always succeeds.
//   - RepeatableRead: fails if any committed transaction with a higher id
//     than t (one that began after t) wrote to an entity t read (a
//     non-repeatable read would otherwise be observable).
//   - Serializable: RepeatableRead's check, plus fails if any transaction
//     that committed after t began wrote to an entity t also wrote
//     (write-write conflict).
func (m *Manager) Commit(t *Txn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.Status != Active {
		return ErrNotActive
	}

	if t.Iso == mvcc.RepeatableRead || t.Iso == mvcc.Serializable {
		for _, rec := range m.history {
			if rec.id <= t.ID {
				continue // began before t; not in the checked id range
			}
			if intersects(rec.writeSet, t.readSet) {
				t.Status = RolledBack
				delete(m.active, t.ID)
				m.aborted.Add(1)
				return ErrConflict
			}
			if t.Iso == mvcc.Serializable && intersects(rec.writeSet, t.writeSet) {
				t.Status = RolledBack
				delete(m.active, t.ID)
				m.aborted.Add(1)
				return ErrConflict
			}
		}
	}

	t.Status = Committed
	delete(m.active, t.ID)
	m.committed.Add(1)
	m.history = append(m.history, commitRecord{id: t.ID, writeSet: t.writeSet})
	if m.maxHistory > 0 && len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
	return nil
}

// Rollback discards t's tracked state without validation.
func (m *Manager) Rollback(t *Txn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Status != Active {
		return ErrNotActive
	}
	t.Status = RolledBack
	delete(m.active, t.ID)
	m.aborted.Add(1)
	return nil
}

// MinActiveTxn returns the lowest id among currently active transactions,
// or the next id to be issued if none are active. pkg/mvcc's GC pass uses
// this as the horizon below which superseded/tombstoned versions are safe
// to drop: no active transaction can have a snapshot older than it.
func (m *Manager) MinActiveTxn() value.TxnID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.active) == 0 {
		return value.TxnID(m.ids.Peek())
	}
	min := value.TxnID(^uint64(0))
	for id := range m.active {
		if id < min {
			min = id
		}
	}
	return min
}

func intersects(a, b map[value.EntityID]struct{}) bool {
	small, big := a, b
	if len(big) < len(small) {
		small, big = big, small
	}
	for id := range small {
		if _, ok := big[id]; ok {
			return true
		}
	}
	return false
}
