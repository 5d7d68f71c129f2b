// Package mvcc implements the per-entity version chains, visibility
// rules, and garbage collection specified in §4.E. It sits above
// pkg/store: every create and write also pushes the newest version's
// properties, committed or not, into the "current" snapshot kept in the
// GraphStore, so that non-transactional reads (ScanCollection, the index
// manager's back-population) see them without needing to understand
// version chains themselves. A delete only stamps the chain; the store
// record stays until PhysicallyRemove drops it.
package mvcc

import (
	"fmt"
	"sync"
	"time"

	"github.com/deedb/deedb/pkg/store"
	"github.com/deedb/deedb/pkg/value"
)

// Isolation is the commit-time validation policy selected at BEGIN.
type Isolation int

const (
	ReadUncommitted Isolation = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

// version is one entry in an entity's append-only chain. Delete does not
// append a new version; it stamps DeletedBy on the currently visible one,
// per spec §4.E and §9's resolution of the DELETE-vs-tombstone question.
type version struct {
	Seq        uint64
	CreatedBy  value.TxnID
	DeletedBy  value.TxnID // value.NoTxn (0) means not deleted
	Collection string
	Properties map[string]value.Value
}

type chain struct {
	mu       sync.Mutex
	versions []*version
}

// ErrNotFound matches store.ErrNotFound so callers can use one
// errors.Is check regardless of which layer rejected the lookup.
var ErrNotFound = store.ErrNotFound

// Manager owns every entity's version chain and the GraphStore those
// chains project their current state into.
type Manager struct {
	store *store.GraphStore

	mu     sync.RWMutex
	chains map[value.EntityID]*chain
}

// New returns an MVCC manager backed by s.
func New(s *store.GraphStore) *Manager {
	return &Manager{store: s, chains: make(map[value.EntityID]*chain)}
}

func (m *Manager) chainFor(id value.EntityID, create bool) *chain {
	m.mu.RLock()
	c, ok := m.chains[id]
	m.mu.RUnlock()
	if ok || !create {
		return c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.chains[id]; ok {
		return c
	}
	c = &chain{}
	m.chains[id] = c
	return c
}

// Create installs a brand-new entity: its first version, created_by txn,
// and the backing store record (collection membership, adjacency slot).
func (m *Manager) Create(txn value.TxnID, collection string, props map[string]value.Value) value.EntityID {
	ents, _ := m.store.IDGenerators()
	id := value.EntityID(ents.Next())
	m.CreateWithID(id, txn, collection, props)
	return id
}

// CreateWithID is Create with a caller-supplied id, for the executor's
// log-before-apply ordering: the id must be known to build the WAL record
// before the version chain and store record are installed.
func (m *Manager) CreateWithID(id value.EntityID, txn value.TxnID, collection string, props map[string]value.Value) {
	c := m.chainFor(id, true)
	c.mu.Lock()
	c.versions = append(c.versions, &version{Seq: 1, CreatedBy: txn, Collection: collection, Properties: cloneProps(props)})
	c.mu.Unlock()

	shell := storeEntityShell(id, collection, props)
	m.store.InstallEntity(shell)
}

// storeEntityShell builds a store.Entity for InstallEntity. A tiny helper
// rather than exporting store.Entity's constructor, since store.Entity's
// other fields (CreatedAt, AccessedAt) are set by InstallEntity's caller
// context here, not by pkg/store itself, to keep both packages' clocks
// consistent with when the transaction actually ran.
func storeEntityShell(id value.EntityID, collection string, props map[string]value.Value) *store.Entity {
	now := time.Now()
	return &store.Entity{ID: id, Collection: collection, Properties: cloneProps(props), CreatedAt: now, AccessedAt: now}
}

// Read returns the newest version of id visible to txn under iso. For
// ReadUncommitted it ignores the creating transaction entirely and
// returns the newest version that isn't deleted, i.e. dirty reads see
// uncommitted writes and uncommitted deletes alike.
func (m *Manager) Read(id value.EntityID, txn value.TxnID, iso Isolation) (collection string, props map[string]value.Value, err error) {
	c := m.chainFor(id, false)
	if c == nil {
		return "", nil, fmt.Errorf("%w: entity %d", ErrNotFound, id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if iso == ReadUncommitted {
		if len(c.versions) == 0 {
			return "", nil, fmt.Errorf("%w: entity %d", ErrNotFound, id)
		}
		last := c.versions[len(c.versions)-1]
		if last.DeletedBy != value.NoTxn {
			return "", nil, fmt.Errorf("%w: entity %d", ErrNotFound, id)
		}
		return last.Collection, cloneProps(last.Properties), nil
	}

	for i := len(c.versions) - 1; i >= 0; i-- {
		v := c.versions[i]
		if v.CreatedBy > txn {
			continue
		}
		if v.DeletedBy != value.NoTxn && v.DeletedBy <= txn {
			continue
		}
		return v.Collection, cloneProps(v.Properties), nil
	}
	return "", nil, fmt.Errorf("%w: entity %d", ErrNotFound, id)
}

// Write retires the version currently visible to txn (stamping its
// deleted_by the same way Delete would) and appends a new version stamped
// with created_by = txn, then projects the change into the backing store.
// Retiring the old version is what makes it eligible for GC once no
// transaction can still see it; an update that left the prior version's
// deleted_by unset would pin it in every chain forever.
func (m *Manager) Write(id value.EntityID, txn value.TxnID, collection string, newProps map[string]value.Value) error {
	c := m.chainFor(id, false)
	if c == nil {
		return fmt.Errorf("%w: entity %d", ErrNotFound, id)
	}
	c.mu.Lock()
	for i := len(c.versions) - 1; i >= 0; i-- {
		v := c.versions[i]
		if v.CreatedBy > txn {
			continue
		}
		if v.DeletedBy != value.NoTxn && v.DeletedBy <= txn {
			continue
		}
		v.DeletedBy = txn
		break
	}
	seq := uint64(len(c.versions) + 1)
	c.versions = append(c.versions, &version{Seq: seq, CreatedBy: txn, Collection: collection, Properties: cloneProps(newProps)})
	c.mu.Unlock()
	return m.store.UpdateEntityProperties(id, cloneProps(newProps))
}

// Delete stamps the currently visible version's deleted_by, under the
// same visibility rule Read uses for the deleting transaction's own
// isolation level. It does not remove anything from the store; physical
// removal happens only via GC once no transaction can observe the entity.
func (m *Manager) Delete(id value.EntityID, txn value.TxnID, iso Isolation) error {
	c := m.chainFor(id, false)
	if c == nil {
		return fmt.Errorf("%w: entity %d", ErrNotFound, id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var target *version
	if iso == ReadUncommitted {
		if len(c.versions) > 0 {
			last := c.versions[len(c.versions)-1]
			if last.DeletedBy == value.NoTxn {
				target = last
			}
		}
	} else {
		for i := len(c.versions) - 1; i >= 0; i-- {
			v := c.versions[i]
			if v.CreatedBy > txn {
				continue
			}
			if v.DeletedBy != value.NoTxn && v.DeletedBy <= txn {
				continue
			}
			target = v
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: entity %d", ErrNotFound, id)
	}
	target.DeletedBy = txn
	return nil
}

// GC drops versions that are both created-before and deleted-before
// minActive, retaining at least one version per chain.
func (m *Manager) GC(minActive value.TxnID) {
	m.mu.RLock()
	chains := make([]*chain, 0, len(m.chains))
	for _, c := range m.chains {
		chains = append(chains, c)
	}
	m.mu.RUnlock()

	for _, c := range chains {
		c.mu.Lock()
		var kept []*version
		for _, v := range c.versions {
			if v.CreatedBy < minActive && v.DeletedBy != value.NoTxn && v.DeletedBy < minActive {
				continue
			}
			kept = append(kept, v)
		}
		if len(kept) == 0 && len(c.versions) > 0 {
			kept = []*version{c.versions[len(c.versions)-1]}
		}
		c.versions = kept
		c.mu.Unlock()
	}
}

// PhysicallyRemove drops id's chain and backing store record entirely.
// Called by GC's caller only once a tombstoned entity's last version is
// itself eligible for collection (i.e. GC reduced it to a single deleted
// version older than every active transaction).
func (m *Manager) PhysicallyRemove(id value.EntityID, minActive value.TxnID) {
	c := m.chainFor(id, false)
	if c == nil {
		return
	}
	c.mu.Lock()
	removable := len(c.versions) == 1 && c.versions[0].DeletedBy != value.NoTxn && c.versions[0].DeletedBy < minActive
	c.mu.Unlock()
	if !removable {
		return
	}
	m.mu.Lock()
	delete(m.chains, id)
	m.mu.Unlock()
	m.store.RemoveEntity(id)
}

// Abandon undoes every version touched, created by txn across the given
// entities: versions created by txn are dropped entirely, and any version
// txn retired (stamped as its own deleted_by) has that stamp cleared. The
// backing store's current-snapshot projection is then reset to whatever
// version chain is left exposed. pkg/mvcc applies writes eagerly at call
// time rather than buffering them until commit; Abandon is the undo half
// of that trade-off, called by the executor on explicit ROLLBACK or when
// Commit reports a conflict.
func (m *Manager) Abandon(txn value.TxnID, touched []value.EntityID) {
	for _, id := range touched {
		c := m.chainFor(id, false)
		if c == nil {
			continue
		}
		c.mu.Lock()
		kept := c.versions[:0:0]
		for _, v := range c.versions {
			if v.CreatedBy == txn {
				continue
			}
			if v.DeletedBy == txn {
				v.DeletedBy = value.NoTxn
			}
			kept = append(kept, v)
		}
		c.versions = kept
		var current *version
		if len(kept) > 0 {
			current = kept[len(kept)-1]
		}
		c.mu.Unlock()

		if current == nil {
			m.mu.Lock()
			delete(m.chains, id)
			m.mu.Unlock()
			m.store.RemoveEntity(id)
			continue
		}
		m.store.UpdateEntityProperties(id, cloneProps(current.Properties))
	}
}

func cloneProps(props map[string]value.Value) map[string]value.Value {
	out := make(map[string]value.Value, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
