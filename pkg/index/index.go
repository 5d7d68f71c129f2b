package index

import (
	"fmt"
	"sync"

	"github.com/deedb/deedb/pkg/value"
)

// Kind codes surfaced through errors match the externally visible kinds
// named in spec §6 (UnknownIndex, DuplicateIndex, UniqueViolation).
var (
	ErrUnknownIndex    = fmt.Errorf("index: unknown index")
	ErrDuplicateIndex  = fmt.Errorf("index: duplicate index name")
	ErrUniqueViolation = fmt.Errorf("index: unique constraint violated")
)

// Definition describes one installed secondary index.
type Definition struct {
	Name       string
	Collection string
	Field      string
	Unique     bool
}

// oneIndex pairs a Definition with its backing B-tree and a lock scoped to
// that single index, so one hot index being range-scanned doesn't block
// writers on an unrelated index.
type oneIndex struct {
	mu   sync.RWMutex
	def  Definition
	tree *btree
}

// EntitySource is the minimal view of the graph store the index manager
// needs to back-populate a newly created index.
type EntitySource interface {
	ScanCollection(collection string) []EntitySnapshot
}

// EntitySnapshot is the shape the graph store hands the index manager for
// back-population and hook calls: just enough to extract the indexed
// field's value, not a full entity copy.
type EntitySnapshot struct {
	ID         value.EntityID
	Properties map[string]value.Value
}

// Manager is the secondary index manager (§4.C). One Manager serves every
// collection in a store; indexes are named uniquely across collections.
type Manager struct {
	mu      sync.RWMutex
	byName  map[string]*oneIndex
	byField map[string]map[string][]*oneIndex // collection -> field -> indexes
}

// NewManager returns an empty index manager.
func NewManager() *Manager {
	return &Manager{
		byName:  make(map[string]*oneIndex),
		byField: make(map[string]map[string][]*oneIndex),
	}
}

// CreateIndex installs a new index, back-populating it from src. Name
// uniqueness is enforced; a unique index rejects duplicate keys found
// during back-population, leaving no partial index installed.
func (m *Manager) CreateIndex(name, collection, field string, unique bool, src EntitySource) error {
	m.mu.Lock()
	if _, exists := m.byName[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDuplicateIndex, name)
	}
	idx := &oneIndex{
		def:  Definition{Name: name, Collection: collection, Field: field, Unique: unique},
		tree: newBtree(),
	}
	m.mu.Unlock()

	for _, snap := range src.ScanCollection(collection) {
		v, ok := snap.Properties[field]
		if !ok {
			v = value.Null
		}
		k, err := NewKey(v)
		if err != nil {
			continue // non-indexable values (Bytes) are simply absent from the index
		}
		if unique {
			if e := idx.tree.search(k); e != nil && len(e.ids) > 0 {
				return fmt.Errorf("%w: index %q field %q", ErrUniqueViolation, name, field)
			}
		}
		idx.tree.insert(k, snap.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateIndex, name)
	}
	m.byName[name] = idx
	if m.byField[collection] == nil {
		m.byField[collection] = make(map[string][]*oneIndex)
	}
	m.byField[collection][field] = append(m.byField[collection][field], idx)
	return nil
}

// DropIndex removes a previously created index. Unknown names error.
func (m *Manager) DropIndex(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownIndex, name)
	}
	delete(m.byName, name)
	list := m.byField[idx.def.Collection][idx.def.Field]
	for i, cand := range list {
		if cand == idx {
			m.byField[idx.def.Collection][idx.def.Field] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

// Lookup returns the (collection, field) indexes available, if any —
// used by the optimizer's index-promotion rewrite to decide whether a
// Scan+Filter can become an IndexLookup.
func (m *Manager) Lookup(collection, field string) (Definition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.byField[collection][field]
	if len(list) == 0 {
		return Definition{}, false
	}
	return list[0].def, true
}

func (m *Manager) get(name string) (*oneIndex, error) {
	m.mu.RLock()
	idx, ok := m.byName[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndex, name)
	}
	return idx, nil
}

// LookupEq returns every entity id stored under exactly value v in the
// named index.
func (m *Manager) LookupEq(name string, v value.Value) ([]value.EntityID, error) {
	idx, err := m.get(name)
	if err != nil {
		return nil, err
	}
	k, err := NewKey(v)
	if err != nil {
		return nil, nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e := idx.tree.search(k)
	if e == nil {
		return nil, nil
	}
	return idsOf(e), nil
}

// LookupRange returns every entity id whose indexed value falls in the
// closed interval [lo, hi].
func (m *Manager) LookupRange(name string, lo, hi value.Value) ([]value.EntityID, error) {
	idx, err := m.get(name)
	if err != nil {
		return nil, err
	}
	loK, err := NewKey(lo)
	if err != nil {
		return nil, nil
	}
	hiK, err := NewKey(hi)
	if err != nil {
		return nil, nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []value.EntityID
	idx.tree.rangeScan(&loK, &hiK, func(e *entry) bool {
		out = append(out, idsOf(e)...)
		return true
	})
	return out, nil
}

// LookupGT returns every entity id whose indexed value is strictly
// greater than v.
func (m *Manager) LookupGT(name string, v value.Value) ([]value.EntityID, error) {
	idx, err := m.get(name)
	if err != nil {
		return nil, err
	}
	k, err := NewKey(v)
	if err != nil {
		return nil, nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []value.EntityID
	idx.tree.rangeScan(&k, nil, func(e *entry) bool {
		if !e.key.Equal(k) {
			out = append(out, idsOf(e)...)
		}
		return true
	})
	return out, nil
}

// LookupLT returns every entity id whose indexed value is strictly less
// than v.
func (m *Manager) LookupLT(name string, v value.Value) ([]value.EntityID, error) {
	idx, err := m.get(name)
	if err != nil {
		return nil, err
	}
	k, err := NewKey(v)
	if err != nil {
		return nil, nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []value.EntityID
	idx.tree.rangeScan(nil, &k, func(e *entry) bool {
		if !e.key.Equal(k) {
			out = append(out, idsOf(e)...)
		}
		return true
	})
	return out, nil
}

// OnInsert updates every index defined on collection for the properties of
// a newly inserted entity. The first unique violation aborts the whole
// call and returns an error; the caller (executor) is expected to treat
// this as aborting the enclosing transaction, so partial index updates
// made before the violation are acceptable only because the transaction
// as a whole will not be considered committed.
func (m *Manager) OnInsert(collection string, id value.EntityID, props map[string]value.Value) error {
	for _, idx := range m.indexesFor(collection) {
		v := props[idx.def.Field]
		k, err := NewKey(v)
		if err != nil {
			continue
		}
		idx.mu.Lock()
		if idx.def.Unique {
			if e := idx.tree.search(k); e != nil && len(e.ids) > 0 {
				idx.mu.Unlock()
				return fmt.Errorf("%w: index %q", ErrUniqueViolation, idx.def.Name)
			}
		}
		idx.tree.insert(k, id)
		idx.mu.Unlock()
	}
	return nil
}

// OnDelete removes id from every index defined on collection.
func (m *Manager) OnDelete(collection string, id value.EntityID, props map[string]value.Value) {
	for _, idx := range m.indexesFor(collection) {
		v := props[idx.def.Field]
		k, err := NewKey(v)
		if err != nil {
			continue
		}
		idx.mu.Lock()
		idx.tree.remove(k, id)
		idx.mu.Unlock()
	}
}

// OnUpdate moves id from its old key to its new key in every index defined
// on collection, enforcing uniqueness on the new key first.
func (m *Manager) OnUpdate(collection string, id value.EntityID, before, after map[string]value.Value) error {
	for _, idx := range m.indexesFor(collection) {
		oldV, newV := before[idx.def.Field], after[idx.def.Field]
		oldK, errOld := NewKey(oldV)
		newK, errNew := NewKey(newV)
		if errOld == nil && errNew == nil && oldK.Equal(newK) {
			continue // field didn't change
		}
		idx.mu.Lock()
		if errNew == nil && idx.def.Unique {
			if e := idx.tree.search(newK); e != nil && len(e.ids) > 0 {
				idx.mu.Unlock()
				return fmt.Errorf("%w: index %q", ErrUniqueViolation, idx.def.Name)
			}
		}
		if errOld == nil {
			idx.tree.remove(oldK, id)
		}
		if errNew == nil {
			idx.tree.insert(newK, id)
		}
		idx.mu.Unlock()
	}
	return nil
}

func (m *Manager) indexesFor(collection string) []*oneIndex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*oneIndex
	for _, list := range m.byField[collection] {
		out = append(out, list...)
	}
	return out
}

func idsOf(e *entry) []value.EntityID {
	out := make([]value.EntityID, 0, len(e.ids))
	for id := range e.ids {
		out = append(out, id)
	}
	return out
}
