// Package store implements the in-memory graph store (§4.B): concurrent
// entity/edge maps, per-entity adjacency, and collection membership.
//
// This is the "current snapshot" layer a MemoryEngine-shaped store would
// hold in the teacher repo; version history for transactional readers
// lives one layer up in pkg/mvcc, which calls back into this package's
// exported apply methods (InstallEntity, UpdateEntityProperties,
// RemoveEntity) to keep the current snapshot in step with its chains.
package store

import (
	"sync"
	"time"

	"github.com/deedb/deedb/pkg/value"
)

// Entity is a node: a row of a collection with arbitrary typed
// properties.
type Entity struct {
	ID         value.EntityID
	Collection string
	Properties map[string]value.Value
	CreatedAt  time.Time
	AccessedAt time.Time
	AccessCnt  uint64
}

// clone returns a deep-enough copy safe to hand to callers outside the
// store's locks: a new Properties map, same Value contents (Value is
// itself immutable).
func (e *Entity) clone() *Entity {
	cp := *e
	cp.Properties = make(map[string]value.Value, len(e.Properties))
	for k, v := range e.Properties {
		cp.Properties[k] = v
	}
	return &cp
}

// neighbor is one entry in an adjacency list: the id of the entity on the
// other end of the edge, and the edge's own id.
type neighbor struct {
	Node value.EntityID
	Edge value.EdgeID
}

// adjacency holds, for one entity, the outgoing and incoming edge sets
// keyed by type label, per spec §3. It carries its own mutex so that
// mutating one entity's adjacency never blocks another entity's.
type adjacency struct {
	mu  sync.Mutex
	out map[string][]neighbor
	in  map[string][]neighbor
}

func newAdjacency() *adjacency {
	return &adjacency{out: make(map[string][]neighbor), in: make(map[string][]neighbor)}
}

func (a *adjacency) addOut(typ string, n neighbor) {
	a.mu.Lock()
	a.out[typ] = append(a.out[typ], n)
	a.mu.Unlock()
}

func (a *adjacency) addIn(typ string, n neighbor) {
	a.mu.Lock()
	a.in[typ] = append(a.in[typ], n)
	a.mu.Unlock()
}

func (a *adjacency) removeOut(typ string, edge value.EdgeID) {
	a.mu.Lock()
	a.out[typ] = removeEdge(a.out[typ], edge)
	a.mu.Unlock()
}

func (a *adjacency) removeIn(typ string, edge value.EdgeID) {
	a.mu.Lock()
	a.in[typ] = removeEdge(a.in[typ], edge)
	a.mu.Unlock()
}

func removeEdge(list []neighbor, edge value.EdgeID) []neighbor {
	for i, n := range list {
		if n.Edge == edge {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// snapshot copies out every (neighbor, edge) pair across all types, or
// just the ones under typ when typ != "".
func (a *adjacency) snapshot(dir bool, typ string) []neighbor {
	a.mu.Lock()
	defer a.mu.Unlock()
	src := a.out
	if !dir {
		src = a.in
	}
	if typ != "" {
		out := make([]neighbor, len(src[typ]))
		copy(out, src[typ])
		return out
	}
	var out []neighbor
	for _, list := range src {
		out = append(out, list...)
	}
	return out
}
