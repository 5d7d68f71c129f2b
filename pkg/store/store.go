package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/deedb/deedb/pkg/value"
)

// ErrNotFound is returned when an entity or edge id does not resolve to a
// live record. Checked with errors.Is; wrapped with context via %w.
var ErrNotFound = fmt.Errorf("store: not found")

const shardCount = 32

func entityShardOf(id value.EntityID) int { return int(id) % shardCount }
func edgeShardOf(id value.EdgeID) int     { return int(id) % shardCount }

type entityShard struct {
	mu sync.RWMutex
	m  map[value.EntityID]*Entity
	// adj is kept in a parallel map rather than embedded in Entity so that
	// a caller holding an Entity snapshot never also holds adjacency
	// locks: the two concerns lock independently, per §5.
	adj map[value.EntityID]*adjacency
}

type edgeShard struct {
	mu sync.RWMutex
	m  map[value.EdgeID]*Edge
}

type collectionBucket struct {
	mu      sync.RWMutex
	ids     []value.EntityID
	present map[value.EntityID]struct{}
}

// GraphStore is the concurrent entity/edge store specified in §4.B. No
// single operation holds a lock over the whole store: entity and edge
// maps are sharded, adjacency mutation locks only the affected entity,
// and collection buckets lock only that one collection.
type GraphStore struct {
	ids   *value.IDGenerator
	eids  *value.IDGenerator
	ents  [shardCount]*entityShard
	edges [shardCount]*edgeShard

	colMu sync.RWMutex
	cols  map[string]*collectionBucket
}

// New returns an empty GraphStore.
func New() *GraphStore {
	s := &GraphStore{
		ids:  value.NewIDGenerator(),
		eids: value.NewIDGenerator(),
		cols: make(map[string]*collectionBucket),
	}
	for i := range s.ents {
		s.ents[i] = &entityShard{m: make(map[value.EntityID]*Entity), adj: make(map[value.EntityID]*adjacency)}
		s.edges[i] = &edgeShard{m: make(map[value.EdgeID]*Edge)}
	}
	return s
}

func (s *GraphStore) collection(name string, create bool) *collectionBucket {
	s.colMu.RLock()
	b, ok := s.cols[name]
	s.colMu.RUnlock()
	if ok || !create {
		return b
	}
	s.colMu.Lock()
	defer s.colMu.Unlock()
	if b, ok = s.cols[name]; ok {
		return b
	}
	b = &collectionBucket{present: make(map[value.EntityID]struct{})}
	s.cols[name] = b
	return b
}

// AddEntity mints an id, stores the entity, appends it to its
// collection's member list, and installs an empty adjacency slot.
func (s *GraphStore) AddEntity(collection string, props map[string]value.Value) value.EntityID {
	id := value.EntityID(s.ids.Next())
	s.InstallEntity(&Entity{
		ID:         id,
		Collection: collection,
		Properties: props,
		CreatedAt:  time.Now(),
		AccessedAt: time.Now(),
	})
	return id
}

// InstallEntity stores e as-is (used both by AddEntity and by WAL/backup
// recovery, which must reuse the original id rather than minting a new
// one). The id generator is advanced past e.ID so future AddEntity calls
// never collide with recovered ids.
func (s *GraphStore) InstallEntity(e *Entity) {
	s.ids.Observe(uint64(e.ID))
	shard := s.ents[entityShardOf(e.ID)]
	shard.mu.Lock()
	shard.m[e.ID] = e
	shard.adj[e.ID] = newAdjacency()
	shard.mu.Unlock()

	b := s.collection(e.Collection, true)
	b.mu.Lock()
	if _, exists := b.present[e.ID]; !exists {
		b.present[e.ID] = struct{}{}
		b.ids = append(b.ids, e.ID)
	}
	b.mu.Unlock()
}

// GetEntity returns a snapshot copy of the entity and bumps its access
// counter/timestamp. Per §4.B this is the non-transactional read path;
// callers holding write intents under a transaction use pkg/mvcc instead.
func (s *GraphStore) GetEntity(id value.EntityID) (*Entity, error) {
	shard := s.ents[entityShardOf(id)]
	shard.mu.Lock()
	e, ok := shard.m[id]
	if !ok {
		shard.mu.Unlock()
		return nil, fmt.Errorf("%w: entity %d", ErrNotFound, id)
	}
	e.AccessCnt++
	e.AccessedAt = time.Now()
	cp := e.clone()
	shard.mu.Unlock()
	return cp, nil
}

// PeekEntity returns a snapshot without the access-counter side effect,
// used by internal callers (index back-population, stats) that should
// not perturb access-time bookkeeping.
func (s *GraphStore) PeekEntity(id value.EntityID) (*Entity, bool) {
	shard := s.ents[entityShardOf(id)]
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	e, ok := shard.m[id]
	if !ok {
		return nil, false
	}
	return e.clone(), true
}

// UpdateEntityProperties replaces the live properties of id. Used by the
// MVCC write path after it appends a new version, to keep the direct
// snapshot in sync — mirroring storage/transaction.go's pattern of an
// unlocked apply step invoked only from the commit path.
func (s *GraphStore) UpdateEntityProperties(id value.EntityID, props map[string]value.Value) error {
	shard := s.ents[entityShardOf(id)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	e, ok := shard.m[id]
	if !ok {
		return fmt.Errorf("%w: entity %d", ErrNotFound, id)
	}
	e.Properties = props
	return nil
}

// RemoveEntity deletes id from the live map and its collection bucket.
// Per spec §9, DELETE is a logical MVCC tombstone; this method is the
// physical removal MVCC's GC pass calls once no transaction can observe
// the entity any longer, not what the executor's DELETE statement calls
// directly.
func (s *GraphStore) RemoveEntity(id value.EntityID) {
	shard := s.ents[entityShardOf(id)]
	shard.mu.Lock()
	e, ok := shard.m[id]
	if ok {
		delete(shard.m, id)
		delete(shard.adj, id)
	}
	shard.mu.Unlock()
	if !ok {
		return
	}
	b := s.collection(e.Collection, false)
	if b == nil {
		return
	}
	b.mu.Lock()
	if _, exists := b.present[id]; exists {
		delete(b.present, id)
		for i, cand := range b.ids {
			if cand == id {
				b.ids = append(b.ids[:i], b.ids[i+1:]...)
				break
			}
		}
	}
	b.mu.Unlock()
}

// AddEdge mints an id and installs an edge from source to target, failing
// with ErrNotFound if either endpoint is missing.
func (s *GraphStore) AddEdge(source, target value.EntityID, typ string, props map[string]value.Value) (value.EdgeID, error) {
	if !s.entityExists(source) {
		return 0, fmt.Errorf("%w: source entity %d", ErrNotFound, source)
	}
	if !s.entityExists(target) {
		return 0, fmt.Errorf("%w: target entity %d", ErrNotFound, target)
	}
	id := value.EdgeID(s.eids.Next())
	s.InstallEdge(&Edge{
		ID:         id,
		Source:     source,
		Target:     target,
		Type:       typ,
		Properties: props,
		Score:      value.NewAdaptiveScore(),
		CreatedAt:  time.Now(),
	})
	return id, nil
}

// InstallEdge stores e as-is and wires adjacency, used by both AddEdge and
// WAL/backup recovery.
func (s *GraphStore) InstallEdge(e *Edge) {
	s.eids.Observe(uint64(e.ID))
	if e.Score == nil {
		e.Score = value.NewAdaptiveScore()
	}
	shard := s.edges[edgeShardOf(e.ID)]
	shard.mu.Lock()
	shard.m[e.ID] = e
	shard.mu.Unlock()

	s.adjacencyOf(e.Source).addOut(e.Type, neighbor{Node: e.Target, Edge: e.ID})
	s.adjacencyOf(e.Target).addIn(e.Type, neighbor{Node: e.Source, Edge: e.ID})
}

// RemoveEdge deletes an edge and unwires its adjacency entries.
func (s *GraphStore) RemoveEdge(id value.EdgeID) {
	shard := s.edges[edgeShardOf(id)]
	shard.mu.Lock()
	e, ok := shard.m[id]
	if ok {
		delete(shard.m, id)
	}
	shard.mu.Unlock()
	if !ok {
		return
	}
	s.adjacencyOf(e.Source).removeOut(e.Type, id)
	s.adjacencyOf(e.Target).removeIn(e.Type, id)
}

func (s *GraphStore) entityExists(id value.EntityID) bool {
	shard := s.ents[entityShardOf(id)]
	shard.mu.RLock()
	_, ok := shard.m[id]
	shard.mu.RUnlock()
	return ok
}

func (s *GraphStore) adjacencyOf(id value.EntityID) *adjacency {
	shard := s.ents[entityShardOf(id)]
	shard.mu.RLock()
	a := shard.adj[id]
	shard.mu.RUnlock()
	if a == nil {
		// Entity vanished (raced with deletion); return a throwaway empty
		// adjacency so callers don't need a nil check.
		return newAdjacency()
	}
	return a
}

// GetEdge returns a snapshot copy of an edge.
func (s *GraphStore) GetEdge(id value.EdgeID) (*Edge, error) {
	shard := s.edges[edgeShardOf(id)]
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	e, ok := shard.m[id]
	if !ok {
		return nil, fmt.Errorf("%w: edge %d", ErrNotFound, id)
	}
	return e.clone(), nil
}

// RecordTraversal applies a latency sample to an edge, bumping its
// traversal counter and reinforcing its adaptive score (§4.J).
func (s *GraphStore) RecordTraversal(id value.EdgeID, latency time.Duration) {
	shard := s.edges[edgeShardOf(id)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if e, ok := shard.m[id]; ok {
		e.recordTraversal(latency)
	}
}

// Neighbor is the externally visible (neighbor_id, edge_id) pair.
type Neighbor struct {
	EntityID value.EntityID
	EdgeID   value.EdgeID
}

// GetOutgoingNeighbors returns the (neighbor_id, edge_id) pairs for edges
// leaving id, optionally restricted to one type.
func (s *GraphStore) GetOutgoingNeighbors(id value.EntityID, typ string) []Neighbor {
	return toNeighbors(s.adjacencyOf(id).snapshot(true, typ))
}

// GetIncomingNeighbors is the incoming-direction counterpart.
func (s *GraphStore) GetIncomingNeighbors(id value.EntityID, typ string) []Neighbor {
	return toNeighbors(s.adjacencyOf(id).snapshot(false, typ))
}

func toNeighbors(ns []neighbor) []Neighbor {
	out := make([]Neighbor, len(ns))
	for i, n := range ns {
		out[i] = Neighbor{EntityID: n.Node, EdgeID: n.Edge}
	}
	return out
}

// ScanCollection returns a snapshot copy of every entity currently in
// collection name, in insertion order.
func (s *GraphStore) ScanCollection(name string) []*Entity {
	b := s.collection(name, false)
	if b == nil {
		return nil
	}
	b.mu.RLock()
	ids := make([]value.EntityID, len(b.ids))
	copy(ids, b.ids)
	b.mu.RUnlock()

	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.PeekEntity(id); ok {
			out = append(out, e)
		}
	}
	return out
}

// Evaporate applies one decay tick to every edge's adaptive score. It
// shards the pass across the same edge shards used for storage so no
// single lock is held across the full store, per §5.
func (s *GraphStore) Evaporate() {
	for _, shard := range s.edges {
		shard.mu.RLock()
		scores := make([]*value.AdaptiveScore, 0, len(shard.m))
		for _, e := range shard.m {
			scores = append(scores, e.Score)
		}
		shard.mu.RUnlock()
		for _, sc := range scores {
			sc.Evaporate()
		}
	}
}

// Stats is the snapshot returned by stats() (§4.B, §6).
type Stats struct {
	EntityCount     int
	EdgeCount       int
	CollectionCount int
	MeanEdgeScore   float64
}

// Stats computes entity count, edge count, collection count, and mean
// adaptive edge score.
func (s *GraphStore) Stats() Stats {
	var st Stats
	for _, shard := range s.ents {
		shard.mu.RLock()
		st.EntityCount += len(shard.m)
		shard.mu.RUnlock()
	}
	var total float64
	for _, shard := range s.edges {
		shard.mu.RLock()
		st.EdgeCount += len(shard.m)
		for _, e := range shard.m {
			total += e.Score.Value()
		}
		shard.mu.RUnlock()
	}
	if st.EdgeCount > 0 {
		st.MeanEdgeScore = total / float64(st.EdgeCount)
	}
	s.colMu.RLock()
	st.CollectionCount = len(s.cols)
	s.colMu.RUnlock()
	return st
}

// AllEntities returns a snapshot copy of every live entity across every
// collection, for the backup facility's full-export path (§4.L). Order is
// unspecified.
func (s *GraphStore) AllEntities() []*Entity {
	var out []*Entity
	for _, shard := range s.ents {
		shard.mu.RLock()
		for _, e := range shard.m {
			out = append(out, e.clone())
		}
		shard.mu.RUnlock()
	}
	return out
}

// AllEdges returns a snapshot copy of every live edge, for the backup
// facility's full-export path (§4.L). Order is unspecified.
func (s *GraphStore) AllEdges() []*Edge {
	var out []*Edge
	for _, shard := range s.edges {
		shard.mu.RLock()
		for _, e := range shard.m {
			out = append(out, e.clone())
		}
		shard.mu.RUnlock()
	}
	return out
}

// IDGenerators exposes the store's id generators so the WAL recovery path
// can fast-forward them past ids seen in recovered entries, and so the
// transaction manager (a separate id space) is never confused with
// entity/edge ids.
func (s *GraphStore) IDGenerators() (entities, edges *value.IDGenerator) {
	return s.ids, s.eids
}
