package index

import "github.com/deedb/deedb/pkg/value"

// btreeDegree is the fixed minimum degree (t). Each node holds between
// t-1 and 2t-1 keys except the root, which may hold fewer. A larger
// degree means shallower trees and fewer pointer chases per lookup, at
// the cost of more work per node split; 16 is a reasonable middle ground
// for an in-memory index with no page-size constraint to honor.
const btreeDegree = 16

const (
	btreeMaxKeys = 2*btreeDegree - 1
	btreeMinKeys = btreeDegree - 1
)

type entry struct {
	key Key
	ids map[value.EntityID]struct{}
}

type bnode struct {
	leaf     bool
	entries  []*entry
	children []*bnode
}

// btree is an in-memory B-tree mapping Key to a set of entity ids. It is
// not safe for concurrent use on its own; Manager guards it with a
// per-index lock (§5: "secondary indexes are read-mostly with writer
// locks held only over single key operations").
type btree struct {
	root *bnode
}

func newBtree() *btree {
	return &btree{root: &bnode{leaf: true}}
}

func (t *btree) search(k Key) *entry {
	n := t.root
	for n != nil {
		i, found := n.find(k)
		if found {
			return n.entries[i]
		}
		if n.leaf {
			return nil
		}
		n = n.children[i]
	}
	return nil
}

// find returns the index of the first entry >= k, and whether that entry
// is exactly k.
func (n *bnode) find(k Key) (int, bool) {
	lo, hi := 0, len(n.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if n.entries[mid].key.Less(k) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(n.entries) && n.entries[lo].key.Equal(k) {
		return lo, true
	}
	return lo, false
}

// insert adds id under key k, creating the entry if absent. Splits full
// nodes on the way down (proactive splitting), the standard approach that
// avoids needing to re-ascend the tree after an insert.
func (t *btree) insert(k Key, id value.EntityID) {
	if len(t.root.entries) == btreeMaxKeys {
		oldRoot := t.root
		newRoot := &bnode{leaf: false, children: []*bnode{oldRoot}}
		newRoot.splitChild(0)
		t.root = newRoot
	}
	t.root.insertNonFull(k, id)
}

func (n *bnode) insertNonFull(k Key, id value.EntityID) {
	i, found := n.find(k)
	if found {
		n.entries[i].ids[id] = struct{}{}
		return
	}
	if n.leaf {
		e := &entry{key: k, ids: map[value.EntityID]struct{}{id: {}}}
		n.entries = append(n.entries, nil)
		copy(n.entries[i+1:], n.entries[i:])
		n.entries[i] = e
		return
	}
	if len(n.children[i].entries) == btreeMaxKeys {
		n.splitChild(i)
		if n.entries[i].key.Less(k) {
			i++
		} else if n.entries[i].key.Equal(k) {
			n.entries[i].ids[id] = struct{}{}
			return
		}
	}
	n.children[i].insertNonFull(k, id)
}

// splitChild splits n.children[i], which must be full, promoting its
// median entry into n at position i.
func (n *bnode) splitChild(i int) {
	child := n.children[i]
	mid := len(child.entries) / 2
	median := child.entries[mid]

	right := &bnode{leaf: child.leaf}
	right.entries = append(right.entries, child.entries[mid+1:]...)
	if !child.leaf {
		right.children = append(right.children, child.children[mid+1:]...)
	}

	child.entries = child.entries[:mid]
	if !child.leaf {
		child.children = child.children[:mid+1]
	}

	n.entries = append(n.entries, nil)
	copy(n.entries[i+1:], n.entries[i:])
	n.entries[i] = median

	n.children = append(n.children, nil)
	copy(n.children[i+2:], n.children[i+1:])
	n.children[i+1] = right
}

// remove drops id from the entry at key k. If the entry's id set becomes
// empty the entry is dropped from a leaf; in an internal node it stays in
// place with no ids, as the separator its two children still need. This
// does not rebalance
// underfull nodes (no borrow/merge on deletion) — correctness of lookups
// and ordering is unaffected, only the node-occupancy invariant a
// disk-paged B-tree would care about, which does not apply in memory.
func (t *btree) remove(k Key, id value.EntityID) {
	n := t.root
	for n != nil {
		i, found := n.find(k)
		if found {
			delete(n.entries[i].ids, id)
			if len(n.entries[i].ids) == 0 && n.leaf {
				n.entries = append(n.entries[:i], n.entries[i+1:]...)
			}
			return
		}
		if n.leaf {
			return
		}
		n = n.children[i]
	}
}

// rangeScan invokes fn for every entry with lo <= key <= hi, in ascending
// key order, stopping early if fn returns false. A nil lo/hi bound means
// unbounded on that side.
func (t *btree) rangeScan(lo, hi *Key, fn func(*entry) bool) {
	t.root.rangeScan(lo, hi, fn)
}

func (n *bnode) rangeScan(lo, hi *Key, fn func(*entry) bool) bool {
	if n == nil {
		return true
	}
	start := 0
	if lo != nil {
		start, _ = n.find(*lo)
	}
	for i := start; i < len(n.entries); i++ {
		if !n.leaf {
			if !n.children[i].rangeScan(lo, hi, fn) {
				return false
			}
		}
		e := n.entries[i]
		if hi != nil && hi.Less(e.key) {
			return false
		}
		if lo != nil && e.key.Less(*lo) {
			continue
		}
		if !fn(e) {
			return false
		}
	}
	if !n.leaf {
		if !n.children[len(n.entries)].rangeScan(lo, hi, fn) {
			return false
		}
	}
	return true
}

// all walks every entry in ascending order.
func (t *btree) all(fn func(*entry) bool) {
	t.rangeScan(nil, nil, fn)
}
