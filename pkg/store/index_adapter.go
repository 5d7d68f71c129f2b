package store

import "github.com/deedb/deedb/pkg/index"

// indexSource adapts GraphStore to index.EntitySource so CreateIndex can
// back-populate from live entities without the index package needing to
// know about store's Entity type.
type indexSource struct{ s *GraphStore }

// AsIndexSource returns an index.EntitySource backed by s.
func (s *GraphStore) AsIndexSource() index.EntitySource {
	return indexSource{s: s}
}

func (is indexSource) ScanCollection(collection string) []index.EntitySnapshot {
	entities := is.s.ScanCollection(collection)
	out := make([]index.EntitySnapshot, len(entities))
	for i, e := range entities {
		out[i] = index.EntitySnapshot{ID: e.ID, Properties: e.Properties}
	}
	return out
}
