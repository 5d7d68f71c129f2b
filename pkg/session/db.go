// Package session is the facade a client program embeds: it owns the
// storage-layer singletons (store, MVCC manager, transaction manager,
// index manager, WAL, optimizer, executor), recovers them from the WAL on
// startup, and hands out pooled Sessions that run queries against them.
//
// This is the same role pkg/nornicdb's DB facade played in the teacher —
// Open/Query/Execute/Close over an owned store+WAL+session pool — rebuilt
// from scratch against this project's split store/mvcc/txn/index/wal/exec
// layers instead of the teacher's single Cypher-bound engine.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/deedb/deedb/pkg/config"
	"github.com/deedb/deedb/pkg/exec"
	"github.com/deedb/deedb/pkg/index"
	"github.com/deedb/deedb/pkg/mvcc"
	"github.com/deedb/deedb/pkg/optimizer"
	"github.com/deedb/deedb/pkg/store"
	"github.com/deedb/deedb/pkg/txn"
	"github.com/deedb/deedb/pkg/value"
	"github.com/deedb/deedb/pkg/wal"
)

// DB owns every storage-layer singleton for one data directory and the
// connection pool clients acquire sessions from.
type DB struct {
	cfg *config.Config

	store *store.GraphStore
	mvcc  *mvcc.Manager
	txns  *txn.Manager
	index *index.Manager
	opt   *optimizer.Manager
	wal   *wal.WAL
	exec  *exec.Engine

	pool *Pool

	evapStop chan struct{}
	evapWG   sync.WaitGroup
}

// Open creates (or reopens) a database rooted at cfg.WAL.Dir, replaying
// its write-ahead log before accepting new sessions. cfg.Validate rejects
// an empty cfg.WAL.Dir, so a DB returned by Open always has a WAL; the
// in-memory, no-WAL mode exists only for an exec.Engine built directly
// with a nil WAL.
func Open(cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st := store.New()
	idx := index.NewManager()
	mv := mvcc.New(st)
	txns := txn.NewManager(0)
	opt := optimizer.NewManager(idx, cfg.Optimizer.PlanCacheSize)

	var w *wal.WAL
	var maxTxn value.TxnID
	if cfg.WAL.Dir != "" {
		var err error
		w, err = wal.Open(cfg.WAL.Dir, cfg.WAL.BatchSyncInterval)
		if err != nil {
			return nil, fmt.Errorf("session: open wal: %w", err)
		}
		result, err := wal.Recover(cfg.WAL.Dir)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("session: recover wal: %w", err)
		}
		maxTxn = result.MaxTxnID
		replayRecords(st, mv, result.Records)
	}
	txns.FastForward(maxTxn)

	eng := exec.New(st, mv, txns, idx, w, opt)

	db := &DB{
		cfg:      cfg,
		store:    st,
		mvcc:     mv,
		txns:     txns,
		index:    idx,
		opt:      opt,
		wal:      w,
		exec:     eng,
		evapStop: make(chan struct{}),
	}
	db.pool = newPool(db, cfg.Pool)
	db.startEvaporation(cfg.Score)

	if cfg.Metrics.Enabled {
		meter := otel.GetMeterProvider().Meter("github.com/deedb/deedb/pkg/session")
		if err := RegisterMetrics(meter, db); err != nil {
			return nil, fmt.Errorf("session: register metrics: %w", err)
		}
	}

	return db, nil
}

// replayRecords reapplies a WAL recovery pass's committed mutation
// records directly into the store and MVCC layers, mirroring the same
// InstallEntity/InstallEdge/CreateWithID calls the live executor makes —
// recovery is just an executor with no client attached and every
// transaction already known to have committed.
func replayRecords(st *store.GraphStore, mv *mvcc.Manager, records []wal.Record) {
	for _, r := range records {
		switch r.Kind {
		case wal.KindCreateEntity:
			mv.CreateWithID(r.EntityID, r.Txn, r.Collection, r.Properties)
		case wal.KindUpdateEntity:
			collection, _, err := mv.Read(r.EntityID, r.Txn, mvcc.ReadUncommitted)
			if err != nil {
				continue // entity not present; a torn/out-of-order log, skip rather than panic
			}
			_ = mv.Write(r.EntityID, r.Txn, collection, r.Properties)
		case wal.KindDeleteEntity:
			_ = mv.Delete(r.EntityID, r.Txn, mvcc.ReadCommitted)
		case wal.KindCreateEdge:
			st.InstallEdge(&store.Edge{
				ID:         r.EdgeID,
				Source:     r.Source,
				Target:     r.Target,
				Type:       r.Type,
				Properties: r.Properties,
				CreatedAt:  time.Now(),
			})
		case wal.KindDeleteEdge:
			st.RemoveEdge(r.EdgeID)
		}
	}
}

// startEvaporation runs the background tick that decays every edge's
// adaptive score and the optimizer's plan-cache scores together, per
// §4.A/§4.I — the same cadence, driven by one ticker, since both scores
// use the identical reinforce/evaporate mechanics.
func (db *DB) startEvaporation(cfg config.ScoreConfig) {
	if cfg.EvaporateInterval <= 0 {
		return
	}
	db.evapWG.Add(1)
	go func() {
		defer db.evapWG.Done()
		ticker := time.NewTicker(cfg.EvaporateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-db.evapStop:
				return
			case <-ticker.C:
				db.store.Evaporate()
				db.opt.Evaporate()
			}
		}
	}()
}

// Acquire checks out a Session from the pool, opening a new one if the
// pool is below its configured maximum and none are idle. Blocks up to
// cfg.Pool.AcquireTimeout, per §5's "a handle in use is never reclaimed
// until the client drops it" policy paired with a bounded wait rather than
// an unbounded one.
func (db *DB) Acquire(ctx context.Context) (*Session, error) {
	return db.pool.acquire(ctx)
}

// Stats reports the admin-facing aggregate snapshot (§4.L, §6): store
// counts and mean edge score, transaction counters, and pool utilization.
func (db *DB) Stats() AdminStats {
	return AdminStats{
		Store: db.store.Stats(),
		Txns:  db.txns.Stats(),
		Pool:  db.pool.stats(),
	}
}

// Store, MVCC, Txns, Index, WAL, and Optimizer expose the underlying
// singletons for the backup facility and admin tooling; query execution
// itself only ever goes through a Session.
func (db *DB) Store() *store.GraphStore   { return db.store }
func (db *DB) MVCC() *mvcc.Manager        { return db.mvcc }
func (db *DB) Txns() *txn.Manager         { return db.txns }
func (db *DB) Index() *index.Manager      { return db.index }
func (db *DB) WAL() *wal.WAL              { return db.wal }
func (db *DB) Optimizer() *optimizer.Manager { return db.opt }

// Close stops the background evaporation tick, closes every pooled
// session, and closes the WAL.
func (db *DB) Close() error {
	close(db.evapStop)
	db.evapWG.Wait()
	db.pool.closeAll()
	if db.wal != nil {
		return db.wal.Close()
	}
	return nil
}
