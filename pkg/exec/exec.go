// Package exec implements the row-at-a-time executor of §4.J: it walks a
// pkg/plan Plan's operators in order against pkg/store/pkg/mvcc/pkg/index,
// logging every mutation to pkg/wal before applying it, and wraps
// auto-commit around any statement that isn't itself transaction control.
package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/deedb/deedb/pkg/index"
	"github.com/deedb/deedb/pkg/lang"
	"github.com/deedb/deedb/pkg/mvcc"
	"github.com/deedb/deedb/pkg/optimizer"
	"github.com/deedb/deedb/pkg/plan"
	"github.com/deedb/deedb/pkg/store"
	"github.com/deedb/deedb/pkg/txn"
	"github.com/deedb/deedb/pkg/value"
	"github.com/deedb/deedb/pkg/wal"
)

// Errors surfaced to callers, named per spec §6. Several kinds
// (UnknownIndex, DuplicateIndex, UniqueViolation, NotFound, ConflictReadSet
// /ConflictWriteWrite's underlying ErrConflict) already exist as sentinels
// in pkg/index/pkg/store/pkg/mvcc/pkg/txn; the ones below have no home
// until this package, since they only ever arise at the statement-dispatch
// level.
var (
	ErrSyntax               = errors.New("exec: syntax error")
	ErrUnknownCollection    = errors.New("exec: unknown collection")
	ErrUnknownField         = errors.New("exec: unknown field")
	ErrNoActiveTransaction  = errors.New("exec: no active transaction")
	ErrAlreadyInTransaction = errors.New("exec: already in a transaction")
	ErrSchemaViolation      = errors.New("exec: schema violation")
	ErrDepthExceeded        = errors.New("exec: traversal depth exceeded")
	ErrCancelled            = errors.New("exec: cancelled")
	// ErrTransactionAborted is returned for every statement submitted to an
	// explicit transaction after one of its statements failed, per §6:
	// such a transaction is stuck in Failed until the client issues
	// ROLLBACK, which is the only statement still accepted.
	ErrTransactionAborted = errors.New("exec: transaction aborted, rollback required")
)

// Row is one output result row: output alias to value.
type Row map[string]value.Value

// Result is what one Execute call returns: projected rows for a read, or
// affected-row/insert-id bookkeeping for a mutation, matching §4.J's
// execution context ("result row list... counters for rows-affected and
// last-inserted id").
type Result struct {
	Columns       []string
	Rows          []Row
	RowsAffected  int
	LastInsertID  value.EntityID
	LastInsertEdge value.EdgeID
}

// Validator is the optional schema-enforcement hook of §4.K. pkg/exec
// depends on this interface rather than importing pkg/schema directly, so
// pkg/schema can depend on pkg/exec's EvalExpr for its CHECK clause
// without the two packages importing each other.
type Validator interface {
	ValidateInsert(collection string, props map[string]value.Value) error
	ValidateUpdate(collection string, before, after map[string]value.Value) error
}

// Engine ties every storage-layer component together behind the one
// Execute entry point a session calls, mirroring how
// pkg/cypher.StorageExecutor wraps a single storage.Engine — generalized
// here to this project's split store/mvcc/txn/index/wal/optimizer layers
// instead of one monolithic engine interface.
type Engine struct {
	Store *store.GraphStore
	MVCC  *mvcc.Manager
	Txns  *txn.Manager
	Index *index.Manager
	WAL   *wal.WAL
	Opt   *optimizer.Manager

	validator Validator

	mu     sync.Mutex
	failed map[value.TxnID]bool
}

// New returns an Engine wired to the given components. wal may be nil, in
// which case mutations apply without a durability log (used by tests and
// by in-memory-only embeddings).
func New(s *store.GraphStore, m *mvcc.Manager, t *txn.Manager, idx *index.Manager, w *wal.WAL, opt *optimizer.Manager) *Engine {
	return &Engine{Store: s, MVCC: m, Txns: t, Index: idx, WAL: w, Opt: opt, failed: make(map[value.TxnID]bool)}
}

func (e *Engine) markFailed(id value.TxnID) {
	e.mu.Lock()
	e.failed[id] = true
	e.mu.Unlock()
}

func (e *Engine) isFailed(id value.TxnID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed[id]
}

func (e *Engine) clearFailed(id value.TxnID) {
	e.mu.Lock()
	delete(e.failed, id)
	e.mu.Unlock()
}

// SetValidator installs the optional schema validator. A nil validator
// (the default) means every collection is schema-less.
func (e *Engine) SetValidator(v Validator) { e.validator = v }

func (e *Engine) appendWAL(r wal.Record) error {
	if e.WAL == nil {
		return nil
	}
	return e.WAL.Append(r)
}

func (e *Engine) stats() plan.Stats {
	st := e.Store.Stats()
	return plan.NewStats(st.EntityCount, st.EdgeCount)
}

// Execute parses and runs one statement. current is the session's active
// transaction, or nil if none is in progress. It returns the (possibly
// new, possibly nil) transaction the session should hold afterward: nil
// once a statement auto-commits or an explicit transaction
// commits/aborts, non-nil after BEGIN and for every statement run inside
// an already-open explicit transaction.
func (e *Engine) Execute(ctx context.Context, current *txn.Txn, query string) (*Result, *txn.Txn, error) {
	select {
	case <-ctx.Done():
		return nil, current, ErrCancelled
	default:
	}

	stmt, err := lang.Parse(query)
	if err != nil {
		return nil, current, fmt.Errorf("%w: %v", ErrSyntax, err)
	}

	if current != nil {
		if _, isRollback := stmt.(*lang.RollbackStmt); !isRollback && e.isFailed(current.ID) {
			return nil, current, ErrTransactionAborted
		}
	}

	switch s := stmt.(type) {
	case *lang.BeginStmt:
		return e.execBegin(current, s)
	case *lang.CommitStmt:
		return e.execCommit(current)
	case *lang.RollbackStmt:
		return e.execRollback(current)
	case *lang.CreateIndexStmt:
		r, err := e.execCreateIndex(s)
		return r, current, err
	case *lang.DropIndexStmt:
		err := e.Index.DropIndex(s.Name)
		return &Result{}, current, err
	default:
		return e.execDataStatement(ctx, current, query, stmt)
	}
}

func (e *Engine) execBegin(current *txn.Txn, s *lang.BeginStmt) (*Result, *txn.Txn, error) {
	if current != nil {
		return nil, current, ErrAlreadyInTransaction
	}
	t := e.Txns.Begin(s.Isolation)
	if err := e.appendWAL(wal.Record{Kind: wal.KindBegin, Txn: t.ID}); err != nil {
		return nil, current, err
	}
	return &Result{}, t, nil
}

func (e *Engine) execCommit(current *txn.Txn) (*Result, *txn.Txn, error) {
	if current == nil {
		return nil, nil, ErrNoActiveTransaction
	}
	if err := e.Txns.Commit(current); err != nil {
		e.MVCC.Abandon(current.ID, current.WriteSet())
		_ = e.appendWAL(wal.Record{Kind: wal.KindRollback, Txn: current.ID})
		return nil, nil, translateConflict(current, err)
	}
	if err := e.appendWAL(wal.Record{Kind: wal.KindCommit, Txn: current.ID}); err != nil {
		return nil, nil, err
	}
	if e.WAL != nil {
		if err := e.WAL.Sync(); err != nil {
			return nil, nil, err
		}
	}
	return &Result{}, nil, nil
}

func (e *Engine) execRollback(current *txn.Txn) (*Result, *txn.Txn, error) {
	if current == nil {
		return nil, nil, ErrNoActiveTransaction
	}
	if err := e.Txns.Rollback(current); err != nil {
		return nil, nil, err
	}
	e.MVCC.Abandon(current.ID, current.WriteSet())
	e.clearFailed(current.ID)
	if err := e.appendWAL(wal.Record{Kind: wal.KindRollback, Txn: current.ID}); err != nil {
		return nil, nil, err
	}
	return &Result{}, nil, nil
}

func (e *Engine) execCreateIndex(s *lang.CreateIndexStmt) (*Result, error) {
	err := e.Index.CreateIndex(s.Name, s.Collection, s.Field, s.Unique, storeEntitySource{e.Store})
	return &Result{}, err
}

// storeEntitySource adapts *store.GraphStore to index.EntitySource.
type storeEntitySource struct{ s *store.GraphStore }

func (a storeEntitySource) ScanCollection(collection string) []index.EntitySnapshot {
	ents := a.s.ScanCollection(collection)
	out := make([]index.EntitySnapshot, len(ents))
	for i, ent := range ents {
		out[i] = index.EntitySnapshot{ID: ent.ID, Properties: ent.Properties}
	}
	return out
}

// translateConflict maps a generic txn.ErrConflict into the isolation-
// specific kind spec §6 names, for callers that branch on error kind.
func translateConflict(t *txn.Txn, err error) error {
	if !errors.Is(err, txn.ErrConflict) {
		return err
	}
	if t.Iso == mvcc.Serializable {
		return fmt.Errorf("%w: %v", ErrConflictWriteWrite, err)
	}
	return fmt.Errorf("%w: %v", ErrConflictReadSet, err)
}

var (
	// ErrConflictReadSet is a RepeatableRead/Serializable commit-time
	// failure: some other transaction committed a write to an entity we
	// read.
	ErrConflictReadSet = errors.New("exec: conflict on read set")
	// ErrConflictWriteWrite is Serializable's additional write-write
	// check failure.
	ErrConflictWriteWrite = errors.New("exec: conflict on write set")
)

// execDataStatement runs one data-manipulating statement (SELECT/INSERT/
// UPDATE/DELETE/CREATE-edge), auto-committing it when no transaction was
// already open on the session, per §4.J.
func (e *Engine) execDataStatement(ctx context.Context, current *txn.Txn, query string, stmt lang.Statement) (*Result, *txn.Txn, error) {
	autoCommit := current == nil
	active := current
	if autoCommit {
		active = e.Txns.Begin(mvcc.ReadCommitted)
		if err := e.appendWAL(wal.Record{Kind: wal.KindBegin, Txn: active.ID}); err != nil {
			return nil, current, err
		}
	}

	p, err := e.Opt.PlanFor(query, stmt, e.stats())
	if err != nil {
		return nil, e.failStatement(active, autoCommit), err
	}

	res, err := e.runPlan(ctx, active, p)
	if err != nil {
		return nil, e.failStatement(active, autoCommit), err
	}

	if !autoCommit {
		return res, active, nil
	}

	if err := e.Txns.Commit(active); err != nil {
		e.MVCC.Abandon(active.ID, active.WriteSet())
		_ = e.appendWAL(wal.Record{Kind: wal.KindRollback, Txn: active.ID})
		return nil, nil, translateConflict(active, err)
	}
	if err := e.appendWAL(wal.Record{Kind: wal.KindCommit, Txn: active.ID}); err != nil {
		return nil, nil, err
	}
	if e.WAL != nil {
		if err := e.WAL.Sync(); err != nil {
			return nil, nil, err
		}
	}
	return res, nil, nil
}

// abortStatement undoes t's eager MVCC writes and transitions it to
// RolledBack, per §4.J's "executor-detected failure" contract.
func (e *Engine) abortStatement(t *txn.Txn) {
	if t == nil {
		return
	}
	_ = e.Txns.Rollback(t)
	e.MVCC.Abandon(t.ID, t.WriteSet())
	_ = e.appendWAL(wal.Record{Kind: wal.KindRollback, Txn: t.ID})
}

// failStatement handles an executor-detected statement failure per §6: an
// implicit (auto-commit) transaction is unwound immediately, same as
// abortStatement always did. A statement running under an explicit
// transaction instead marks that transaction Failed and leaves its
// already-tracked writes (including this statement's own partial ones)
// untouched — they stay invisible to every other transaction regardless,
// and the eventual ROLLBACK the client is now required to issue unwinds
// all of it together via the normal rollback path.
func (e *Engine) failStatement(t *txn.Txn, autoCommit bool) *txn.Txn {
	if autoCommit {
		e.abortStatement(t)
		return nil
	}
	e.markFailed(t.ID)
	return t
}

// clampHops resolves a Traverse's (min, max) against the unbounded-`*`
// clamp, per §4.G's "bare * defaults to 1..∞, clamped at an internal
// maximum."
func clampHops(min, max int) (int, int) {
	if min <= 0 {
		min = 1
	}
	if max <= 0 {
		max = maxHops
	}
	if max > maxHops {
		max = maxHops
	}
	return min, max
}

const maxHops = 16

// latencyOf times fn and returns its duration alongside its error.
func latencyOf(fn func() error) (time.Duration, error) {
	start := time.Now()
	err := fn()
	return time.Since(start), err
}
