package session

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/deedb/deedb/pkg/exec"
	"github.com/deedb/deedb/pkg/txn"
)

// ErrSessionHasOpenTransaction is returned by Close when the caller did
// not commit or roll back an explicit transaction before dropping the
// session.
var ErrSessionHasOpenTransaction = errors.New("session: cannot close with an open transaction")

// Session is one client's handle onto a DB: it runs statements through
// the shared executor and tracks whichever explicit transaction (if any)
// is currently open on it. Auto-commit is a per-session flag rather than
// a mode of the executor itself — every statement submitted with no
// explicit BEGIN in effect runs as its own one-statement transaction, per
// §9's design note on auto-commit semantics.
type Session struct {
	db   *DB
	pool *Pool

	current *txn.Txn

	// spansEnabled mirrors cfg.Metrics.Enabled at the time the owning DB
	// was opened.
	spansEnabled bool
}

func newSession(db *DB, pool *Pool) *Session {
	return &Session{db: db, pool: pool, spansEnabled: db.cfg.Metrics.Enabled}
}

// InTransaction reports whether an explicit transaction (opened by a
// prior BEGIN) is in effect on this session.
func (s *Session) InTransaction() bool {
	return s.current != nil
}

// Query runs one statement (§4.G's query language: data statements,
// BEGIN/COMMIT/ROLLBACK, CREATE/DROP INDEX) against the shared engine.
// BEGIN/COMMIT/ROLLBACK update the session's own transaction state;
// everything else runs under whatever transaction (explicit or
// auto-committed) is currently in effect.
func (s *Session) Query(ctx context.Context, query string) (*exec.Result, error) {
	ctx, span := startQuerySpan(ctx, query, s.spansEnabled)
	defer span.End()

	result, next, err := s.db.exec.Execute(ctx, s.current, query)
	s.current = next

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	if result != nil {
		span.SetAttributes(
			attribute.Int("deedb.query.rows_returned", len(result.Rows)),
			attribute.Int("deedb.query.rows_affected", result.RowsAffected),
		)
	}
	return result, err
}

// reset clears any lingering transaction state before a session is
// evicted from the idle pool for being too old; a released session
// should never carry an open explicit transaction (Close refuses to
// release one that does), but this guards against an eviction racing
// a caller that dropped the session without closing it properly.
func (s *Session) reset() {
	if s.current != nil {
		_, _, _ = s.db.exec.Execute(context.Background(), s.current, "ROLLBACK")
		s.current = nil
	}
}

// Close returns the session to its pool. Returns
// ErrSessionHasOpenTransaction if an explicit transaction is still open;
// the caller must COMMIT or ROLLBACK first; this mirrors the original
// engine's PooledConnectionHandle, whose Drop impl checks the connection
// back in automatically but never silently discards in-flight work.
func (s *Session) Close() error {
	if s.current != nil {
		return fmt.Errorf("%w (txn %d)", ErrSessionHasOpenTransaction, s.current.ID)
	}
	s.pool.release(s)
	return nil
}
