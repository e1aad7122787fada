// Package store is the relational persistence layer. Every entity carries a
// tenant identifier and a time-ordered unique identifier, and all reads run
// through a tenant-scoped session that sets the row-level-security variable
// on the borrowed connection. Background jobs own their session for the whole
// job; nothing shares a session across task boundaries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/clearline-ai/clearline/errs"
)

type (
	// Store wraps the database pool. Use Session to obtain tenant-scoped
	// access; Store itself exposes no query methods.
	Store struct {
		db  *sqlx.DB
		now func() time.Time
	}

	// Session is a tenant-scoped unit of work bound to a single borrowed
	// connection. The row-level-security variable app.tenant_id is set for
	// the lifetime of the session so every statement is double-filtered:
	// once by the WHERE clause, once by the database policy.
	Session struct {
		conn   *sqlx.Conn
		tenant uuid.UUID
		now    func() time.Time
	}
)

// Open connects to the primary datastore and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is required")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "connect datastore", err)
	}
	return New(db), nil
}

// New wraps an existing database handle. Tests pass a sqlmock-backed handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Close releases the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// Session borrows a connection and binds it to the tenant. The caller must
// Close the session to return the connection to the pool.
func (s *Store) Session(ctx context.Context, tenant uuid.UUID) (*Session, error) {
	if tenant == uuid.Nil {
		return nil, errs.New(errs.KindValidation, "tenant identifier is required")
	}
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "borrow connection", err)
	}
	if _, err := conn.ExecContext(ctx, "SELECT set_config('app.tenant_id', $1, false)", tenant.String()); err != nil {
		_ = conn.Close()
		return nil, errs.Wrap(errs.KindTransient, "set tenant session variable", err)
	}
	return &Session{conn: conn, tenant: tenant, now: s.now}, nil
}

// Tenant returns the tenant the session is bound to.
func (sn *Session) Tenant() uuid.UUID { return sn.tenant }

// Close resets the tenant variable and returns the connection to the pool.
func (sn *Session) Close() error {
	_, _ = sn.conn.ExecContext(context.Background(), "SELECT set_config('app.tenant_id', '', false)")
	return sn.conn.Close()
}

// Tx runs fn inside a transaction on the session's connection, committing on
// nil and rolling back on error or panic.
func (sn *Session) Tx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := sn.conn.BeginTxx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindTransient, "begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindTransient, "commit transaction", err)
	}
	return nil
}

// NewID returns a time-ordered unique identifier. Insertion order is
// recoverable from identifier order without a separate sequence.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does; fall back to v4
		// rather than crash mid-request.
		return uuid.New()
	}
	return id
}

// wrapQueryErr maps database errors to the platform taxonomy.
func wrapQueryErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.KindNotFound, op, err)
	}
	if isUniqueViolation(err) {
		return errs.Wrap(errs.KindConflict, op, err)
	}
	return errs.Wrap(errs.KindInternal, op, err)
}

func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	// lib/pq predates SQLState; fall back to its error type.
	type pqErr interface{ Get(byte) string }
	var p pqErr
	if errors.As(err, &p) {
		return p.Get('C') == "23505"
	}
	return false
}
