// Package store provides SQLite persistence for users, infractions, the
// contract catalog and simulated payments.
//
// # Transactions
//
// Every record operation lives on Queries, which runs against either the
// database or an open transaction. Store embeds a Queries bound to the
// database; WithTx hands a transaction-bound Queries to a callback and
// commits only if the callback returns nil.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a record does not exist or is not owned
	// by the requesting user.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate record")
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds the record operations.
type Queries struct {
	q querier
}

// Store handles SQLite persistence. NOT an interface - concrete type.
type Store struct {
	*Queries
	db *sql.DB
}

// memSeq gives every ":memory:" store its own shared-cache database so
// parallel tests never see each other's rows.
var memSeq atomic.Int64

// Open creates a new Store with the given database path.
// Creates tables if they don't exist.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func Open(dbPath string) (*Store, error) {
	inMemory := dbPath == ":memory:"

	connStr := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if inMemory {
		// Shared cache so every pooled connection sees the same database
		connStr = fmt.Sprintf("file:contestare-mem-%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", memSeq.Add(1))
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if inMemory {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if !inMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db, Queries: &Queries{q: db}}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

// createTables creates the required tables and indexes if they don't exist.
func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		cpf TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		zip_code TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		is_premium INTEGER NOT NULL DEFAULT 0,
		email_verified INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		last_login DATETIME
	);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS infractions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		notification_number TEXT NOT NULL,
		infraction_type TEXT NOT NULL,
		value REAL NOT NULL,
		date_infraction DATETIME NOT NULL,
		date_notification DATETIME NOT NULL,
		vehicle_plate TEXT NOT NULL,
		vehicle_model TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL,
		issuing_agency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		success_probability INTEGER,
		legal_arguments TEXT NOT NULL DEFAULT '',
		notification_file TEXT NOT NULL DEFAULT '',
		contest_document TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (user_id, notification_number)
	);

	CREATE TABLE IF NOT EXISTS contracts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL,
		description TEXT NOT NULL,
		content TEXT NOT NULL,
		price REAL NOT NULL DEFAULT 19.90,
		is_premium INTEGER NOT NULL DEFAULT 0,
		popularity_score INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_contracts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		contract_id INTEGER NOT NULL REFERENCES contracts(id),
		customized_content TEXT NOT NULL DEFAULT '',
		purchase_date DATETIME NOT NULL,
		is_downloaded INTEGER NOT NULL DEFAULT 0,
		download_count INTEGER NOT NULL DEFAULT 0,
		UNIQUE (user_id, contract_id)
	);

	CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		amount REAL NOT NULL,
		payment_method TEXT NOT NULL,
		payment_status TEXT NOT NULL DEFAULT 'pending',
		pix_key TEXT NOT NULL DEFAULT '',
		pix_transaction_id TEXT NOT NULL DEFAULT '',
		card_last_digits TEXT NOT NULL DEFAULT '',
		card_brand TEXT NOT NULL DEFAULT '',
		service_type TEXT NOT NULL,
		reference_id INTEGER,
		transaction_id TEXT NOT NULL UNIQUE,
		gateway_response TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		paid_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		plan_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		start_date DATETIME NOT NULL,
		end_date DATETIME NOT NULL,
		monthly_amount REAL NOT NULL,
		auto_renew INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_infractions_user ON infractions(user_id);
	CREATE INDEX IF NOT EXISTS idx_payments_user ON payments(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_contracts_popularity ON contracts(popularity_score DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expires_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside a transaction. The transaction is committed if fn
// returns nil and rolled back otherwise.
//
// In-memory stores hold a single connection: fn must use the Queries it is
// given, never the Store, or it will block.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Rollback is safe to call even after commit - it's a no-op
	defer tx.Rollback()

	if err := fn(&Queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite unique or primary key
// constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// expectOne maps a zero-row update to ErrNotFound.
func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// boolToInt converts a bool to an int for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
