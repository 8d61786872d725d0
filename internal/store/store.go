// Package store provides the persistent collections and distributed
// invocation mutex spec.md's core leaves to external collaborators
// (§5, §6). It substitutes for the original Rust gateway's MongoDB
// collections (storage.rs) and etcd-based mutex (locks.rs) with the
// SQL stack the teacher actually wires in internal/database: the same
// four drivers, imported here for their side-effecting driver
// registration exactly as database.go does.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"tuna/internal/value"
)

// Store is a named set of document collections and a table of
// cooperative locks, backed by any database/sql driver.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects using driver (one of "mysql", "postgres", "sqlite3",
// "sqlserver") and dsn, and ensures the lock table exists.
func Open(driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: connecting to %s: %w", driver, err)
	}
	s := &Store{db: db, driver: driver}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS tuna_locks (name VARCHAR(255) PRIMARY KEY)`); err != nil {
		return nil, fmt.Errorf("store: creating lock table: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// idColumnDDL returns the dialect-specific auto-incrementing primary key
// column declaration, since no single spelling of "auto increment" works
// across mysql/postgres/sqlite3/sqlserver.
func (s *Store) idColumnDDL() string {
	switch s.driver {
	case "postgres":
		return "id SERIAL PRIMARY KEY"
	case "sqlserver":
		return "id INT IDENTITY(1,1) PRIMARY KEY"
	case "sqlite3":
		return "id INTEGER PRIMARY KEY AUTOINCREMENT"
	default: // mysql
		return "id INTEGER PRIMARY KEY AUTO_INCREMENT"
	}
}

func (s *Store) ensureCollection(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (%s, doc TEXT NOT NULL)`, quoteIdent(name), s.idColumnDDL()))
	if err != nil {
		return fmt.Errorf("store: creating collection %s: %w", name, err)
	}
	return nil
}

// quoteIdent guards collection names against injection; Tuna collection
// names come from program source, not request input, but every query
// here is built by string formatting so this stays defense in depth.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Append inserts doc into collection, returning its assigned id.
func (s *Store) Append(ctx context.Context, collection string, doc value.Value) (int64, error) {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return 0, err
	}
	enc, err := value.Encode(doc)
	if err != nil {
		return 0, fmt.Errorf("store: encoding document: %w", err)
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (doc) VALUES (?)`, quoteIdent(collection)), string(enc))
	if err != nil {
		return 0, fmt.Errorf("store: appending to %s: %w", collection, err)
	}
	return res.LastInsertId()
}

// Query returns every document in collection, in insertion order.
func (s *Store) Query(ctx context.Context, collection string) ([]value.Value, error) {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT doc FROM %s ORDER BY id`, quoteIdent(collection)))
	if err != nil {
		return nil, fmt.Errorf("store: querying %s: %w", collection, err)
	}
	defer rows.Close()
	var out []value.Value
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("store: scanning %s row: %w", collection, err)
		}
		v, err := value.Decode([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("store: decoding %s row: %w", collection, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// FindOne returns the document with the given id, or ok=false if absent.
func (s *Store) FindOne(ctx context.Context, collection string, id int64) (value.Value, bool, error) {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return nil, false, err
	}
	var raw string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT doc FROM %s WHERE id = ?`, quoteIdent(collection)), id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: finding in %s: %w", collection, err)
	}
	v, err := value.Decode([]byte(raw))
	if err != nil {
		return nil, false, fmt.Errorf("store: decoding %s row: %w", collection, err)
	}
	return v, true, nil
}

// Replace overwrites the document with the given id.
func (s *Store) Replace(ctx context.Context, collection string, id int64, doc value.Value) error {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}
	enc, err := value.Encode(doc)
	if err != nil {
		return fmt.Errorf("store: encoding document: %w", err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET doc = ? WHERE id = ?`, quoteIdent(collection)), string(enc), id)
	if err != nil {
		return fmt.Errorf("store: replacing in %s: %w", collection, err)
	}
	return nil
}

// Delete removes the document with the given id.
func (s *Store) Delete(ctx context.Context, collection string, id int64) error {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, quoteIdent(collection)), id)
	if err != nil {
		return fmt.Errorf("store: deleting from %s: %w", collection, err)
	}
	return nil
}

// Count returns the number of documents in collection.
func (s *Store) Count(ctx context.Context, collection string) (int64, error) {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(collection))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: counting %s: %w", collection, err)
	}
	return n, nil
}

// Mutex is a named cooperative lock backed by a unique-key row insert,
// substituting for the original gateway's etcd compare-and-swap.
type Mutex struct {
	store *Store
	name  string
}

func (s *Store) Mutex(name string) *Mutex {
	return &Mutex{store: s, name: name}
}

// Acquire blocks (retrying on a short interval) until the lock row can
// be inserted, or ctx is cancelled.
func (m *Mutex) Acquire(ctx context.Context) error {
	for {
		_, err := m.store.db.ExecContext(ctx, `INSERT INTO tuna_locks (name) VALUES (?)`, m.name)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// Release removes the lock row, making the name available again.
func (m *Mutex) Release(ctx context.Context) error {
	_, err := m.store.db.ExecContext(ctx, `DELETE FROM tuna_locks WHERE name = ?`, m.name)
	if err != nil {
		return fmt.Errorf("store: releasing lock %s: %w", m.name, err)
	}
	return nil
}
