package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a durable Store backed by a single SQLite database. All
// collections share one table; documents are stored as JSON text and
// filtered in Go, keeping the document-store semantics identical to
// MemoryStore.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	revision   INTEGER NOT NULL,
	data       TEXT NOT NULL,
	created    INTEGER NOT NULL,
	modified   INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection);
`

// OpenSQLite opens (creating if needed) a SQLite-backed store at path.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Insert creates a new record with revision 1.
func (s *SQLiteStore) Insert(ctx context.Context, collection, id string, doc []byte) (*Record, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (collection, id, revision, data, created, modified) VALUES (?, ?, 1, ?, ?, ?)`,
		collection, id, string(doc), now.UnixNano(), now.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateID
		}
		return nil, fmt.Errorf("insert record: %w", err)
	}

	return &Record{
		ID:         id,
		Collection: collection,
		Revision:   1,
		Data:       append([]byte(nil), doc...),
		Created:    now,
		Modified:   now,
	}, nil
}

// FindByID retrieves one record by id.
func (s *SQLiteStore) FindByID(ctx context.Context, collection, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT revision, data, created, modified FROM records WHERE collection = ? AND id = ?`,
		collection, id)

	rec := &Record{ID: id, Collection: collection}
	var data string
	var created, modified int64
	if err := row.Scan(&rec.Revision, &data, &created, &modified); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find record: %w", err)
	}

	rec.Data = []byte(data)
	rec.Created = time.Unix(0, created).UTC()
	rec.Modified = time.Unix(0, modified).UTC()
	return rec, nil
}

// FindOne returns the first matching record by id order.
func (s *SQLiteStore) FindOne(ctx context.Context, collection string, filter Filter) (*Record, error) {
	recs, err := s.Find(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

// Find returns all matching records sorted by id. Filtering happens in Go
// after the scan; collections here are small (tasks, events, drones for
// one coordinator), so the full scan is acceptable.
func (s *SQLiteStore) Find(ctx context.Context, collection string, filter Filter) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, revision, data, created, modified FROM records WHERE collection = ? ORDER BY id`,
		collection)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		rec := &Record{Collection: collection}
		var data string
		var created, modified int64
		if err := rows.Scan(&rec.ID, &rec.Revision, &data, &created, &modified); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Data = []byte(data)
		rec.Created = time.Unix(0, created).UTC()
		rec.Modified = time.Unix(0, modified).UTC()

		if filter != nil {
			fields, err := rec.Fields()
			if err != nil {
				continue
			}
			if !filter.Matches(fields) {
				continue
			}
		}
		result = append(result, rec)
	}

	return result, rows.Err()
}

// Save replaces the document if the caller's revision is current.
func (s *SQLiteStore) Save(ctx context.Context, rec *Record) (*Record, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET data = ?, revision = revision + 1, modified = ?
		 WHERE collection = ? AND id = ? AND revision = ?`,
		string(rec.Data), now.UnixNano(), rec.Collection, rec.ID, rec.Revision)
	if err != nil {
		return nil, fmt.Errorf("save record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Either the record vanished or someone else wrote it first.
		if _, err := s.FindByID(ctx, rec.Collection, rec.ID); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}

	saved := rec.Clone()
	saved.Revision++
	saved.Modified = now
	return saved, nil
}

// UpdateFields merges top-level fields into the current document inside a
// transaction.
func (s *SQLiteStore) UpdateFields(ctx context.Context, collection, id string, fields map[string]any) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT revision, data, created FROM records WHERE collection = ? AND id = ?`,
		collection, id)

	var revision uint64
	var data string
	var created int64
	if err := row.Scan(&revision, &data, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read for update: %w", err)
	}

	merged, err := MergeFields([]byte(data), fields)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET data = ?, revision = ?, modified = ? WHERE collection = ? AND id = ?`,
		string(merged), revision+1, now.UnixNano(), collection, id); err != nil {
		return nil, fmt.Errorf("apply update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}

	return &Record{
		ID:         id,
		Collection: collection,
		Revision:   revision + 1,
		Data:       merged,
		Created:    time.Unix(0, created).UTC(),
		Modified:   now,
	}, nil
}

// Delete removes a record. Absent records are ignored.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation detects a primary-key collision without depending on
// driver-internal error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
