package schema

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"segcompact/internal/compaction"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	closed  bool
	writeMu sync.Mutex
}

// NewSQLiteStore opens (and creates if needed) the schema database
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS tables (
		id INTEGER PRIMARY KEY,
		keyspace TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (keyspace, name)
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// GetTable retrieves a table by id
func (s *SQLiteStore) GetTable(id compaction.TableID) (*Table, error) {
	if s.closed {
		return nil, fmt.Errorf("schema store is closed")
	}

	var result *Table
	err := s.retryOnBusy(func() error {
		row := s.db.QueryRow(`SELECT id, keyspace, name, created_at FROM tables WHERE id = ?`, int64(id))

		table, err := scanTable(row)
		if errors.Is(err, sql.ErrNoRows) {
			result = nil
			return nil
		}
		if err != nil {
			return err
		}
		result = table
		return nil
	})
	return result, err
}

// SaveTable inserts or renames a table
func (s *SQLiteStore) SaveTable(table *Table) error {
	if s.closed {
		return fmt.Errorf("schema store is closed")
	}
	if table.Keyspace == "" || table.Name == "" {
		return fmt.Errorf("table %d: keyspace and name are required", table.ID)
	}
	if table.CreatedAt.IsZero() {
		table.CreatedAt = time.Now().UTC()
	}

	// Serialize writes to avoid SQLITE_BUSY from multiple concurrent writers
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		_, err := s.db.Exec(`
		INSERT INTO tables (id, keyspace, name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			keyspace = excluded.keyspace,
			name = excluded.name
		`, int64(table.ID), table.Keyspace, table.Name, table.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to save table %d: %w", table.ID, err)
		}
		return nil
	})
}

// DropTable removes a table; dropping an unknown table is not an error
func (s *SQLiteStore) DropTable(id compaction.TableID) error {
	if s.closed {
		return fmt.Errorf("schema store is closed")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		_, err := s.db.Exec(`DELETE FROM tables WHERE id = ?`, int64(id))
		return err
	})
}

// ListTables returns every registered table ordered by id
func (s *SQLiteStore) ListTables() ([]*Table, error) {
	if s.closed {
		return nil, fmt.Errorf("schema store is closed")
	}

	rows, err := s.db.Query(`SELECT id, keyspace, name, created_at FROM tables ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []*Table
	for rows.Next() {
		table, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}

	return tables, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTable(row scanner) (*Table, error) {
	var (
		table Table
		id    int64
	)
	if err := row.Scan(&id, &table.Keyspace, &table.Name, &table.CreatedAt); err != nil {
		return nil, err
	}
	table.ID = compaction.TableID(id)
	return &table, nil
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	const maxRetries = 10
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil || !isSQLiteBusyError(err) {
			return err
		}
		time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
	}

	return err
}

func isSQLiteBusyError(err error) bool {
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.closed = true
	return s.db.Close()
}
