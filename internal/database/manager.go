package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	dbconfig "proctordraw/pkg/database"
	"proctordraw/pkg/interfaces"
)

// Manager is the SQLite-backed BlobStore.
// All writes go through a single writer goroutine; reads use the pool.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and starts the writer.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop runs every write. A failed write is retried once after the
// configured delay unless the failure is a version conflict.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && !errors.Is(err, interfaces.ErrVersionConflict) {
				log.Printf("Database write failed, retrying in %s: %v", m.config.RetryDelay, err)
				time.Sleep(m.config.RetryDelay)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(m.config.WriteTimeout):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}
}

// Get returns the value stored under key.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, int64, error) {
	var value []byte
	var version int64

	err := m.db.QueryRowContext(ctx,
		`SELECT value, version FROM blobs WHERE key = ?`, key,
	).Scan(&value, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, interfaces.ErrBlobNotFound
		}
		return nil, 0, fmt.Errorf("failed to query blob %s: %w", key, err)
	}

	// NULL value is a tombstone left by Delete.
	if value == nil {
		return nil, version, interfaces.ErrBlobNotFound
	}
	return value, version, nil
}

// Set writes value unconditionally.
func (m *Manager) Set(ctx context.Context, key string, value []byte) (int64, error) {
	var version int64
	err := m.executeWrite(func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `
			INSERT INTO blobs (key, value, version, updated_at)
			VALUES (?, ?, 1, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				version = blobs.version + 1,
				updated_at = CURRENT_TIMESTAMP
			RETURNING version
		`, key, nonNil(value)).Scan(&version)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to set blob %s: %w", key, err)
	}
	return version, nil
}

// CompareAndSet writes value only if the key is still at expected.
// Expected 0 means the key must never have been written. Each branch is a
// single statement so the check holds across processes sharing the file.
func (m *Manager) CompareAndSet(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	err := m.executeWrite(func(db *sql.DB) error {
		var result sql.Result
		var err error
		if expected == 0 {
			result, err = db.ExecContext(ctx, `
				INSERT INTO blobs (key, value, version, updated_at)
				VALUES (?, ?, 1, CURRENT_TIMESTAMP)
				ON CONFLICT(key) DO NOTHING
			`, key, nonNil(value))
		} else {
			result, err = db.ExecContext(ctx, `
				UPDATE blobs SET value = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
				WHERE key = ? AND version = ?
			`, nonNil(value), key, expected)
		}
		if err != nil {
			return fmt.Errorf("failed to write blob: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			return interfaces.ErrVersionConflict
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrVersionConflict) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to compare-and-set blob %s: %w", key, err)
	}
	return expected + 1, nil
}

// Delete tombstones key, bumping its version.
func (m *Manager) Delete(ctx context.Context, key string) error {
	err := m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			UPDATE blobs SET value = NULL, version = version + 1, updated_at = CURRENT_TIMESTAMP
			WHERE key = ? AND value IS NOT NULL
		`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// DeletePrefix tombstones every live key starting with prefix.
func (m *Manager) DeletePrefix(ctx context.Context, prefix string) error {
	err := m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			UPDATE blobs SET value = NULL, version = version + 1, updated_at = CURRENT_TIMESTAMP
			WHERE substr(key, 1, length(?)) = ? AND value IS NOT NULL
		`, prefix, prefix)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete blobs with prefix %s: %w", prefix, err)
	}
	return nil
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM blobs").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the database. It is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// nonNil keeps an empty value distinct from the NULL tombstone.
func nonNil(value []byte) []byte {
	if value == nil {
		return []byte{}
	}
	return value
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
