// Package store provides the unified database storage layer.
// All database operations go through this package.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"gridbot/logger"
)

// Store is the unified data storage entry point.
type Store struct {
	db *sql.DB

	// Sub-stores (lazy initialization)
	grid  *GridStore
	pairs *PairStore
	fills *FillStore

	mu sync.RWMutex
}

// New creates a Store backed by SQLite at dbPath.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize table structure: %w", err)
	}

	logger.Infof("✅ Database initialized at %s", dbPath)
	return s, nil
}

// NewFromDB creates a Store from an existing connection. Used in tests.
func NewFromDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize table structure: %w", err)
	}
	return s, nil
}

// initTables initializes all database tables.
func (s *Store) initTables() error {
	if err := s.Grid().initTables(); err != nil {
		return fmt.Errorf("failed to initialize grid tables: %w", err)
	}
	if err := s.Pairs().initTables(); err != nil {
		return fmt.Errorf("failed to initialize pair tables: %w", err)
	}
	if err := s.Fills().initTables(); err != nil {
		return fmt.Errorf("failed to initialize fill tables: %w", err)
	}
	return nil
}

// Grid gets grid state storage.
func (s *Store) Grid() *GridStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grid == nil {
		s.grid = &GridStore{db: s.db}
	}
	return s.grid
}

// Pairs gets pair selection cache storage.
func (s *Store) Pairs() *PairStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pairs == nil {
		s.pairs = &PairStore{db: s.db}
	}
	return s.pairs
}

// Fills gets fill log storage.
func (s *Store) Fills() *FillStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fills == nil {
		s.fills = &FillStore{db: s.db}
	}
	return s.fills
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Transaction executes fn inside a transaction.
func (s *Store) Transaction(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
