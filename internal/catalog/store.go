// Package catalog is the Catalog Store (spec §4.A): durable metadata for
// media files, comments and user messages, behind a small embedded SQL
// engine with transactions, savepoints and a pageable query surface.
package catalog

import (
	"fmt"
	"sync/atomic"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store owns the single connection pool to the catalog database.
type Store struct {
	db     *gorm.DB
	broken atomic.Bool
}

// Open opens (creating if necessary) the sqlite-backed catalog at path,
// configures its connection pool and pragmas per spec §4.A, and runs
// AutoMigrate for all three entities.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf(
		"%s?_foreign_keys=ON&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000",
		path,
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("catalog: underlying sql.DB: %w", err)
	}
	// A single small fixed-size pool; every checked-out connection has
	// already negotiated the pragmas above via the DSN.
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&MediaFile{}, &Comment{}, &UserMessage{}); err != nil {
		return nil, fmt.Errorf("catalog: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SetBroken flips the store's test fault-injection state. While broken,
// every operation fails with ErrBroken without touching the engine.
func (s *Store) SetBroken(broken bool) {
	s.broken.Store(broken)
}

func (s *Store) conn() *gorm.DB {
	return s.db
}

func (s *Store) checkBroken() error {
	if s.broken.Load() {
		return ErrBroken
	}
	return nil
}

// Tx is a scoped transaction handle. It binds to one connection; nested
// blocks should use Savepoint/Release/RollbackToSavepoint rather than
// nested Begin calls. The host applies an organizer peer's decisions
// through exactly this handle (spec §9); the peer never holds it.
type Tx struct {
	db     *gorm.DB
	broken *atomic.Bool
	done   bool
}

// Begin opens a new transaction bound to a fresh connection.
func (s *Store) Begin() (*Tx, error) {
	if err := s.checkBroken(); err != nil {
		return nil, err
	}
	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, translate(tx.Error)
	}
	return &Tx{db: tx, broken: &s.broken}, nil
}

// Commit commits the transaction. Calling Commit or Rollback a second
// time is a no-op.
func (t *Tx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if t.broken.Load() {
		t.db.Rollback()
		return ErrBroken
	}
	return translate(t.db.Commit().Error)
}

// Rollback discards the transaction, leaving the catalog bitwise
// identical to its pre-transaction snapshot (P5).
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return translate(t.db.Rollback().Error)
}

// Savepoint creates a named nested rollback point inside the transaction.
func (t *Tx) Savepoint(name string) error {
	if t.broken.Load() {
		return ErrBroken
	}
	return translate(t.db.SavePoint(name).Error)
}

// Release forgets a named savepoint, keeping its changes as part of the
// enclosing transaction.
func (t *Tx) Release(name string) error {
	if t.broken.Load() {
		return ErrBroken
	}
	return translate(t.db.Exec("RELEASE SAVEPOINT " + name).Error)
}

// RollbackToSavepoint undoes everything since the named savepoint was
// created, without discarding the rest of the transaction.
func (t *Tx) RollbackToSavepoint(name string) error {
	if t.broken.Load() {
		return ErrBroken
	}
	return translate(t.db.RollbackTo(name).Error)
}

// Store returns a *Store-shaped view bound to this transaction's
// connection, so entity operations (Insert, Get, ...) can be driven
// through it unchanged.
func (t *Tx) Store() *Store {
	s := &Store{db: t.db}
	s.broken.Store(t.broken.Load())
	return s
}
