// Package journal keeps a local, append-only record of ledger transactions
// submitted through the marketplace so accounts can review their activity
// without replaying the chain.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	// DefaultListLimit bounds List when the caller passes a non-positive limit.
	DefaultListLimit = 50
	// MaxListLimit caps List regardless of the requested limit.
	MaxListLimit = 500
)

// ErrMissingTxHash is returned when an entry without a transaction hash is recorded.
var ErrMissingTxHash = errors.New("journal: transaction hash required")

// Entry is one submitted ledger transaction.
type Entry struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Account   string    `gorm:"size:42;index:idx_journal_account_created" json:"account"`
	Operation string    `gorm:"size:32;index" json:"operation"`
	TxHash    string    `gorm:"size:66;uniqueIndex" json:"txHash"`
	ValueWei  string    `gorm:"size:80" json:"valueWei"`
	Detail    string    `gorm:"size:256" json:"detail,omitempty"`
	CreatedAt time.Time `gorm:"index:idx_journal_account_created" json:"createdAt"`
}

// TableName pins the table name independent of gorm's pluralisation.
func (Entry) TableName() string { return "journal_entries" }

// Store persists journal entries through gorm.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the timestamp source for new entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open connects to the configured database and migrates the schema. Supported
// drivers are "sqlite" (the default) and "postgres".
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("journal: dsn required")
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	store, err := New(db, opts...)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return store, nil
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("journal: database handle required")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Record appends an entry. Recording the same transaction hash twice is a no-op.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	entry.TxHash = strings.ToLower(strings.TrimSpace(entry.TxHash))
	if entry.TxHash == "" {
		return ErrMissingTxHash
	}
	entry.Account = normaliseAccount(entry.Account)
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if entry.ValueWei == "" {
		entry.ValueWei = "0"
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tx_hash"}}, DoNothing: true}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("journal: record %s: %w", entry.TxHash, err)
	}
	return nil
}

// List returns the most recent entries for account, newest first.
func (s *Store) List(ctx context.Context, account string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("account = ?", normaliseAccount(account)).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return entries, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func normaliseAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}
