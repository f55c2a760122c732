package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"sentinel_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the persistent system of record: signal rows and liquidation
// telemetry batches.
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a new SQLite storage instance at path. An empty path
// falls back to the user config directory.
func NewStorage(path string) (*Storage, error) {
	dbPath := path
	if dbPath == "" {
		var err error
		dbPath, err = defaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.Signal{}, &domain.LiquidationEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

func defaultDBPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "SentinelGo", "data", "sentinel.db"), nil
}

var openStatuses = []domain.Status{domain.StatusPending, domain.StatusActive, domain.StatusPartialWin}

// InsertSignal persists a newly registered signal.
func (s *Storage) InsertSignal(ctx context.Context, sig *domain.Signal) error {
	return s.db.WithContext(ctx).Create(sig).Error
}

// UpdateSignal persists the full current state of a tracked signal.
func (s *Storage) UpdateSignal(ctx context.Context, sig *domain.Signal) error {
	return s.db.WithContext(ctx).Save(sig).Error
}

// CountOpenSignals counts non-terminal rows for a symbol. Registration uses
// this to close the race with other process instances writing the same table.
func (s *Storage) CountOpenSignals(ctx context.Context, symbol string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&domain.Signal{}).
		Where("symbol = ? AND status IN ?", symbol, openStatuses).
		Count(&n).Error
	return n, err
}

// OpenSignals returns every non-terminal row. The audit engine reloads these
// at startup so a restart does not lose tracking of open positions.
func (s *Storage) OpenSignals(ctx context.Context) ([]domain.Signal, error) {
	var signals []domain.Signal
	err := s.db.WithContext(ctx).
		Where("status IN ?", openStatuses).
		Order("created_at").
		Find(&signals).Error
	return signals, err
}

// TerminalSignals returns closed rows, most recent first, capped at limit.
// Report and notification consumers read history through this.
func (s *Storage) TerminalSignals(ctx context.Context, limit int) ([]domain.Signal, error) {
	var signals []domain.Signal
	q := s.db.WithContext(ctx).
		Where("status NOT IN ?", openStatuses).
		Order("closed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&signals).Error
	return signals, err
}

// InsertLiquidationBatch appends a write-behind batch in one insert.
func (s *Storage) InsertLiquidationBatch(ctx context.Context, rows []domain.LiquidationEvent) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

// RecentLiquidations returns the most recent liquidation rows for a symbol.
func (s *Storage) RecentLiquidations(ctx context.Context, symbol string, limit int) ([]domain.LiquidationEvent, error) {
	var rows []domain.LiquidationEvent
	q := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("timestamp_ms DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}
