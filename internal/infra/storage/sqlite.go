package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"solpay_relay/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

// Storage keeps the payment history in SQLite.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at dbPath and migrates the schema.
func NewStorage(dbPath string) (*Storage, error) {
	// Ensure directory exists
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.PaymentRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// SavePayment appends one row to the payment history.
func (s *Storage) SavePayment(ctx context.Context, rec *domain.PaymentRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

// ListPayments returns the wallet's most recent records, newest first.
// limit is clamped to [1, MaxListLimit]; zero or negative means DefaultListLimit.
func (s *Storage) ListPayments(ctx context.Context, wallet string, limit int) ([]domain.PaymentRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var records []domain.PaymentRecord
	err := s.db.WithContext(ctx).
		Where("wallet = ?", wallet).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// CountByOutcome returns how many records carry each outcome.
func (s *Storage) CountByOutcome(ctx context.Context) (map[domain.DeliveryOutcome]int64, error) {
	var rows []struct {
		Outcome domain.DeliveryOutcome
		Count   int64
	}
	err := s.db.WithContext(ctx).
		Model(&domain.PaymentRecord{}).
		Select("outcome, count(*) as count").
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make(map[domain.DeliveryOutcome]int64, len(rows))
	for _, r := range rows {
		result[r.Outcome] = r.Count
	}
	return result, nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
