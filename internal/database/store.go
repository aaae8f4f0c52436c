package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"referral-ledger/internal/models"
	"referral-ledger/internal/storage"
)

const batchSize = 200

// memberRow keeps the table order, which the CSV backend gets for free from line order.
type memberRow struct {
	Position      int `gorm:"index;not null"`
	models.Member `gorm:"embedded"`
}

func (memberRow) TableName() string {
	return "members"
}

// GormStore persists the member table and the ledger in a SQL database. Like the file
// backend it replaces the whole table on every save, inside one transaction.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) LoadMembers(ctx context.Context) ([]models.Member, error) {
	var rows []memberRow
	if err := s.db.WithContext(ctx).Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotExist
	}
	members := make([]models.Member, len(rows))
	for i, r := range rows {
		members[i] = r.Member
	}
	return members, nil
}

func (s *GormStore) SaveMembers(ctx context.Context, members []models.Member) error {
	rows := make([]memberRow, len(members))
	for i, m := range members {
		rows[i] = memberRow{Position: i, Member: m}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&memberRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear members: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, batchSize).Error; err != nil {
			return fmt.Errorf("failed to save members: %w", err)
		}
		return nil
	})
}

func (s *GormStore) LoadEntries(ctx context.Context) ([]models.Entry, error) {
	var entries []models.Entry
	if err := s.db.WithContext(ctx).Order("seq").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	for i := range entries {
		entries[i].Timestamp = entries[i].Timestamp.UTC()
	}
	return entries, nil
}

func (s *GormStore) SaveEntries(ctx context.Context, entries []models.Entry) error {
	rows := make([]models.Entry, len(entries))
	copy(rows, entries)
	for i := range rows {
		rows[i].Seq = uint(i + 1)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Entry{}).Error; err != nil {
			return fmt.Errorf("failed to clear ledger: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, batchSize).Error; err != nil {
			return fmt.Errorf("failed to save ledger: %w", err)
		}
		return nil
	})
}
