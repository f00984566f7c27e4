package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// recordModel is the table row behind a Record
type recordModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	Signature   string `gorm:"type:text;not null"`
	Payer       string `gorm:"size:128;index"`
	Status      string `gorm:"size:16;not null;index"`
	TxHash      string `gorm:"size:128"`
	ValidBefore *int64 `gorm:"index"`
	CreatedAt   time.Time
}

func (recordModel) TableName() string {
	return "settlements"
}

func toModel(r *Record) *recordModel {
	return &recordModel{
		ID:          r.ID,
		Signature:   r.Signature,
		Payer:       r.Payer,
		Status:      string(r.Status),
		TxHash:      r.TxHash,
		ValidBefore: r.ValidBefore,
		CreatedAt:   r.CreatedAt,
	}
}

func (m *recordModel) toRecord() *Record {
	return &Record{
		ID:          m.ID,
		Signature:   m.Signature,
		Payer:       m.Payer,
		Status:      Status(m.Status),
		TxHash:      m.TxHash,
		ValidBefore: m.ValidBefore,
		CreatedAt:   m.CreatedAt,
	}
}

// GormStore persists records in a SQL database (sqlite or postgres)
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the settlements table and returns a store on top of db
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&recordModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate settlements table: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Save(ctx context.Context, record *Record) error {
	if err := checkNewRecord(record); err != nil {
		return err
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(toModel(record))
	if res.Error != nil {
		return fmt.Errorf("failed to save settlement record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordExists
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*Record, error) {
	var m recordModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settlement record: %w", err)
	}
	return m.toRecord(), nil
}

func (s *GormStore) UpdateStatus(ctx context.Context, id string, status Status, txHash string) error {
	if err := checkTransition(StatusPending, status, txHash); err != nil {
		return err
	}

	res := s.db.WithContext(ctx).
		Model(&recordModel{}).
		Where("id = ? AND status = ?", id, string(StatusPending)).
		Updates(map[string]interface{}{
			"status":  string(status),
			"tx_hash": txHash,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update settlement record: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	// Nothing matched: either the record is missing or it already left pending
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return checkTransition(existing.Status, status, txHash)
}

func (s *GormStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("valid_before IS NOT NULL AND valid_before < ?", now.Unix()).
		Delete(&recordModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete expired settlement records: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Close releases the underlying connection pool
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
