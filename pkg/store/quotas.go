package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/fileferry/fileferry/pkg/models"
)

// ============================================
// QUOTA LEDGER OPERATIONS
// ============================================

func (s *GORMStore) GetQuota(ctx context.Context, userID string) (*models.QuotaEntry, error) {
	return getByField[models.QuotaEntry](s.db, ctx, "user_id", userID, models.ErrQuotaNotFound)
}

func (s *GORMStore) EnsureQuota(ctx context.Context, userID string, byteCeiling, perFileCeiling int64) (*models.QuotaEntry, error) {
	entry, err := s.GetQuota(ctx, userID)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, models.ErrQuotaNotFound) {
		return nil, err
	}

	entry = &models.QuotaEntry{
		UserID:         userID,
		ByteCeiling:    byteCeiling,
		PerFileCeiling: perFileCeiling,
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		// Another request may have created the entry concurrently.
		if isUniqueConstraintError(err) {
			return s.GetQuota(ctx, userID)
		}
		return nil, err
	}
	return entry, nil
}

func (s *GORMStore) SetQuotaCeiling(ctx context.Context, userID string, byteCeiling int64) error {
	result := s.db.WithContext(ctx).Model(&models.QuotaEntry{}).
		Where("user_id = ?", userID).
		Update("byte_ceiling", byteCeiling)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrQuotaNotFound
	}
	return nil
}

// ReserveQuota performs the checked increment as a single transactional
// statement: the ceiling guard and the consumed update cannot race, unlike a
// read-then-write sequence.
func (s *GORMStore) ReserveQuota(ctx context.Context, userID string, size int64) error {
	result := s.db.WithContext(ctx).Model(&models.QuotaEntry{}).
		Where("user_id = ? AND bytes_consumed + ? <= byte_ceiling", userID, size).
		Updates(map[string]any{
			"bytes_consumed": gorm.Expr("bytes_consumed + ?", size),
			"file_count":     gorm.Expr("file_count + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrQuotaExceeded
	}
	return nil
}

func (s *GORMStore) ReleaseQuota(ctx context.Context, userID string, size int64) error {
	return s.db.WithContext(ctx).Model(&models.QuotaEntry{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"bytes_consumed": gorm.Expr("CASE WHEN bytes_consumed >= ? THEN bytes_consumed - ? ELSE 0 END", size, size),
			"file_count":     gorm.Expr("CASE WHEN file_count >= 1 THEN file_count - 1 ELSE 0 END"),
		}).Error
}
