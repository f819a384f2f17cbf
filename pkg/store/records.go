package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/fileferry/fileferry/pkg/models"
)

// ============================================
// FILE RECORD OPERATIONS
// ============================================

func (s *GORMStore) CommitUpload(ctx context.Context, record *models.FileRecord) (string, error) {
	var id string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Quota guard and increment in one statement. RowsAffected == 0
		// means the ceiling would be exceeded (or the entry is missing).
		result := tx.Model(&models.QuotaEntry{}).
			Where("user_id = ? AND bytes_consumed + ? <= byte_ceiling", record.OwnerID, record.SizeBytes).
			Updates(map[string]any{
				"bytes_consumed": gorm.Expr("bytes_consumed + ?", record.SizeBytes),
				"file_count":     gorm.Expr("file_count + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrQuotaExceeded
		}

		var err error
		id, err = createWithID(tx, ctx, record,
			func(r *models.FileRecord, newID string) { r.ID = newID },
			record.ID, models.ErrDuplicateRecord)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *GORMStore) GetRecord(ctx context.Context, id string) (*models.FileRecord, error) {
	return getByField[models.FileRecord](s.db, ctx, "id", id, models.ErrRecordNotFound)
}

func (s *GORMStore) FindActiveByFingerprint(ctx context.Context, fp string) (*models.FileRecord, error) {
	var record models.FileRecord
	err := s.db.WithContext(ctx).
		Where("fingerprint = ? AND status = ?", fp, models.StatusActive).
		First(&record).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrRecordNotFound)
	}
	return &record, nil
}

func (s *GORMStore) AddReference(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&models.FileRecord{}).
		Where("id = ? AND status = ?", id, models.StatusActive).
		Updates(map[string]any{
			"ref_count":   gorm.Expr("ref_count + 1"),
			"accessed_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrRecordNotActive
	}
	return nil
}

func (s *GORMStore) DropReference(ctx context.Context, id string) (*models.FileRecord, error) {
	var record *models.FileRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.FileRecord{}).
			Where("id = ? AND ref_count > 0", id).
			Update("ref_count", gorm.Expr("ref_count - 1"))
		if result.Error != nil {
			return result.Error
		}

		var err error
		record, err = getByField[models.FileRecord](tx, ctx, "id", id, models.ErrRecordNotFound)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *GORMStore) TouchAccessed(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&models.FileRecord{}).
		Where("id = ?", id).
		Update("accessed_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrRecordNotFound
	}
	return nil
}

func (s *GORMStore) MarkExpired(ctx context.Context, id string) error {
	// Guarded transition: only active records may expire. A concurrent
	// delete or a previous sweep losing the race results in zero rows.
	result := s.db.WithContext(ctx).Model(&models.FileRecord{}).
		Where("id = ? AND status = ?", id, models.StatusActive).
		Update("status", models.StatusExpired)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrRecordNotActive
	}
	return nil
}

func (s *GORMStore) FinalizeDelete(ctx context.Context, record *models.FileRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.FileRecord{}).
			Where("id = ? AND status IN ?", record.ID, []models.RecordStatus{models.StatusActive, models.StatusExpired}).
			Updates(map[string]any{
				"status":    models.StatusDeleted,
				"ref_count": 0,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrRecordNotActive
		}

		// Release the original owner's quota. Floored at zero so a missing
		// or reset ledger never goes negative. CASE WHEN is used instead of
		// GREATEST so the same statement runs on SQLite and PostgreSQL.
		return tx.Model(&models.QuotaEntry{}).
			Where("user_id = ?", record.OwnerID).
			Updates(map[string]any{
				"bytes_consumed": gorm.Expr("CASE WHEN bytes_consumed >= ? THEN bytes_consumed - ? ELSE 0 END", record.SizeBytes, record.SizeBytes),
				"file_count":     gorm.Expr("CASE WHEN file_count >= 1 THEN file_count - 1 ELSE 0 END"),
			}).Error
	})
}

func (s *GORMStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.FileRecord, error) {
	var records []*models.FileRecord
	// Records already marked expired are included so a delete that failed
	// mid-sweep is retried on the next cycle.
	q := s.db.WithContext(ctx).
		Where("(status = ? AND expires_at < ?) OR status = ?",
			models.StatusActive, now, models.StatusExpired).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *GORMStore) ListRecordsByOwner(ctx context.Context, ownerID string) ([]*models.FileRecord, error) {
	var records []*models.FileRecord
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND status <> ?", ownerID, models.StatusDeleted).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
