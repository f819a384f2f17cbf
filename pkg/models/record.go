package models

import (
	"time"
)

// RecordStatus represents the lifecycle status of a file record.
type RecordStatus string

const (
	// StatusActive is a live record backed by a remote provider file.
	StatusActive RecordStatus = "active"
	// StatusExpired marks a record past its retention window, pending delete.
	StatusExpired RecordStatus = "expired"
	// StatusDeleted marks a record whose remote file has been removed.
	StatusDeleted RecordStatus = "deleted"
)

// IsValid checks if the status is a valid RecordStatus.
func (s RecordStatus) IsValid() bool {
	return s == StatusActive || s == StatusExpired || s == StatusDeleted
}

// FileRecord is the durable record of one deduplicated remote file.
//
// Records are created on successful upload and mutated only inside the
// orchestrator's fingerprint-lock critical section or by the lifecycle
// sweeper. The fingerprint is the dedup correlation key: at most one active
// record exists per fingerprint, and RefCount tracks how many logical owners
// point at it.
type FileRecord struct {
	ID          string       `gorm:"primaryKey;size:36" json:"id"`
	Fingerprint string       `gorm:"index;not null;size:64" json:"fingerprint"`
	ProviderID  string       `gorm:"not null;size:50" json:"provider_id"`
	RemoteID    string       `gorm:"not null;size:255" json:"remote_id"`
	OwnerID     string       `gorm:"index;not null;size:255" json:"owner_id"`
	SizeBytes   int64        `gorm:"not null" json:"size_bytes"`
	Purpose     string       `gorm:"size:50" json:"purpose,omitempty"`
	RefCount    int          `gorm:"not null;default:1" json:"ref_count"`
	Status      RecordStatus `gorm:"index;not null;size:20;default:active" json:"status"`
	CreatedAt   time.Time    `gorm:"autoCreateTime" json:"created_at"`
	AccessedAt  time.Time    `json:"accessed_at"`
	ExpiresAt   time.Time    `gorm:"index" json:"expires_at"`
}

// TableName returns the table name for FileRecord.
func (FileRecord) TableName() string {
	return "file_records"
}

// Expired reports whether the record is past its retention window.
func (r *FileRecord) Expired(now time.Time) bool {
	return r.Status == StatusActive && r.ExpiresAt.Before(now)
}

// Shared reports whether more than one logical owner references the record.
func (r *FileRecord) Shared() bool {
	return r.RefCount > 1
}
