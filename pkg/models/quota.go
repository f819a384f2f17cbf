package models

import "time"

// QuotaEntry is the per-user storage ledger.
//
// BytesConsumed is mutated only through single-statement guarded updates
// (consumed += size WHERE consumed + size <= ceiling), never read-then-write,
// so concurrent uploads for the same user cannot overcommit.
type QuotaEntry struct {
	UserID         string    `gorm:"primaryKey;size:255" json:"user_id"`
	BytesConsumed  int64     `gorm:"not null;default:0" json:"bytes_consumed"`
	ByteCeiling    int64     `gorm:"not null" json:"byte_ceiling"`
	FileCount      int64     `gorm:"not null;default:0" json:"file_count"`
	PerFileCeiling int64     `gorm:"not null" json:"per_file_ceiling"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for QuotaEntry.
func (QuotaEntry) TableName() string {
	return "quota_entries"
}

// Remaining returns the bytes still available under the ceiling.
func (q *QuotaEntry) Remaining() int64 {
	rem := q.ByteCeiling - q.BytesConsumed
	if rem < 0 {
		return 0
	}
	return rem
}

// Fits reports whether a file of the given size passes both the per-file
// ceiling and the remaining byte budget. This is the read-only pre-flight
// check; the authoritative check happens in the guarded commit statement.
func (q *QuotaEntry) Fits(size int64) bool {
	if q.PerFileCeiling > 0 && size > q.PerFileCeiling {
		return false
	}
	return q.BytesConsumed+size <= q.ByteCeiling
}
