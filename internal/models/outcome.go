package models

import "time"

// OutcomeRecord is one classified dispatch, kept for auditing and the
// history views. Pending requests themselves are never persisted.
type OutcomeRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	RequestID  string    `gorm:"size:36;not null;index"`
	Requester  string    `gorm:"size:64;not null;index"`
	Link       string    `gorm:"type:text"`
	Origin     string    `gorm:"size:8"`
	Mode       string    `gorm:"size:8"`
	Automatic  bool      `gorm:"default:false"`
	Outcome    string    `gorm:"size:32;not null;index"`
	Attempted  int       `gorm:"default:0"`
	Failed     int       `gorm:"default:0"`
	Delivered  int       `gorm:"default:0"`
	Error      string    `gorm:"type:text"`
	DurationMs int64     `gorm:"default:0"`
	FinishedAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}
