package models

import "time"

// PingHistory is one latency point of a target's chart.
// Rows are append-only and removed only together with their target; the
// foreign key rejects points for a target that no longer exists.
type PingHistory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TargetID  uint      `gorm:"index:idx_history_target_ts,priority:1;not null" json:"target_id"`
	Target    *Target   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `gorm:"index:idx_history_target_ts,priority:2;not null" json:"timestamp"`
}

// EventLog records a status transition of a target (not every sample).
type EventLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TargetName string    `gorm:"index" json:"target_name"`
	Status     string    `gorm:"size:10" json:"status"`
	Message    string    `json:"message"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
}

// User is an operator account for the control plane.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
