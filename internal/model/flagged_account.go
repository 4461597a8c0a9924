package model

import "time"

// FlagStatus tracks the admin review state of a flagged account.
type FlagStatus string

const (
	FlagPending   FlagStatus = "pending"
	FlagReviewing FlagStatus = "reviewing"
	FlagResolved  FlagStatus = "resolved"
)

// FlaggedAccount records a student whose offers repeatedly timed out.
type FlaggedAccount struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	StudentHash string     `gorm:"index;size:128;not null" json:"studentHash"`
	Reason      string     `gorm:"size:256;not null" json:"reason"`
	Status      FlagStatus `gorm:"size:16;not null" json:"status"`
	CreatedAt   time.Time  `gorm:"not null" json:"timestamp"`
}
