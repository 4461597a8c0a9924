package model

import "time"

// MatchStatus is the lifecycle state of a Match.
type MatchStatus string

const (
	MatchActive    MatchStatus = "ACTIVE"
	MatchCompleted MatchStatus = "COMPLETED"
	MatchTimedOut  MatchStatus = "TIMED_OUT"
)

// Match binds one offer to one request for the duration of the lock window.
type Match struct {
	ID          string      `gorm:"primaryKey;size:36" json:"id"`
	OfferID     string      `gorm:"index;size:36;not null" json:"offerId"`
	RequestID   string      `gorm:"index;size:36;not null" json:"requestId"`
	CRN         string      `gorm:"index;size:16;not null" json:"crn"`
	Status      MatchStatus `gorm:"index;size:16;not null" json:"status"`
	LockedUntil time.Time   `gorm:"not null" json:"lockedUntil"`
	CreatedAt   time.Time   `gorm:"not null" json:"createdAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	ReleasedAt  *time.Time  `json:"releasedAt,omitempty"`
}
