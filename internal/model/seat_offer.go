package model

import "time"

// OfferStatus is the lifecycle state of a SeatOffer.
type OfferStatus string

const (
	OfferOpen      OfferStatus = "OPEN"
	OfferLocked    OfferStatus = "LOCKED"
	OfferCompleted OfferStatus = "COMPLETED"
	OfferExpired   OfferStatus = "EXPIRED"
)

// Terminal reports whether no further transition is allowed.
func (s OfferStatus) Terminal() bool {
	return s == OfferCompleted || s == OfferExpired
}

// SeatOffer is a seat a student is willing to give up in a course.
type SeatOffer struct {
	ID          string      `gorm:"primaryKey;size:36" json:"id"`
	StudentHash string      `gorm:"index;size:128;not null" json:"studentHash"`
	CRN         string      `gorm:"index;size:16;not null" json:"crn"`
	Reason      string      `gorm:"size:64" json:"reason,omitempty"`
	Status      OfferStatus `gorm:"index;size:16;not null" json:"status"`
	CreatedAt   time.Time   `gorm:"not null" json:"createdAt"`
	ExpiresAt   time.Time   `gorm:"index;not null" json:"expiresAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}
