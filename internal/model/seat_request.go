package model

import "time"

// RequestStatus is the lifecycle state of a SeatRequest.
type RequestStatus string

const (
	RequestQueued    RequestStatus = "QUEUED"
	RequestLocked    RequestStatus = "LOCKED"
	RequestCompleted RequestStatus = "COMPLETED"
	RequestCancelled RequestStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestCancelled
}

// SeatRequest is a student waiting for a seat in a course.
//
// CreditDeficit is supplied by the identity provider at submission time and
// is expected in [0,1]. QueueScore is never persisted; it is recomputed from
// the current fairness weight whenever it is read.
type SeatRequest struct {
	ID            string        `gorm:"primaryKey;size:36" json:"id"`
	StudentHash   string        `gorm:"index;size:128;not null" json:"studentHash"`
	CRN           string        `gorm:"index;size:16;not null" json:"crn"`
	CreditDeficit float64       `gorm:"not null" json:"creditDeficit"`
	QueueScore    float64       `gorm:"-" json:"queueScore"`
	Status        RequestStatus `gorm:"index;size:16;not null" json:"status"`
	CreatedAt     time.Time     `gorm:"not null" json:"createdAt"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty"`
}
