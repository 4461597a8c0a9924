package model

import "time"

// Course is a catalog entry for a course section.
type Course struct {
	CRN       string    `gorm:"primaryKey;size:16" json:"crn"`
	Title     string    `gorm:"size:256;not null" json:"title"`
	Capacity  int       `json:"capacity"`
	Enrolled  int       `json:"enrolled"`
	CreatedAt time.Time `gorm:"not null" json:"-"`
	UpdatedAt time.Time `gorm:"not null" json:"-"`
}
