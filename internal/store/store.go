package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"seat-exchange-backend/internal/exchange"
	"seat-exchange-backend/internal/model"
)

// ErrNotFound is returned when a row does not exist or is not owned by the caller.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	UpsertCourses(ctx context.Context, courses []model.Course) error
	Courses(ctx context.Context) ([]model.Course, error)

	// SaveEvent writes every entity snapshot carried by ev in one transaction,
	// so a lock or release is never persisted half-way.
	SaveEvent(ctx context.Context, ev exchange.Event) error
	// LoadActive returns the state an engine needs to resume: non-terminal
	// offers and requests, active matches and all flags.
	LoadActive(ctx context.Context) (exchange.Snapshot, error)

	SaveSubscription(ctx context.Context, sub *model.PushSubscription) error
	Subscriptions(ctx context.Context, studentHash string) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, studentHash, endpoint string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// UpsertCourses seeds the catalog. Existing rows take the new title and sizes.
func (s *gormStore) UpsertCourses(ctx context.Context, courses []model.Course) error {
	if len(courses) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "crn"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "capacity", "enrolled", "updated_at"}),
	}).Create(&courses).Error; err != nil {
		return fmt.Errorf("batch upsert courses failed: %w", err)
	}
	return nil
}

func (s *gormStore) Courses(ctx context.Context) ([]model.Course, error) {
	var courses []model.Course
	if err := s.db.WithContext(ctx).Order("crn").Find(&courses).Error; err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	return courses, nil
}

func (s *gormStore) SaveEvent(ctx context.Context, ev exchange.Event) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if ev.Offer != nil {
			if err := upsert(tx, ev.Offer); err != nil {
				return fmt.Errorf("failed to save offer %s: %w", ev.Offer.ID, err)
			}
		}
		if ev.Request != nil {
			if err := upsert(tx, ev.Request); err != nil {
				return fmt.Errorf("failed to save request %s: %w", ev.Request.ID, err)
			}
		}
		if ev.Match != nil {
			if err := upsert(tx, ev.Match); err != nil {
				return fmt.Errorf("failed to save match %s: %w", ev.Match.ID, err)
			}
		}
		if ev.Flag != nil {
			if err := upsert(tx, ev.Flag); err != nil {
				return fmt.Errorf("failed to save flag %s: %w", ev.Flag.ID, err)
			}
		}
		return nil
	})
}

// upsert inserts a row or overwrites every column of the existing one.
func upsert(tx *gorm.DB, row any) error {
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

func (s *gormStore) LoadActive(ctx context.Context) (exchange.Snapshot, error) {
	var snap exchange.Snapshot
	db := s.db.WithContext(ctx)

	if err := db.Where("status IN ?", []model.OfferStatus{model.OfferOpen, model.OfferLocked}).
		Order("created_at").Find(&snap.Offers).Error; err != nil {
		return snap, fmt.Errorf("failed to load offers: %w", err)
	}
	if err := db.Where("status IN ?", []model.RequestStatus{model.RequestQueued, model.RequestLocked}).
		Order("created_at").Find(&snap.Requests).Error; err != nil {
		return snap, fmt.Errorf("failed to load requests: %w", err)
	}
	if err := db.Where("status = ?", model.MatchActive).Find(&snap.Matches).Error; err != nil {
		return snap, fmt.Errorf("failed to load matches: %w", err)
	}
	if err := db.Order("created_at").Find(&snap.Flags).Error; err != nil {
		return snap, fmt.Errorf("failed to load flags: %w", err)
	}
	return snap, nil
}

// SaveSubscription creates a subscription or moves an existing endpoint to
// the given student with fresh keys.
func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"student_hash", "p256dh", "auth"}),
	}).Create(sub).Error
}

func (s *gormStore) Subscriptions(ctx context.Context, studentHash string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("student_hash = ?", studentHash).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// DeleteSubscription removes an endpoint owned by studentHash. It returns
// ErrNotFound when nothing matched.
func (s *gormStore) DeleteSubscription(ctx context.Context, studentHash, endpoint string) error {
	res := s.db.WithContext(ctx).
		Where("endpoint = ? AND student_hash = ?", endpoint, studentHash).
		Delete(&model.PushSubscription{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
