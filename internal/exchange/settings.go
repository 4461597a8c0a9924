package exchange

import (
	"fmt"
	"time"

	"seat-exchange-backend/internal/model"
)

// Settings is the admin-tunable part of the engine configuration. It is
// swapped atomically as a whole, so a score computation never observes a
// half-applied update.
type Settings struct {
	FairnessWeight    float64 `json:"fairnessWeight"`
	MaxActiveRequests int     `json:"maxActiveRequests"`
	OffersPerDay      int     `json:"offersPerDay"`   // 0 disables the limit
	RequestsPerDay    int     `json:"requestsPerDay"` // 0 disables the limit
}

// Validate checks the ranges accepted by the engine.
func (s Settings) Validate() error {
	if s.FairnessWeight < 0 || s.FairnessWeight > 1 {
		return fmt.Errorf("%w: fairnessWeight %.3f outside [0,1]", ErrValidation, s.FairnessWeight)
	}
	if s.MaxActiveRequests < 1 {
		return fmt.Errorf("%w: maxActiveRequests must be at least 1", ErrValidation)
	}
	if s.OffersPerDay < 0 || s.RequestsPerDay < 0 {
		return fmt.Errorf("%w: daily limits cannot be negative", ErrValidation)
	}
	return nil
}

// SettingsPatch is a partial update; nil fields keep their current value.
type SettingsPatch struct {
	FairnessWeight    *float64 `json:"fairnessWeight"`
	MaxActiveRequests *int     `json:"maxActiveRequests"`
	OffersPerDay      *int     `json:"offersPerDay"`
	RequestsPerDay    *int     `json:"requestsPerDay"`
}

// Empty reports whether the patch changes nothing.
func (p SettingsPatch) Empty() bool {
	return p.FairnessWeight == nil && p.MaxActiveRequests == nil && p.OffersPerDay == nil && p.RequestsPerDay == nil
}

func (s Settings) apply(p SettingsPatch) Settings {
	if p.FairnessWeight != nil {
		s.FairnessWeight = *p.FairnessWeight
	}
	if p.MaxActiveRequests != nil {
		s.MaxActiveRequests = *p.MaxActiveRequests
	}
	if p.OffersPerDay != nil {
		s.OffersPerDay = *p.OffersPerDay
	}
	if p.RequestsPerDay != nil {
		s.RequestsPerDay = *p.RequestsPerDay
	}
	return s
}

// Config is everything the engine needs at construction.
type Config struct {
	OfferTTL               time.Duration
	LockWindow             time.Duration
	MaxWaitHorizon         time.Duration
	Retention              time.Duration
	DefaultWaitPerPosition time.Duration
	AbuseThreshold         int

	Settings Settings

	// Catalog restricts submissions to known courses when non-empty.
	Catalog []model.Course
}

// DefaultConfig returns the production timings: 24h offer TTL, 15 minute
// lock window, at most three live requests per student.
func DefaultConfig() Config {
	return Config{
		OfferTTL:               24 * time.Hour,
		LockWindow:             15 * time.Minute,
		MaxWaitHorizon:         24 * time.Hour,
		Retention:              72 * time.Hour,
		DefaultWaitPerPosition: 30 * time.Minute,
		AbuseThreshold:         3,
		Settings: Settings{
			FairnessWeight:    0.7,
			MaxActiveRequests: 3,
			OffersPerDay:      5,
			RequestsPerDay:    10,
		},
	}
}

func (c Config) validate() error {
	if c.OfferTTL <= 0 || c.LockWindow <= 0 {
		return fmt.Errorf("%w: offer TTL and lock window must be positive", ErrValidation)
	}
	if c.MaxWaitHorizon <= 0 {
		return fmt.Errorf("%w: max wait horizon must be positive", ErrValidation)
	}
	return c.Settings.Validate()
}
