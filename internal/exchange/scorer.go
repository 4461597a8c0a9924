package exchange

import (
	"math"
	"time"

	"seat-exchange-backend/internal/model"
)

// Score is the fairness priority of a queued request at now. Higher is served
// first:
//
//	weight*min(1, wait/horizon) + (1-weight)*creditDeficit
//
// The weight and the deficit are clamped to [0,1]. The score is never cached
// on the request, so a new weight applies to every pending request at once.
func Score(r *model.SeatRequest, now time.Time, weight float64, horizon time.Duration) float64 {
	weight = clamp01(weight)

	var waited float64
	if wait := now.Sub(r.CreatedAt); wait > 0 {
		if horizon <= 0 {
			waited = 1
		} else {
			waited = math.Min(1, float64(wait)/float64(horizon))
		}
	}
	return weight*waited + (1-weight)*clamp01(r.CreditDeficit)
}

// ranksAbove orders requests: higher score, then earlier createdAt, then id.
func ranksAbove(a *model.SeatRequest, aScore float64, b *model.SeatRequest, bScore float64) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
