// Package signals ranks entities by how loudly the news is talking about
// them right now. The score blends mention velocity, source diversity,
// recency, and sentiment strength into a single [0,1] number; the detector
// fans out per-entity indexed queries to compute it.
package signals

import (
	"math"
	"time"
)

const (
	// velocityAlphaPerDay is the EMA constant for velocity smoothing,
	// calibrated to one day between observations and pro-rated for
	// shorter gaps.
	velocityAlphaPerDay = 0.3

	// recencyHalfLife halves the recency weight every 12 hours of silence.
	recencyHalfLife = 12 * time.Hour

	// emergingFloor keeps brand-new entities from being buried by their
	// own lack of history.
	emergingFloor = 0.2

	// negativeSignBonus weights fear slightly above greed. Hacks,
	// exploits and enforcement actions are the moves worth surfacing
	// first.
	negativeSignBonus = 1.25
)

// ScoreInputs are the per-entity measurements the score combines.
type ScoreInputs struct {
	Velocity        float64       // smoothed mentions per hour
	DistinctSources int
	TotalMentions   int
	NewestMention   time.Duration // age of the most recent mention
	Sentiment       float64       // mean sentiment, [-1,1]
}

// Score combines the weighted components and clamps to [0,1].
//
//	0.4·norm(velocity) + 0.3·diversity + 0.2·recency + 0.1·|sentiment|·bonus
func Score(in ScoreInputs) float64 {
	s := 0.4*normVelocity(in.Velocity) +
		0.3*sourceDiversity(in.DistinctSources, in.TotalMentions) +
		0.2*recencyWeight(in.NewestMention) +
		0.1*math.Abs(in.Sentiment)*signBonus(in.Sentiment)
	return clamp01(s)
}

// normVelocity squashes mentions-per-hour into [0,1) on a saturating curve.
// Two mentions an hour is already mid-scale for a single crypto entity;
// eight an hour is a frenzy.
func normVelocity(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return v / (v + 2)
}

// sourceDiversity is distinct sources over min(10, total mentions), capped
// at 1. One outlet spamming a coin scores low; ten outlets covering it
// scores full marks.
func sourceDiversity(distinct, total int) float64 {
	if total <= 0 || distinct <= 0 {
		return 0
	}
	denom := total
	if denom > 10 {
		denom = 10
	}
	d := float64(distinct) / float64(denom)
	if d > 1 {
		return 1
	}
	return d
}

// recencyWeight decays exponentially with the age of the newest mention,
// halving every recencyHalfLife.
func recencyWeight(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return math.Exp2(-age.Hours() / recencyHalfLife.Hours())
}

// signBonus gives negative sentiment a modest extra weight.
func signBonus(sentiment float64) float64 {
	if sentiment < 0 {
		return negativeSignBonus
	}
	return 1.0
}

// SmoothVelocity blends a fresh velocity reading with the previous smoothed
// value. The blend weight follows the per-day EMA constant pro-rated for
// the actual gap, so back-to-back recomputes barely move the needle while a
// day-old value takes the full α=0.3 step.
func SmoothVelocity(raw, prev float64, elapsed time.Duration) float64 {
	if prev <= 0 || elapsed <= 0 {
		return raw
	}
	days := elapsed.Hours() / 24
	keep := math.Pow(1-velocityAlphaPerDay, days)
	return (1-keep)*raw + keep*prev
}

// applyEmergingFloor lifts an emerging entity's score to the floor so thin
// but brand-new activity still surfaces.
func applyEmergingFloor(score float64, emerging bool) float64 {
	if emerging && score < emergingFloor {
		return emergingFloor
	}
	return score
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
