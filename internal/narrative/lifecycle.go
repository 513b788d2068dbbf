package narrative

import (
	"time"

	"cryptopulse/internal/core"
)

// velocityAlpha is the EMA smoothing factor applied per update when folding
// the instantaneous daily article rate into a narrative's velocity.
const velocityAlpha = 0.3

// UpdateVelocity folds the articles-seen-in-24h rate into the smoothed
// articles-per-day velocity.
func UpdateVelocity(current, rate24h float64) float64 {
	return velocityAlpha*rate24h + (1-velocityAlpha)*current
}

// Conditions summarizes a narrative's recent activity for the state machine.
type Conditions struct {
	Articles24h    int
	Articles7d     int
	VelocityRising bool
	SinceLast      time.Duration // time since last_article_at
}

// Transition evaluates the lifecycle state machine and returns the next
// state, which may equal the current one. Quiet conditions are checked
// before activity conditions: a narrative silent for 48h cools no matter how
// loud its week was. Dormant never transitions here; leaving dormant happens
// only through an explicit reactivation.
func Transition(state core.LifecycleState, c Conditions) core.LifecycleState {
	surging := c.Articles24h >= 3 && c.VelocityRising
	heavy := c.Articles7d >= 10
	quiet48h := c.SinceLast >= 48*time.Hour
	quiet7d := c.SinceLast >= 7*24*time.Hour

	switch state {
	case core.StateEmerging:
		switch {
		case quiet48h:
			return core.StateCooling
		case heavy:
			return core.StateHot
		case surging:
			return core.StateRising
		}
	case core.StateRising:
		switch {
		case quiet48h:
			return core.StateCooling
		case heavy, surging:
			return core.StateHot
		}
	case core.StateHot:
		switch {
		case quiet7d:
			return core.StateDormant
		case quiet48h:
			return core.StateCooling
		}
	case core.StateCooling:
		switch {
		case quiet7d:
			return core.StateDormant
		case heavy:
			return core.StateHot
		case surging:
			return core.StateRising
		}
	case core.StateReactivated:
		switch {
		case quiet7d:
			return core.StateDormant
		case quiet48h:
			return core.StateCooling
		case heavy:
			return core.StateHot
		case surging:
			return core.StateRising
		}
	case core.StateDormant:
		// only Reactivate moves a dormant narrative
	}
	return state
}

// applyTransition mutates the narrative into the next state, maintaining
// dormancy bookkeeping and the history log. A no-op when the state is
// unchanged.
func applyTransition(n *core.Narrative, next core.LifecycleState, now time.Time) bool {
	if next == n.LifecycleState {
		return false
	}
	if next == core.StateDormant {
		t := now
		n.DormantSince = &t
	}
	if n.LifecycleState == core.StateDormant && next != core.StateDormant {
		n.DormantSince = nil
		n.ReactivatedCount++
	}
	n.LifecycleState = next
	n.LifecycleHistory = append(n.LifecycleHistory, core.LifecycleEntry{
		State:               next,
		EnteredAt:           now,
		ArticleCountAtEntry: n.ArticleCount,
	})
	return true
}
