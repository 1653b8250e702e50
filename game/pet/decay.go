package pet

import "time"

const day = 24 * time.Hour

// DecayRule configures neglect decay.
type DecayRule struct {
	NeglectThresholdDays float64
	HealthDecreaseAmount int
}

// DefaultDecayRule drops 10 health once an item has gone 7 days without care.
func DefaultDecayRule() DecayRule {
	return DecayRule{NeglectThresholdDays: 7, HealthDecreaseAmount: 10}
}

// Decay lowers health for a neglected item. Items already at zero health and
// items never cared for are returned unchanged. LastCaredAt is never touched,
// so every call past the threshold decays again: callers run it once per item
// per scheduling period.
func Decay(rule DecayRule, r Record, now time.Time) (Record, bool) {
	if r.Health == 0 || r.LastCaredAt == nil {
		return r, false
	}
	if ElapsedDays(*r.LastCaredAt, now) <= rule.NeglectThresholdDays {
		return r, false
	}
	health := r.Health - rule.HealthDecreaseAmount
	if health < 0 {
		health = 0
	}
	if health == r.Health {
		return r, false
	}
	r.Health = health
	return r, true
}

// ElapsedDays returns the fractional number of days from since to now.
func ElapsedDays(since, now time.Time) float64 {
	return float64(now.Sub(since)) / float64(day)
}
