package pet

import "time"

// HealthStatus is the coarse, display-only condition label.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "Healthy"
	StatusNormal    HealthStatus = "Normal"
	StatusSick      HealthStatus = "Sick"
	StatusNeglected HealthStatus = "Neglected"
)

// StatusBands are the inclusive upper bounds, in days, of each status.
type StatusBands struct {
	HealthyDays float64
	NormalDays  float64
	SickDays    float64
}

func DefaultStatusBands() StatusBands {
	return StatusBands{HealthyDays: 7, NormalDays: 14, SickDays: 30}
}

// Classify derives the status from the most recent maintenance.
// No maintenance at all counts as neglected.
func Classify(last *Event, now time.Time, b StatusBands) HealthStatus {
	if last == nil {
		return StatusNeglected
	}
	d := ElapsedDays(last.OccurredAt, now)
	switch {
	case d <= b.HealthyDays:
		return StatusHealthy
	case d <= b.NormalDays:
		return StatusNormal
	case d <= b.SickDays:
		return StatusSick
	default:
		return StatusNeglected
	}
}

// LatestMaintenance returns the newest entry of history, or nil when empty.
// On equal timestamps the earliest entry in the slice wins.
func LatestMaintenance(history []Event) *Event {
	var latest *Event
	for i := range history {
		if latest == nil || history[i].OccurredAt.After(latest.OccurredAt) {
			latest = &history[i]
		}
	}
	if latest == nil {
		return nil
	}
	ev := *latest
	return &ev
}
