package pet

import "time"

const (
	// MaxHealth is the health value a freshly cared item is reset to.
	MaxHealth = 100
	// DefaultLevel, DefaultXP and DefaultHealth are the baseline values used
	// whenever a stored field is missing or malformed.
	DefaultLevel  = 1
	DefaultXP     = 0
	DefaultHealth = MaxHealth
)

// Record is a value snapshot of one equipment item's progression state.
type Record struct {
	ID          string     `json:"machine_id"`
	Level       int        `json:"level"`
	XP          int        `json:"xp"`
	Health      int        `json:"health"`
	LastCaredAt *time.Time `json:"last_cared_at"`
}

// NewRecord returns a record at baseline values that has never been cared for.
func NewRecord(id string) Record {
	return Record{ID: id, Level: DefaultLevel, XP: DefaultXP, Health: DefaultHealth}
}

// Normalized coerces out-of-range fields back to the baseline:
// level < 1 becomes 1, negative xp becomes 0, health is clamped to [0,100].
func (r Record) Normalized() Record {
	if r.Level < 1 {
		r.Level = DefaultLevel
	}
	if r.XP < 0 {
		r.XP = DefaultXP
	}
	if r.Health < 0 {
		r.Health = 0
	}
	if r.Health > MaxHealth {
		r.Health = MaxHealth
	}
	if r.LastCaredAt != nil {
		t := *r.LastCaredAt
		r.LastCaredAt = &t
	}
	return r
}

// Event is one logged maintenance action.
type Event struct {
	EquipmentID string    `json:"machine_id"`
	Action      string    `json:"action"`
	OccurredAt  time.Time `json:"date"`
}
