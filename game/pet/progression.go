package pet

// Outcome is the result of applying one maintenance event to a record.
type Outcome struct {
	Record       Record `json:"record"`
	XPGained     int    `json:"xp_gained"`
	LevelsGained int    `json:"levels_gained"`
	LeveledUp    bool   `json:"leveled_up"`
}

// ApplyMaintenance credits the event's XP to the record, carries any excess
// into as many level-ups as it covers, and marks the item freshly cared for.
//
// Each level-up subtracts the threshold of the level being left, so on exit
// XP < p.Threshold(Level) holds for any well-formed policy.
func ApplyMaintenance(p Policy, r Record, ev Event) Outcome {
	r = r.Normalized()
	before := r.Level

	gained := p.XPFor(ev.Action)
	r.XP += gained
	for {
		t := threshold(p, r.Level)
		if r.XP < t {
			break
		}
		r.Level++
		r.XP -= t
	}

	r.Health = MaxHealth
	at := ev.OccurredAt
	r.LastCaredAt = &at

	return Outcome{
		Record:       r,
		XPGained:     gained,
		LevelsGained: r.Level - before,
		LeveledUp:    r.Level > before,
	}
}

// Progress returns the XP still needed for the next level.
func Progress(p Policy, r Record) (xp, needed int) {
	r = r.Normalized()
	return r.XP, threshold(p, r.Level)
}
