package care

import (
	"context"
	"time"

	"github.com/kasuganosora/equipets/game/pet"
)

// LastCare is the most recent applied action of an item.
type LastCare struct {
	Action string    `json:"action"`
	Date   time.Time `json:"date"`
}

// EquipmentStatus is a record joined with its display condition.
type EquipmentStatus struct {
	MachineID       string           `json:"machine_id"`
	Level           int              `json:"level"`
	XP              int              `json:"xp"`
	XPToNext        int              `json:"xp_to_next"`
	Health          int              `json:"health"`
	HealthStatus    pet.HealthStatus `json:"health_status"`
	LastCaredAt     *time.Time       `json:"last_cared_at"`
	LastMaintenance *LastCare        `json:"last_maintenance"`
}

// Describe classifies r given its latest maintenance, as of now.
func (svc *Service) Describe(r pet.Record, last *pet.Event) EquipmentStatus {
	r = r.Normalized()
	_, needed := pet.Progress(svc.policy, r)
	st := EquipmentStatus{
		MachineID:    r.ID,
		Level:        r.Level,
		XP:           r.XP,
		XPToNext:     needed,
		Health:       r.Health,
		HealthStatus: pet.Classify(last, svc.now(), svc.bands),
		LastCaredAt:  r.LastCaredAt,
	}
	if last != nil {
		st.LastMaintenance = &LastCare{Action: last.Action, Date: last.OccurredAt}
	}
	return st
}

// Status returns the condition of one item.
func (svc *Service) Status(ctx context.Context, machineID string) (*EquipmentStatus, error) {
	r, err := svc.store.FetchRecord(ctx, machineID)
	if err != nil {
		return nil, err
	}
	last, err := svc.store.LatestMaintenance(ctx, machineID)
	if err != nil {
		return nil, err
	}
	st := svc.Describe(r, last)
	return &st, nil
}

// Statuses returns the condition of every item, in store order.
func (svc *Service) Statuses(ctx context.Context) ([]EquipmentStatus, error) {
	records, err := svc.store.FetchAllRecords(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := svc.store.LatestByMachine(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]EquipmentStatus, len(records))
	for i, r := range records {
		var last *pet.Event
		if ev, ok := latest[r.ID]; ok {
			last = &ev
		}
		out[i] = svc.Describe(r, last)
	}
	return out, nil
}
