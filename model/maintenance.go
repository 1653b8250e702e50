package model

import (
	"time"

	"github.com/kasuganosora/equipets/game/pet"
)

// MaintenanceLog is one logged care action. ProcessedAt is nil until the
// action has been applied to its equipment row.
type MaintenanceLog struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	MachineID   string     `gorm:"index:idx_log_machine;size:64;not null" json:"machine_id"`
	Action      string     `gorm:"size:128;not null" json:"action"`
	OccurredAt  time.Time  `gorm:"index:idx_log_occurred;not null" json:"date"`
	ProcessedAt *time.Time `gorm:"index:idx_log_processed" json:"processed_at"`
	XPGained    int        `json:"xp_gained"`
	LeveledUp   bool       `json:"leveled_up"`
	Error       string     `gorm:"column:error_note;size:255" json:"error,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// Event converts the row into an engine event.
func (l *MaintenanceLog) Event() pet.Event {
	return pet.Event{EquipmentID: l.MachineID, Action: l.Action, OccurredAt: l.OccurredAt}
}
