package model

import (
	"time"

	"github.com/kasuganosora/equipets/game/pet"
)

// Equipment is one row of the equipment list. Level, XP and Health carry no
// gorm defaults: a default tag would make gorm skip an explicit zero health.
type Equipment struct {
	MachineID   string     `gorm:"primaryKey;size:64" json:"machine_id"`
	Name        string     `gorm:"size:128" json:"machine_name"`
	StatusNow   string     `gorm:"size:64" json:"status_now"`
	Level       int        `gorm:"not null" json:"level"`
	XP          int        `gorm:"not null" json:"xp"`
	Health      int        `gorm:"not null" json:"health"`
	LastCaredAt *time.Time `gorm:"index:idx_equipment_last_cared" json:"last_cared_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Equipment) TableName() string { return "equipment" }

// NewEquipment returns a row at baseline progression values.
func NewEquipment(machineID, name string) *Equipment {
	return &Equipment{
		MachineID: machineID,
		Name:      name,
		Level:     pet.DefaultLevel,
		XP:        pet.DefaultXP,
		Health:    pet.DefaultHealth,
	}
}

// Record returns the progression snapshot of this row.
func (e *Equipment) Record() pet.Record {
	r := pet.Record{
		ID:     e.MachineID,
		Level:  e.Level,
		XP:     e.XP,
		Health: e.Health,
	}
	if e.LastCaredAt != nil {
		t := *e.LastCaredAt
		r.LastCaredAt = &t
	}
	return r.Normalized()
}

// SetRecord copies progression state back onto the row. The id is not touched.
func (e *Equipment) SetRecord(r pet.Record) {
	e.Level = r.Level
	e.XP = r.XP
	e.Health = r.Health
	e.LastCaredAt = nil
	if r.LastCaredAt != nil {
		t := *r.LastCaredAt
		e.LastCaredAt = &t
	}
}
