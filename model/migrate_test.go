package model_test

import (
	"testing"
	"time"

	"github.com/kasuganosora/equipets/model"
	"github.com/kasuganosora/equipets/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestAutoMigrate_InsertAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)

	eq := model.NewEquipment("FL-01", "Forklift 1")
	require.NoError(t, db.Create(eq).Error)

	var found model.Equipment
	require.NoError(t, db.First(&found, "machine_id = ?", "FL-01").Error)
	assert.Equal(t, "Forklift 1", found.Name)
	assert.Equal(t, 1, found.Level)
	assert.Equal(t, 100, found.Health)
	assert.Nil(t, found.LastCaredAt)

	log := &model.MaintenanceLog{MachineID: "FL-01", Action: "給油", OccurredAt: time.Now()}
	require.NoError(t, db.Create(log).Error)
	assert.Greater(t, log.ID, int64(0))

	al := &model.AuditLog{TraceID: "trace-001", MachineID: "FL-01", Action: "maintenance",
		Request: datatypes.JSON(`{"action":"給油"}`)}
	require.NoError(t, db.Create(al).Error)
}

func TestEquipment_ZeroHealthIsStored(t *testing.T) {
	db := testutil.SetupTestDB(t)

	eq := model.NewEquipment("FL-02", "")
	eq.Health = 0
	require.NoError(t, db.Create(eq).Error)

	var found model.Equipment
	require.NoError(t, db.First(&found, "machine_id = ?", "FL-02").Error)
	assert.Equal(t, 0, found.Health)
}

func TestEquipment_RecordRoundTrip(t *testing.T) {
	cared := time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)
	eq := &model.Equipment{MachineID: "FL-03", Level: 4, XP: 12, Health: 70, LastCaredAt: &cared}

	r := eq.Record()
	assert.Equal(t, "FL-03", r.ID)
	assert.Equal(t, 4, r.Level)
	require.NotNil(t, r.LastCaredAt)

	r.Health = 20
	r.LastCaredAt = nil
	eq.SetRecord(r)
	assert.Equal(t, 20, eq.Health)
	assert.Nil(t, eq.LastCaredAt)
	assert.Equal(t, "FL-03", eq.MachineID)
}

func TestEquipment_RecordNormalizesBadRow(t *testing.T) {
	eq := &model.Equipment{MachineID: "FL-04", Level: 0, XP: -3, Health: 130}
	r := eq.Record()
	assert.Equal(t, 1, r.Level)
	assert.Equal(t, 0, r.XP)
	assert.Equal(t, 100, r.Health)
}
