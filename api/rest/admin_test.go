package rest_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/kasuganosora/equipets/game/pet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmin_Metrics(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t, "FL-01", "", 1, 0, 100, 0)
	e.seed(t, "FL-02", "", 1, 0, 100, 0)
	_, err := e.store.AppendMaintenance(context.Background(), pet.Event{EquipmentID: "FL-01", Action: "給油", OccurredAt: testNow})
	require.NoError(t, err)
	e.sched.AddTicker("decay", time.Hour, func(context.Context) error { return nil })

	w := getJSON(e.r, "/api/admin/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["equipment"])
	assert.Equal(t, float64(1), body["pending_logs"])
	assert.Equal(t, "tiered", body["policy"])
	assert.Equal(t, float64(0), body["audit_dropped"])
	assert.Nil(t, body["last_decay"])
	assert.Equal(t, []interface{}{"decay"}, body["scheduler_tasks"])
}

func TestAdmin_ListSchedulerTasks(t *testing.T) {
	e := newTestEnv(t)
	e.sched.AddTicker("process_pending", time.Hour, func(context.Context) error { return nil })
	require.NoError(t, e.sched.RunNow(context.Background(), "process_pending"))

	w := getJSON(e.r, "/api/admin/scheduler")
	require.Equal(t, http.StatusOK, w.Code)
	tasks := decode(t, w)["tasks"].([]interface{})
	require.Len(t, tasks, 1)
	task := tasks[0].(map[string]interface{})
	assert.Equal(t, "process_pending", task["name"])
	assert.Equal(t, float64(1), task["runs"])
}

func TestAdmin_DecayOncePerPeriod(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t, "FL-01", "", 1, 0, 50, 10*day)
	e.seed(t, "FL-02", "", 1, 0, 50, 1*day)

	w := postJSON(e.r, "/api/admin/decay", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["ran"])
	sum := body["summary"].(map[string]interface{})
	assert.Equal(t, float64(2), sum["checked"])
	assert.Equal(t, float64(1), sum["decayed"])

	r, err := e.store.FetchRecord(context.Background(), "FL-01")
	require.NoError(t, err)
	assert.Equal(t, 40, r.Health)

	w = postJSON(e.r, "/api/admin/decay", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["ran"])
	r, err = e.store.FetchRecord(context.Background(), "FL-01")
	require.NoError(t, err)
	assert.Equal(t, 40, r.Health, "second call in the same period must not decay again")

	metrics := decode(t, getJSON(e.r, "/api/admin/metrics"))
	last := metrics["last_decay"].(map[string]interface{})
	assert.Equal(t, float64(1), last["decayed"])
}

func TestAdmin_Process(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t, "FL-01", "", 1, 0, 20, 0)
	ctx := context.Background()
	for _, a := range []string{"給油", "オイル交換"} {
		_, err := e.store.AppendMaintenance(ctx, pet.Event{EquipmentID: "FL-01", Action: a, OccurredAt: testNow})
		require.NoError(t, err)
	}
	_, err := e.store.AppendMaintenance(ctx, pet.Event{EquipmentID: "GHOST", Action: "給油", OccurredAt: testNow})
	require.NoError(t, err)

	w := postJSON(e.r, "/api/admin/process", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(3), body["processed"])
	assert.Equal(t, float64(2), body["applied"])
	assert.Equal(t, float64(1), body["failed"])

	r, err := e.store.FetchRecord(ctx, "FL-01")
	require.NoError(t, err)
	assert.Equal(t, 60, r.XP)
	assert.Equal(t, 100, r.Health)

	pending, err := e.store.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestAdmin_AuditLog(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t, "FL-01", "", 1, 0, 100, 0)
	require.Equal(t, http.StatusOK, postJSON(e.r, "/api/equipment/FL-01/maintenance", map[string]string{"action": "洗車"}).Code)

	// The audit writer is asynchronous; poll until the row lands.
	require.Eventually(t, func() bool {
		w := getJSON(e.r, "/api/admin/audit?machine_id=FL-01")
		if w.Code != http.StatusOK {
			return false
		}
		entries, _ := decode(t, w)["entries"].([]interface{})
		return len(entries) == 1
	}, 3*time.Second, 20*time.Millisecond)
}
