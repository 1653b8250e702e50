package rest_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRanking(t *testing.T, e *testEnv) {
	t.Helper()
	e.seed(t, "FL-01", "one", 2, 10, 100, 0)
	e.seed(t, "FL-02", "two", 5, 0, 100, 0)
	e.seed(t, "FL-03", "three", 2, 40, 100, 0)
	e.seed(t, "FL-04", "four", 1, 0, 100, 0)
}

func rankingIDs(t *testing.T, body map[string]interface{}) []string {
	t.Helper()
	rows := body["ranking"].([]interface{})
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.(map[string]interface{})["machine_id"].(string)
	}
	return ids
}

func TestRanking_TopLevel_FromDB(t *testing.T) {
	e := newTestEnv(t)
	seedRanking(t, e)

	w := getJSON(e.r, "/api/ranking/level")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, []string{"FL-02", "FL-03", "FL-01", "FL-04"}, rankingIDs(t, body))
	first := body["ranking"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, float64(1), first["rank"])
	assert.Equal(t, float64(5), first["level"])
}

func TestRanking_TopLevel_LimitParam(t *testing.T) {
	e := newTestEnv(t)
	seedRanking(t, e)

	w := getJSON(e.r, "/api/ranking/level?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"FL-02", "FL-03"}, rankingIDs(t, decode(t, w)))
}

func TestRanking_TopLevel_FromCache(t *testing.T) {
	e := newTestEnv(t)
	seedRanking(t, e)

	// First call populates the sorted set via the DB fallback.
	require.Equal(t, http.StatusOK, getJSON(e.r, "/api/ranking/level").Code)

	// A cache-only bump reorders the board without touching the DB ordering.
	rec, err := e.store.FetchRecord(context.Background(), "FL-04")
	require.NoError(t, err)
	rec.Level = 9
	require.NoError(t, e.board.Update(context.Background(), rec))

	w := getJSON(e.r, "/api/ranking/level")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "FL-04", rankingIDs(t, decode(t, w))[0])
}

func TestRanking_Refresh(t *testing.T) {
	e := newTestEnv(t)
	seedRanking(t, e)

	w := postJSON(e.r, "/api/ranking/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(4), decode(t, w)["refreshed"])
}
