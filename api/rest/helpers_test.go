package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/equipets/api/rest"
	"github.com/kasuganosora/equipets/audit"
	"github.com/kasuganosora/equipets/game/care"
	"github.com/kasuganosora/equipets/game/pet"
	"github.com/kasuganosora/equipets/game/ranking"
	"github.com/kasuganosora/equipets/model"
	"github.com/kasuganosora/equipets/scheduler"
	"github.com/kasuganosora/equipets/store"
	"github.com/kasuganosora/equipets/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const day = 24 * time.Hour

var testNow = time.Date(2025, 9, 9, 12, 0, 0, 0, time.UTC)

func nopLogger() *zap.Logger { return zap.NewNop() }

type testEnv struct {
	r     *gin.Engine
	store *store.Store
	care  *care.Service
	board *ranking.Board
	sched *scheduler.Scheduler
	audit *audit.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	st := store.New(db)
	auditSvc := audit.NewWithOptions(db, nopLogger(), audit.Options{FlushInterval: 20 * time.Millisecond})
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })
	sched := scheduler.New(nopLogger())
	t.Cleanup(sched.Stop)

	svc := care.NewService(st, care.Options{
		Policy: pet.DefaultTieredPolicy(),
		Audit:  auditSvc,
		Cache:  c,
		Now:    func() time.Time { return testNow },
	}, nopLogger())
	board := ranking.NewBoard(st, c, nopLogger())

	r := gin.New()
	rest.RegisterRoutes(r.Group("/api"), rest.Handlers{
		Equipment: rest.NewEquipmentHandler(st, svc, nopLogger()),
		Ranking:   rest.NewRankingHandler(board, nopLogger()),
		Admin:     rest.NewAdminHandler(st, svc, sched, auditSvc, day, nopLogger()),
	})
	return &testEnv{r: r, store: st, care: svc, board: board, sched: sched, audit: auditSvc}
}

func (e *testEnv) seed(t *testing.T, id, name string, level, xp, health int, caredAgo time.Duration) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.CreateEquipment(ctx, model.NewEquipment(id, name)))
	r := pet.Record{ID: id, Level: level, XP: xp, Health: health}
	if caredAgo > 0 {
		at := testNow.Add(-caredAgo)
		r.LastCaredAt = &at
	}
	require.NoError(t, e.store.PersistRecord(ctx, r))
}

func postJSON(r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func getJSON(r *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
