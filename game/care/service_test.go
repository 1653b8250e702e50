package care_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/equipets/audit"
	"github.com/kasuganosora/equipets/config"
	"github.com/kasuganosora/equipets/game/care"
	"github.com/kasuganosora/equipets/game/pet"
	"github.com/kasuganosora/equipets/model"
	"github.com/kasuganosora/equipets/plugin/hook"
	"github.com/kasuganosora/equipets/store"
	"github.com/kasuganosora/equipets/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const day = 24 * time.Hour

type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.AuditEntry
}

func (a *recordingAuditor) Log(e audit.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *recordingAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}

type fixture struct {
	svc     *care.Service
	store   *store.Store
	hooks   *hook.HookCenter
	auditor *recordingAuditor
	clock   *time.Time
}

// hookedStore runs onFetchAll after every FetchAllRecords read; a non-nil
// return replaces the result with that error.
type hookedStore struct {
	*store.Store
	onFetchAll func() error
}

func (s *hookedStore) FetchAllRecords(ctx context.Context) ([]pet.Record, error) {
	records, err := s.Store.FetchAllRecords(ctx)
	if err == nil && s.onFetchAll != nil {
		if hookErr := s.onFetchAll(); hookErr != nil {
			return nil, hookErr
		}
	}
	return records, err
}

func newFixture(t *testing.T, policy pet.Policy) *fixture {
	t.Helper()
	return newFixtureWith(t, policy, nil)
}

func newFixtureWith(t *testing.T, policy pet.Policy, onFetchAll func(*fixture) error) *fixture {
	t.Helper()
	st := store.New(testutil.SetupTestDB(t))
	c, _ := testutil.SetupTestCache(t)
	now := time.Date(2025, 9, 9, 12, 0, 0, 0, time.UTC)
	f := &fixture{store: st, hooks: hook.NewHookCenter(), auditor: &recordingAuditor{}, clock: &now}
	var rs care.RecordStore = st
	if onFetchAll != nil {
		rs = &hookedStore{Store: st, onFetchAll: func() error { return onFetchAll(f) }}
	}
	f.svc = care.NewService(rs, care.Options{
		Policy: policy,
		Hooks:  f.hooks,
		Audit:  f.auditor,
		Cache:  c,
		Now:    func() time.Time { return *f.clock },
	}, zap.NewNop())
	return f
}

func (f *fixture) seed(t *testing.T, r pet.Record) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CreateEquipment(ctx, model.NewEquipment(r.ID, "")))
	require.NoError(t, f.store.PersistRecord(ctx, r))
}

func (f *fixture) caredAgo(d time.Duration) *time.Time {
	t := f.clock.Add(-d)
	return &t
}

func TestRecordMaintenance_Applies(t *testing.T) {
	f := newFixture(t, pet.DefaultTieredPolicy())
	ctx := audit.WithTraceID(context.Background(), "trace-1")
	f.seed(t, pet.Record{ID: "FL-01", Level: 1, XP: 0, Health: 40})

	var hooked []string
	f.hooks.Register(hook.AfterMaintenance, 0, "t", func(_ context.Context, ev string, d interface{}) (interface{}, error) {
		hooked = append(hooked, d.(*care.MaintenanceResult).Event.Action)
		return d, nil
	})

	res, err := f.svc.RecordMaintenance(ctx, " FL-01 ", "給油")
	require.NoError(t, err)
	assert.Equal(t, "trace-1", res.TraceID)
	assert.Equal(t, 10, res.Outcome.XPGained)
	assert.False(t, res.Outcome.LeveledUp)
	assert.Equal(t, []string{"給油"}, hooked)

	r, err := f.store.FetchRecord(ctx, "FL-01")
	require.NoError(t, err)
	assert.Equal(t, 10, r.XP)
	assert.Equal(t, pet.MaxHealth, r.Health)
	require.NotNil(t, r.LastCaredAt)
	assert.True(t, r.LastCaredAt.Equal(*f.clock))

	history, err := f.store.History(ctx, "FL-01", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotNil(t, history[0].ProcessedAt)
	assert.Equal(t, 10, history[0].XPGained)
	assert.Equal(t, []string{audit.ActionMaintenance}, f.auditor.actions())
}

func TestRecordMaintenance_LevelUpHook(t *testing.T) {
	f := newFixture(t, pet.DefaultFlatPolicy())
	f.seed(t, pet.Record{ID: "FL-01", Level: 1, XP: 80, Health: 100})

	var levelUps int
	f.hooks.Register(hook.OnLevelUp, 0, "t", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		levelUps++
		return d, nil
	})

	res, err := f.svc.RecordMaintenance(context.Background(), "FL-01", "anything")
	require.NoError(t, err)
	assert.True(t, res.Outcome.LeveledUp)
	assert.Equal(t, 2, res.Outcome.Record.Level)
	assert.Equal(t, 5, res.Outcome.Record.XP)
	assert.Equal(t, 1, levelUps)
}

func TestRecordMaintenance_MissingFields(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.RecordMaintenance(context.Background(), "", "給油")
	assert.ErrorIs(t, err, care.ErrMissingField)
	_, err = f.svc.RecordMaintenance(context.Background(), "FL-01", "  ")
	assert.ErrorIs(t, err, care.ErrMissingField)
}

func TestRecordMaintenance_UnknownMachineUpdatesNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.RecordMaintenance(ctx, "ghost", "給油")
	assert.ErrorIs(t, err, store.ErrNotFound)

	n, err := f.store.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	history, _ := f.store.History(ctx, "ghost", 0)
	assert.Empty(t, history)
	assert.Empty(t, f.auditor.actions())
}

func TestProcessPending(t *testing.T) {
	f := newFixture(t, pet.DefaultTieredPolicy())
	ctx := context.Background()
	f.seed(t, pet.Record{ID: "FL-01", Level: 1, XP: 100, Health: 20})

	at := f.clock.Add(-time.Hour)
	for _, ev := range []pet.Event{
		{EquipmentID: "FL-01", Action: "給油", OccurredAt: at},
		{EquipmentID: "ghost", Action: "給油", OccurredAt: at.Add(time.Minute)},
		{EquipmentID: "FL-01", Action: " ", OccurredAt: at.Add(2 * time.Minute)},
		{EquipmentID: "FL-01", Action: "修理", OccurredAt: at.Add(3 * time.Minute)},
	} {
		_, err := f.store.AppendMaintenance(ctx, ev)
		require.NoError(t, err)
	}

	sum, err := f.svc.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, care.ProcessSummary{Processed: 4, Applied: 2, LevelUps: 1, Failed: 1, Skipped: 1}, sum)

	// 100+10 = 110 reaches threshold(1) → L2 xp 0, then +100 < 120.
	r, err := f.store.FetchRecord(ctx, "FL-01")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Level)
	assert.Equal(t, 100, r.XP)
	require.NotNil(t, r.LastCaredAt)
	assert.True(t, r.LastCaredAt.Equal(at.Add(3*time.Minute)), "care time is the logged time")

	ghost, err := f.store.History(ctx, "ghost", 0)
	require.NoError(t, err)
	require.Len(t, ghost, 1)
	assert.Equal(t, "equipment not found", ghost[0].Error)

	again, err := f.svc.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Processed)
}

func TestDecayAll(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed(t, pet.Record{ID: "A", Level: 1, Health: 50, LastCaredAt: f.caredAgo(8 * day)})
	f.seed(t, pet.Record{ID: "B", Level: 1, Health: 50, LastCaredAt: f.caredAgo(6 * day)})
	f.seed(t, pet.Record{ID: "C", Level: 1, Health: 0, LastCaredAt: f.caredAgo(40 * day)})
	f.seed(t, pet.Record{ID: "D", Level: 1, Health: 90})

	var decayed []string
	f.hooks.Register(hook.OnHealthDecay, 0, "t", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		decayed = append(decayed, d.(care.DecayChange).MachineID)
		return d, nil
	})

	sum, err := f.svc.DecayAll(ctx, *f.clock)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Checked)
	assert.Equal(t, 1, sum.Decayed)
	assert.Equal(t, []care.DecayChange{{MachineID: "A", Before: 50, After: 40}}, sum.Changes)
	assert.Equal(t, []string{"A"}, decayed)

	a, _ := f.store.FetchRecord(ctx, "A")
	assert.Equal(t, 40, a.Health)
	assert.True(t, a.LastCaredAt.Equal(*f.caredAgo(8 * day)), "decay leaves the care time")

	// Unguarded: a second run decays again.
	_, err = f.svc.DecayAll(ctx, *f.clock)
	require.NoError(t, err)
	a, _ = f.store.FetchRecord(ctx, "A")
	assert.Equal(t, 30, a.Health)

	last, err := f.svc.LastDecay(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Decayed)
}

func TestDecayAll_MaintenanceDuringRunWins(t *testing.T) {
	ran := false
	f := newFixtureWith(t, pet.DefaultTieredPolicy(), func(f *fixture) error {
		if ran {
			return nil
		}
		ran = true
		res, err := f.svc.RecordMaintenance(context.Background(), "FL-01", "修理")
		if err != nil {
			return err
		}
		if res.Outcome.Record.Level != 2 {
			return fmt.Errorf("unexpected outcome %+v", res.Outcome.Record)
		}
		return nil
	})
	ctx := context.Background()
	f.seed(t, pet.Record{ID: "FL-01", Level: 1, XP: 100, Health: 50, LastCaredAt: f.caredAgo(8 * day)})

	sum, err := f.svc.DecayAll(ctx, *f.clock)
	require.NoError(t, err)
	require.True(t, ran)
	assert.Equal(t, 1, sum.Checked)
	assert.Zero(t, sum.Decayed)
	assert.Empty(t, sum.Changes)

	r, err := f.store.FetchRecord(ctx, "FL-01")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Level)
	assert.Equal(t, 90, r.XP)
	assert.Equal(t, pet.MaxHealth, r.Health)
	require.NotNil(t, r.LastCaredAt)
	assert.True(t, r.LastCaredAt.Equal(*f.clock))
}

func TestRecordMaintenance_ConcurrentCallsAllApply(t *testing.T) {
	f := newFixture(t, pet.DefaultFlatPolicy())
	ctx := context.Background()
	f.seed(t, pet.Record{ID: "FL-01", Level: 1, Health: 100})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordMaintenance(ctx, "FL-01", "給油")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// 8 x 25 = 200 XP: two level-ups at 100 each.
	r, err := f.store.FetchRecord(ctx, "FL-01")
	require.NoError(t, err)
	assert.Equal(t, 3, r.Level)
	assert.Equal(t, 0, r.XP)
}

func TestDecayTick_RetriesAfterFailedRun(t *testing.T) {
	failures := 1
	f := newFixtureWith(t, nil, func(*fixture) error {
		if failures > 0 {
			failures--
			return errors.New("db: connection reset")
		}
		return nil
	})
	ctx := context.Background()
	f.seed(t, pet.Record{ID: "A", Level: 1, Health: 50, LastCaredAt: f.caredAgo(8 * day)})

	_, ran, err := f.svc.DecayTick(ctx, day)
	assert.Error(t, err)
	assert.False(t, ran)

	*f.clock = f.clock.Add(time.Hour)
	sum, ran, err := f.svc.DecayTick(ctx, day)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, sum.Decayed)

	a, err := f.store.FetchRecord(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 40, a.Health)

	_, ran, err = f.svc.DecayTick(ctx, day)
	require.NoError(t, err)
	assert.False(t, ran, "a successful run keeps the gate")
}

func TestDecayTick_OncePerPeriod(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed(t, pet.Record{ID: "A", Level: 1, Health: 50, LastCaredAt: f.caredAgo(8 * day)})

	_, ran, err := f.svc.DecayTick(ctx, day)
	require.NoError(t, err)
	assert.True(t, ran)

	_, ran, err = f.svc.DecayTick(ctx, day)
	require.NoError(t, err)
	assert.False(t, ran)

	a, _ := f.store.FetchRecord(ctx, "A")
	assert.Equal(t, 40, a.Health)

	*f.clock = f.clock.Add(day)
	_, ran, err = f.svc.DecayTick(ctx, day)
	require.NoError(t, err)
	assert.True(t, ran)
	a, _ = f.store.FetchRecord(ctx, "A")
	assert.Equal(t, 30, a.Health)

	_, _, err = f.svc.DecayTick(ctx, 0)
	assert.Error(t, err)
}

func TestPeriodKey(t *testing.T) {
	a := time.Date(2025, 9, 9, 1, 0, 0, 0, time.UTC)
	b := time.Date(2025, 9, 9, 23, 0, 0, 0, time.UTC)
	c := time.Date(2025, 9, 10, 0, 0, 1, 0, time.UTC)
	assert.Equal(t, care.PeriodKey(a, day), care.PeriodKey(b, day))
	assert.NotEqual(t, care.PeriodKey(b, day), care.PeriodKey(c, day))
}

func TestStatuses(t *testing.T) {
	f := newFixture(t, pet.DefaultTieredPolicy())
	ctx := context.Background()
	f.seed(t, pet.Record{ID: "A", Level: 3, XP: 12, Health: 100})
	f.seed(t, pet.Record{ID: "B", Level: 1, Health: 100})

	*f.clock = f.clock.Add(-10 * day)
	_, err := f.svc.RecordMaintenance(ctx, "A", "洗車")
	require.NoError(t, err)
	*f.clock = f.clock.Add(10 * day)

	all, err := f.svc.Statuses(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "A", all[0].MachineID)
	assert.Equal(t, pet.StatusNormal, all[0].HealthStatus)
	assert.Equal(t, 22, all[0].XP)
	assert.Equal(t, 130, all[0].XPToNext)
	require.NotNil(t, all[0].LastMaintenance)
	assert.Equal(t, "洗車", all[0].LastMaintenance.Action)
	assert.Equal(t, pet.StatusNeglected, all[1].HealthStatus)
	assert.Nil(t, all[1].LastMaintenance)

	one, err := f.svc.Status(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, all[0].HealthStatus, one.HealthStatus)

	_, err = f.svc.Status(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestActionCatalog(t *testing.T) {
	assert.Len(t, newFixture(t, pet.DefaultTieredPolicy()).svc.ActionCatalog(), 14)
	assert.Nil(t, newFixture(t, pet.DefaultFlatPolicy()).svc.ActionCatalog())
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.Default().Progression
	p, err := care.PolicyFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, pet.PolicyTiered, p.Name())
	assert.Equal(t, 10, p.XPFor("給油"))
	assert.Equal(t, 110, p.Threshold(1))

	cfg.Tiered.Tiers = []config.TierConfig{{Name: "daily", XP: 12}}
	cfg.Tiered.Actions = []config.ActionConfig{{Label: "Wash", Tier: "daily"}}
	p, err = care.PolicyFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 12, p.XPFor("Wash"))
	assert.Equal(t, 5, p.XPFor("給油"))

	cfg.Tiered.Actions = append(cfg.Tiered.Actions, config.ActionConfig{Label: "x", Tier: "nope"})
	_, err = care.PolicyFromConfig(cfg)
	assert.Error(t, err)

	cfg.Policy = "flat"
	p, err = care.PolicyFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 25, p.XPFor("x"))
	assert.Equal(t, 100, p.Threshold(7))
}

func TestRuleAndBandsFromConfig(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, pet.DefaultDecayRule(), care.DecayRuleFromConfig(cfg.Decay))
	assert.Equal(t, pet.DefaultStatusBands(), care.StatusBandsFromConfig(cfg.Status))
}
