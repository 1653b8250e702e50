package care

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kasuganosora/equipets/audit"
	"github.com/kasuganosora/equipets/cache"
	"github.com/kasuganosora/equipets/game/pet"
	"github.com/kasuganosora/equipets/plugin/hook"
	"go.uber.org/zap"
)

const lastDecayKey = "decay:last_run"

// DecayChange is the payload of on_health_decay hooks.
type DecayChange struct {
	MachineID string `json:"machine_id"`
	Before    int    `json:"health_before"`
	After     int    `json:"health_after"`
}

// DecaySummary reports one decay run.
type DecaySummary struct {
	TraceID string        `json:"trace_id"`
	RanAt   time.Time     `json:"ran_at"`
	Checked int           `json:"checked"`
	Decayed int           `json:"decayed"`
	Failed  int           `json:"failed"`
	Changes []DecayChange `json:"changes,omitempty"`
}

// DecayAll applies the decay rule once to every record as of now and
// persists the ones that changed. Each record is re-read under a lock before
// it is decayed, so maintenance committed after the initial listing wins.
// Records are independent: a failed write is counted and the run continues.
func (svc *Service) DecayAll(ctx context.Context, now time.Time) (DecaySummary, error) {
	sum := DecaySummary{TraceID: audit.TraceIDFrom(ctx), RanAt: now}
	records, err := svc.store.FetchAllRecords(ctx)
	if err != nil {
		return sum, fmt.Errorf("fetch records: %w", err)
	}
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Checked++
		if _, changed := pet.Decay(svc.decay, r, now); !changed {
			continue
		}
		start := time.Now()
		unlock := svc.lockMachine(r.ID)
		before, after, changed, err := svc.store.DecayRecord(ctx, r.ID, func(cur pet.Record) (pet.Record, bool) {
			return pet.Decay(svc.decay, cur, now)
		})
		unlock()
		change := DecayChange{MachineID: r.ID, Before: before.Health, After: after.Health}
		if err != nil {
			sum.Failed++
			svc.logger.Error("persist decay failed", zap.String("machine_id", r.ID), zap.Error(err))
			svc.logAudit(sum.TraceID, r.ID, audit.ActionDecay, nil, change, err, start)
			continue
		}
		if !changed {
			continue
		}
		sum.Decayed++
		sum.Changes = append(sum.Changes, change)
		svc.logAudit(sum.TraceID, r.ID, audit.ActionDecay, nil, change, nil, start)
		svc.trigger(ctx, hook.OnHealthDecay, change)
	}

	svc.logger.Info("decay run finished",
		zap.String("trace_id", sum.TraceID),
		zap.Int("checked", sum.Checked),
		zap.Int("decayed", sum.Decayed),
		zap.Int("failed", sum.Failed))
	svc.saveLastDecay(ctx, sum)
	svc.trigger(ctx, hook.AfterDecayRun, sum)
	return sum, nil
}

// PeriodKey is the cache key of the decay gate for the period containing now.
func PeriodKey(now time.Time, period time.Duration) string {
	return fmt.Sprintf("decay:period:%d", now.UTC().Truncate(period).Unix())
}

// DecayTick runs DecayAll at most once per period. Decay is not idempotent,
// so a tick fired again within the same period (restart, manual trigger,
// another replica on the same Redis) reports ran=false and changes nothing.
// A failed run releases the gate so the next tick retries.
func (svc *Service) DecayTick(ctx context.Context, period time.Duration) (sum DecaySummary, ran bool, err error) {
	now := svc.now()
	if period <= 0 {
		return sum, false, fmt.Errorf("care: decay period must be positive, got %s", period)
	}
	if svc.cache != nil {
		key := PeriodKey(now, period)
		ok, err := svc.cache.SetNX(ctx, key, now.UTC().Format(time.RFC3339), period)
		if err != nil {
			return sum, false, fmt.Errorf("decay gate: %w", err)
		}
		if !ok {
			svc.logger.Info("decay already ran this period", zap.String("gate", key))
			return sum, false, nil
		}
	}
	sum, err = svc.DecayAll(ctx, now)
	if err != nil && svc.cache != nil {
		key := PeriodKey(now, period)
		if delErr := svc.cache.Del(context.WithoutCancel(ctx), key); delErr != nil {
			svc.logger.Warn("release decay gate failed", zap.String("gate", key), zap.Error(delErr))
		}
	}
	return sum, err == nil, err
}

// LastDecay returns the summary of the most recent decay run, or nil.
func (svc *Service) LastDecay(ctx context.Context) (*DecaySummary, error) {
	if svc.cache == nil {
		return nil, nil
	}
	raw, err := svc.cache.Get(ctx, lastDecayKey)
	if cache.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sum DecaySummary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

func (svc *Service) saveLastDecay(ctx context.Context, sum DecaySummary) {
	if svc.cache == nil {
		return
	}
	sum.Changes = nil
	b, err := json.Marshal(sum)
	if err != nil {
		return
	}
	if err := svc.cache.Set(ctx, lastDecayKey, string(b), 0); err != nil {
		svc.logger.Warn("save decay summary failed", zap.Error(err))
	}
}
