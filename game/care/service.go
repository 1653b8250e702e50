// Package care applies the progression and decay engines to stored equipment:
// it reads a snapshot, runs the pure engine, writes the result back, and
// announces what changed through hooks and the audit log.
package care

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kasuganosora/equipets/audit"
	"github.com/kasuganosora/equipets/game/pet"
	"github.com/kasuganosora/equipets/plugin/hook"
	"github.com/kasuganosora/equipets/store"
	"go.uber.org/zap"
)

// ErrMissingField is returned when a machine id or action is blank.
var ErrMissingField = errors.New("care: machine_id and action are required")

// RecordStore is the persistence the service needs.
type RecordStore interface {
	FetchRecord(ctx context.Context, machineID string) (pet.Record, error)
	FetchAllRecords(ctx context.Context) ([]pet.Record, error)
	AppendMaintenance(ctx context.Context, ev pet.Event) (int64, error)
	CommitMaintenance(ctx context.Context, logID int64, machineID string, at time.Time, apply func(pet.Record) pet.Outcome) (pet.Record, pet.Outcome, error)
	DecayRecord(ctx context.Context, machineID string, decay func(pet.Record) (pet.Record, bool)) (before, after pet.Record, changed bool, err error)
	MarkFailed(ctx context.Context, logID int64, reason string, at time.Time) error
	FetchPendingMaintenanceEvents(ctx context.Context, limit int) ([]store.PendingEvent, error)
	LatestMaintenance(ctx context.Context, machineID string) (*pet.Event, error)
	LatestByMachine(ctx context.Context) (map[string]pet.Event, error)
}

// KV is the slice of the cache the service uses for the decay gate and the
// last-run summary.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// Auditor receives one entry per applied change.
type Auditor interface {
	Log(entry audit.AuditEntry)
}

// Options wires the engines and collaborators. Zero-valued engine settings
// fall back to the package defaults.
type Options struct {
	Policy    pet.Policy
	Decay     pet.DecayRule
	Bands     pet.StatusBands
	BatchSize int
	Hooks     *hook.HookCenter
	Audit     Auditor
	Cache     KV
	Now       func() time.Time
}

// Service orchestrates store reads, engine calls and write-backs.
type Service struct {
	store     RecordStore
	policy    pet.Policy
	decay     pet.DecayRule
	bands     pet.StatusBands
	batchSize int
	hooks     *hook.HookCenter
	audit     Auditor
	cache     KV
	now       func() time.Time
	logger    *zap.Logger
	locks     sync.Map // machine id -> *sync.Mutex
}

// NewService creates a care Service.
func NewService(st RecordStore, opts Options, logger *zap.Logger) *Service {
	if opts.Policy == nil {
		opts.Policy = pet.DefaultTieredPolicy()
	}
	if opts.Decay == (pet.DecayRule{}) {
		opts.Decay = pet.DefaultDecayRule()
	}
	if opts.Bands == (pet.StatusBands{}) {
		opts.Bands = pet.DefaultStatusBands()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.Hooks == nil {
		opts.Hooks = hook.NewHookCenter()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:     st,
		policy:    opts.Policy,
		decay:     opts.Decay,
		bands:     opts.Bands,
		batchSize: opts.BatchSize,
		hooks:     opts.Hooks,
		audit:     opts.Audit,
		cache:     opts.Cache,
		now:       opts.Now,
		logger:    logger,
	}
}

// lockMachine serializes updates of one item within this process.
func (svc *Service) lockMachine(machineID string) func() {
	v, _ := svc.locks.LoadOrStore(machineID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Policy returns the active progression policy.
func (svc *Service) Policy() pet.Policy { return svc.policy }

// ActionCatalog lists the known care actions with their rewards. The flat
// policy has no catalog and returns nil.
func (svc *Service) ActionCatalog() []pet.CatalogEntry {
	if p, ok := svc.policy.(pet.TieredPolicy); ok {
		return p.Table.Catalog()
	}
	return nil
}

// MaintenanceResult is the payload of after_maintenance and on_level_up hooks.
type MaintenanceResult struct {
	TraceID string      `json:"trace_id"`
	LogID   int64       `json:"log_id"`
	Event   pet.Event   `json:"event"`
	Before  pet.Record  `json:"before"`
	Outcome pet.Outcome `json:"outcome"`
}

// RecordMaintenance logs a care action performed now and applies it.
func (svc *Service) RecordMaintenance(ctx context.Context, machineID, action string) (*MaintenanceResult, error) {
	ev := pet.Event{
		EquipmentID: strings.TrimSpace(machineID),
		Action:      strings.TrimSpace(action),
		OccurredAt:  svc.now(),
	}
	if ev.EquipmentID == "" || ev.Action == "" {
		return nil, ErrMissingField
	}
	if _, err := svc.store.FetchRecord(ctx, ev.EquipmentID); err != nil {
		return nil, err
	}
	logID, err := svc.store.AppendMaintenance(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("append maintenance: %w", err)
	}
	return svc.apply(ctx, logID, ev)
}

// apply commits one logged event against the item's current row.
func (svc *Service) apply(ctx context.Context, logID int64, ev pet.Event) (*MaintenanceResult, error) {
	start := time.Now()
	traceID := audit.TraceIDFrom(ctx)

	unlock := svc.lockMachine(ev.EquipmentID)
	before, out, err := svc.store.CommitMaintenance(ctx, logID, ev.EquipmentID, svc.now(), func(r pet.Record) pet.Outcome {
		return pet.ApplyMaintenance(svc.policy, r, ev)
	})
	unlock()
	if err != nil {
		svc.logAudit(traceID, ev.EquipmentID, audit.ActionMaintenance, ev, nil, err, start)
		if markErr := svc.store.MarkFailed(ctx, logID, err.Error(), svc.now()); markErr != nil {
			svc.logger.Warn("mark maintenance failed", zap.Int64("log_id", logID), zap.Error(markErr))
		}
		return nil, fmt.Errorf("commit maintenance %d: %w", logID, err)
	}

	res := &MaintenanceResult{TraceID: traceID, LogID: logID, Event: ev, Before: before, Outcome: out}
	svc.logAudit(traceID, ev.EquipmentID, audit.ActionMaintenance, ev, out, nil, start)
	svc.logger.Info("maintenance applied",
		zap.String("trace_id", traceID),
		zap.String("machine_id", ev.EquipmentID),
		zap.String("action", ev.Action),
		zap.Int("xp_gained", out.XPGained),
		zap.Int("level", out.Record.Level),
		zap.Bool("leveled_up", out.LeveledUp))

	svc.trigger(ctx, hook.AfterMaintenance, res)
	if out.LeveledUp {
		svc.trigger(ctx, hook.OnLevelUp, res)
	}
	return res, nil
}

// ProcessSummary reports one pass over the pending maintenance log.
type ProcessSummary struct {
	Processed int `json:"processed"`
	Applied   int `json:"applied"`
	LevelUps  int `json:"level_ups"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ProcessPending applies pending log entries oldest first, one at a time.
// Entries for unknown machines are closed with an error note and counted as
// failures; entries with a blank id or action are closed as skipped.
func (svc *Service) ProcessPending(ctx context.Context) (ProcessSummary, error) {
	var sum ProcessSummary
	pending, err := svc.store.FetchPendingMaintenanceEvents(ctx, svc.batchSize)
	if err != nil {
		return sum, fmt.Errorf("fetch pending: %w", err)
	}
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Processed++
		ev := p.Event
		ev.EquipmentID = strings.TrimSpace(ev.EquipmentID)
		ev.Action = strings.TrimSpace(ev.Action)

		if ev.EquipmentID == "" || ev.Action == "" {
			sum.Skipped++
			svc.closeFailed(ctx, p.LogID, "skipped: blank machine_id or action")
			continue
		}
		if _, err := svc.store.FetchRecord(ctx, ev.EquipmentID); err != nil {
			sum.Failed++
			if !errors.Is(err, store.ErrNotFound) {
				svc.logger.Error("fetch record failed", zap.String("machine_id", ev.EquipmentID), zap.Error(err))
				continue
			}
			svc.logger.Warn("maintenance for unknown equipment",
				zap.Int64("log_id", p.LogID), zap.String("machine_id", ev.EquipmentID))
			svc.closeFailed(ctx, p.LogID, "equipment not found")
			continue
		}
		res, err := svc.apply(ctx, p.LogID, ev)
		if err != nil {
			sum.Failed++
			continue
		}
		sum.Applied++
		if res.Outcome.LeveledUp {
			sum.LevelUps++
		}
	}
	if sum.Processed > 0 {
		svc.logger.Info("pending maintenance processed",
			zap.Int("processed", sum.Processed),
			zap.Int("applied", sum.Applied),
			zap.Int("failed", sum.Failed),
			zap.Int("skipped", sum.Skipped))
	}
	return sum, nil
}

func (svc *Service) closeFailed(ctx context.Context, logID int64, reason string) {
	if err := svc.store.MarkFailed(ctx, logID, reason, svc.now()); err != nil {
		svc.logger.Error("close maintenance log failed", zap.Int64("log_id", logID), zap.Error(err))
	}
}

func (svc *Service) trigger(ctx context.Context, event string, data interface{}) {
	if _, err := svc.hooks.Trigger(ctx, event, data); err != nil && !errors.Is(err, hook.ErrInterrupt) {
		svc.logger.Warn("hook failed", zap.String("event", event), zap.Error(err))
	}
}

func (svc *Service) logAudit(traceID, machineID, action string, req, resp interface{}, err error, start time.Time) {
	if svc.audit == nil {
		return
	}
	entry := audit.AuditEntry{
		TraceID:    traceID,
		MachineID:  machineID,
		Action:     action,
		Request:    req,
		Response:   resp,
		DurationMs: int(time.Since(start).Milliseconds()),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	svc.audit.Log(entry)
}
