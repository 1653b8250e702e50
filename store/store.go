// Package store persists equipment records and the maintenance log through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/equipets/game/pet"
	"github.com/kasuganosora/equipets/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when an equipment row or log entry does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when creating equipment whose id already exists.
	ErrDuplicate = errors.New("store: duplicate machine_id")
)

// PendingEvent is a logged maintenance action that has not been applied yet.
type PendingEvent struct {
	LogID int64
	Event pet.Event
}

// Store is the gorm-backed row store.
type Store struct {
	db *gorm.DB
}

// New wraps an opened and migrated database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that need raw queries.
func (s *Store) DB() *gorm.DB { return s.db }

// ---- equipment ----

// GetEquipment returns one equipment row.
func (s *Store) GetEquipment(ctx context.Context, machineID string) (*model.Equipment, error) {
	var eq model.Equipment
	err := s.db.WithContext(ctx).Where("machine_id = ?", machineID).First(&eq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("equipment %q: %w", machineID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &eq, nil
}

// ListEquipment returns every equipment row ordered by id.
func (s *Store) ListEquipment(ctx context.Context) ([]model.Equipment, error) {
	var rows []model.Equipment
	if err := s.db.WithContext(ctx).Order("machine_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// EquipmentByIDs loads the rows for ids, keyed by machine id. Unknown ids are
// absent from the result.
func (s *Store) EquipmentByIDs(ctx context.Context, ids []string) (map[string]model.Equipment, error) {
	out := make(map[string]model.Equipment, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []model.Equipment
	if err := s.db.WithContext(ctx).Where("machine_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.MachineID] = r
	}
	return out, nil
}

// CountEquipment returns the number of equipment rows.
func (s *Store) CountEquipment(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Equipment{}).Count(&n).Error
	return n, err
}

// CreateEquipment inserts a new row. An existing id yields ErrDuplicate.
func (s *Store) CreateEquipment(ctx context.Context, eq *model.Equipment) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.Equipment{}).Where("machine_id = ?", eq.MachineID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("equipment %q: %w", eq.MachineID, ErrDuplicate)
		}
		return tx.Create(eq).Error
	})
}

// UpsertEquipment inserts the row or overwrites an existing one with the same
// id. It reports whether a new row was created.
func (s *Store) UpsertEquipment(ctx context.Context, eq *model.Equipment) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Equipment
		err := tx.Where("machine_id = ?", eq.MachineID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			created = true
			return tx.Create(eq).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&existing).Updates(map[string]interface{}{
			"name":          eq.Name,
			"status_now":    eq.StatusNow,
			"level":         eq.Level,
			"xp":            eq.XP,
			"health":        eq.Health,
			"last_cared_at": eq.LastCaredAt,
		}).Error
	})
	return created, err
}

// Ranking returns up to limit rows ordered by level desc, then xp desc.
func (s *Store) Ranking(ctx context.Context, limit int) ([]model.Equipment, error) {
	q := s.db.WithContext(ctx).Order("level DESC, xp DESC, machine_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []model.Equipment
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ---- records ----

// FetchRecord returns the normalized progression snapshot of one item.
func (s *Store) FetchRecord(ctx context.Context, machineID string) (pet.Record, error) {
	eq, err := s.GetEquipment(ctx, machineID)
	if err != nil {
		return pet.Record{}, err
	}
	return eq.Record(), nil
}

// FetchAllRecords returns a snapshot of every item.
func (s *Store) FetchAllRecords(ctx context.Context) ([]pet.Record, error) {
	rows, err := s.ListEquipment(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]pet.Record, len(rows))
	for i := range rows {
		out[i] = rows[i].Record()
	}
	return out, nil
}

// PersistRecord writes level, xp, health and last-cared time back to the row.
func (s *Store) PersistRecord(ctx context.Context, r pet.Record) error {
	return persist(s.db.WithContext(ctx), r)
}

func persist(tx *gorm.DB, r pet.Record) error {
	res := tx.Model(&model.Equipment{}).Where("machine_id = ?", r.ID).Updates(map[string]interface{}{
		"level":         r.Level,
		"xp":            r.XP,
		"health":        r.Health,
		"last_cared_at": r.LastCaredAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("equipment %q: %w", r.ID, ErrNotFound)
	}
	return nil
}

// ---- maintenance log ----

// AppendMaintenance logs an action as pending and returns its id.
func (s *Store) AppendMaintenance(ctx context.Context, ev pet.Event) (int64, error) {
	row := &model.MaintenanceLog{
		MachineID:  ev.EquipmentID,
		Action:     ev.Action,
		OccurredAt: ev.OccurredAt,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

// CommitMaintenance applies one logged event to the current row and marks
// the log entry processed in one transaction. The row is read under a row
// lock, so apply always sees the state left by the last committed update.
func (s *Store) CommitMaintenance(ctx context.Context, logID int64, machineID string, at time.Time, apply func(pet.Record) pet.Outcome) (before pet.Record, out pet.Outcome, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		eq, err := lockEquipment(tx, machineID)
		if err != nil {
			return err
		}
		before = eq.Record()
		out = apply(before)
		if err := persist(tx, out.Record); err != nil {
			return err
		}
		return markProcessed(tx, logID, map[string]interface{}{
			"processed_at": at,
			"xp_gained":    out.XPGained,
			"leveled_up":   out.LeveledUp,
			"error_note":   "",
		})
	})
	return before, out, err
}

// DecayRecord re-reads one row under a row lock and hands it to decay. When
// decay reports a change only health is written, guarded on the progression
// values just read; a row that moved underneath reports changed=false.
func (s *Store) DecayRecord(ctx context.Context, machineID string, decay func(pet.Record) (pet.Record, bool)) (before, after pet.Record, changed bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		eq, err := lockEquipment(tx, machineID)
		if err != nil {
			return err
		}
		before = eq.Record()
		after, changed = decay(before)
		if !changed {
			return nil
		}
		res := tx.Model(&model.Equipment{}).
			Where("machine_id = ? AND level = ? AND xp = ? AND health = ?", eq.MachineID, eq.Level, eq.XP, eq.Health).
			Update("health", after.Health)
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0
		return nil
	})
	return before, after, changed, err
}

// lockEquipment reads a row with SELECT ... FOR UPDATE. The sqlite dialect
// drops the locking clause; its writers are serialized by the database lock.
func lockEquipment(tx *gorm.DB, machineID string) (*model.Equipment, error) {
	var eq model.Equipment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("machine_id = ?", machineID).First(&eq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("equipment %q: %w", machineID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &eq, nil
}

// MarkFailed closes a log entry that could not be applied.
func (s *Store) MarkFailed(ctx context.Context, logID int64, reason string, at time.Time) error {
	if len(reason) > 255 {
		reason = reason[:255]
	}
	return markProcessed(s.db.WithContext(ctx), logID, map[string]interface{}{
		"processed_at": at,
		"error_note":   reason,
	})
}

func markProcessed(tx *gorm.DB, logID int64, fields map[string]interface{}) error {
	res := tx.Model(&model.MaintenanceLog{}).Where("id = ?", logID).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("maintenance log %d: %w", logID, ErrNotFound)
	}
	return nil
}

// FetchPendingMaintenanceEvents returns unprocessed log entries, oldest first.
func (s *Store) FetchPendingMaintenanceEvents(ctx context.Context, limit int) ([]PendingEvent, error) {
	q := s.db.WithContext(ctx).Where("processed_at IS NULL").Order("occurred_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []model.MaintenanceLog
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]PendingEvent, len(rows))
	for i := range rows {
		out[i] = PendingEvent{LogID: rows[i].ID, Event: rows[i].Event()}
	}
	return out, nil
}

// CountPending returns the number of unprocessed log entries.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.MaintenanceLog{}).Where("processed_at IS NULL").Count(&n).Error
	return n, err
}

// History returns the log of one machine, newest first.
func (s *Store) History(ctx context.Context, machineID string, limit int) ([]model.MaintenanceLog, error) {
	q := s.db.WithContext(ctx).Where("machine_id = ?", machineID).Order("occurred_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []model.MaintenanceLog
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// LatestMaintenance returns the most recent applied action of a machine, or
// nil when it has none.
func (s *Store) LatestMaintenance(ctx context.Context, machineID string) (*pet.Event, error) {
	var rows []model.MaintenanceLog
	err := s.db.WithContext(ctx).
		Where("machine_id = ? AND processed_at IS NOT NULL AND error_note = ''", machineID).
		Order("occurred_at DESC, id ASC").Limit(1).Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	ev := rows[0].Event()
	return &ev, nil
}

// LatestByMachine returns the most recent applied action of every machine
// that has one.
func (s *Store) LatestByMachine(ctx context.Context) (map[string]pet.Event, error) {
	var rows []model.MaintenanceLog
	err := s.db.WithContext(ctx).
		Select("machine_id", "action", "occurred_at").
		Where("processed_at IS NOT NULL AND error_note = ''").
		Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]pet.Event)
	for i := range rows {
		grouped[rows[i].MachineID] = append(grouped[rows[i].MachineID], rows[i].Event())
	}
	out := make(map[string]pet.Event, len(grouped))
	for id, history := range grouped {
		if latest := pet.LatestMaintenance(history); latest != nil {
			out[id] = *latest
		}
	}
	return out, nil
}
