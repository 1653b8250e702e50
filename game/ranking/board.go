// Package ranking keeps the level leaderboard in a cache sorted set, with the
// database as the fallback and source of truth.
package ranking

import (
	"context"
	"fmt"

	"github.com/kasuganosora/equipets/cache"
	"github.com/kasuganosora/equipets/game/pet"
	"github.com/kasuganosora/equipets/model"
	"go.uber.org/zap"
)

const (
	// ZKey is the sorted set holding machine ids scored by Score.
	ZKey = "ranking:level"
	// Top is the largest page the board serves.
	Top = 100
	// xpSpan separates levels in the packed score; xp below it never
	// reaches the next level's band.
	xpSpan = 1_000_000
)

// Source is the store view the board reads.
type Source interface {
	Ranking(ctx context.Context, limit int) ([]model.Equipment, error)
	EquipmentByIDs(ctx context.Context, ids []string) (map[string]model.Equipment, error)
}

// Entry is one row of the leaderboard.
type Entry struct {
	Rank      int    `json:"rank"`
	MachineID string `json:"machine_id"`
	Name      string `json:"machine_name"`
	Level     int    `json:"level"`
	XP        int    `json:"xp"`
	Health    int    `json:"health"`
}

// Board serves and maintains the leaderboard.
type Board struct {
	src    Source
	cache  cache.Cache
	logger *zap.Logger
}

// NewBoard creates a Board.
func NewBoard(src Source, c cache.Cache, logger *zap.Logger) *Board {
	return &Board{src: src, cache: c, logger: logger}
}

// Score packs level and xp so that ordering by score is level desc, xp desc.
func Score(level, xp int) float64 {
	if xp >= xpSpan {
		xp = xpSpan - 1
	}
	return float64(level)*xpSpan + float64(xp)
}

// ClampLimit bounds a requested page size to [1, Top], defaulting to 20.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > Top {
		return Top
	}
	return limit
}

// TopN returns the best limit items, from the cache when it is populated.
func (b *Board) TopN(ctx context.Context, limit int) ([]Entry, error) {
	limit = ClampLimit(limit)
	members, err := b.cache.ZRevRange(ctx, ZKey, 0, int64(limit-1))
	if err == nil && len(members) > 0 {
		rows, err := b.src.EquipmentByIDs(ctx, members)
		if err != nil {
			return nil, err
		}
		entries := make([]Entry, 0, len(members))
		for _, id := range members {
			eq, ok := rows[id]
			if !ok {
				continue
			}
			entries = append(entries, entryOf(len(entries)+1, eq))
		}
		return entries, nil
	}
	if err != nil {
		b.logger.Warn("ranking cache read failed, using db", zap.Error(err))
	}

	rows, err := b.src.Ranking(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ranking: %w", err)
	}
	entries := make([]Entry, len(rows))
	for i, eq := range rows {
		entries[i] = entryOf(i+1, eq)
		_ = b.cache.ZAdd(ctx, ZKey, Score(eq.Level, eq.XP), eq.MachineID)
	}
	return entries, nil
}

func entryOf(rank int, eq model.Equipment) Entry {
	return Entry{
		Rank:      rank,
		MachineID: eq.MachineID,
		Name:      eq.Name,
		Level:     eq.Level,
		XP:        eq.XP,
		Health:    eq.Health,
	}
}

// Refresh rebuilds the sorted set from the database and returns its size.
func (b *Board) Refresh(ctx context.Context) (int, error) {
	rows, err := b.src.Ranking(ctx, Top)
	if err != nil {
		return 0, fmt.Errorf("ranking refresh: %w", err)
	}
	if err := b.cache.Del(ctx, ZKey); err != nil {
		return 0, err
	}
	for _, eq := range rows {
		if err := b.cache.ZAdd(ctx, ZKey, Score(eq.Level, eq.XP), eq.MachineID); err != nil {
			return 0, err
		}
	}
	b.logger.Debug("ranking refreshed", zap.Int("entries", len(rows)))
	return len(rows), nil
}

// Update moves one item after its level or xp changed.
func (b *Board) Update(ctx context.Context, r pet.Record) error {
	return b.cache.ZAdd(ctx, ZKey, Score(r.Level, r.XP), r.ID)
}
