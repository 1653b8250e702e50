package pet

import (
	"fmt"
	"sort"
	"strings"
)

// Policy decides how much XP an action is worth and how much XP a level needs.
type Policy interface {
	// XPFor returns the reward for an action label. Never negative; unknown
	// labels get a default reward instead of being rejected.
	XPFor(action string) int
	// Threshold returns the XP needed to advance from level to level+1.
	Threshold(level int) int
	// Name identifies the policy in logs and API output.
	Name() string
}

const (
	PolicyTiered = "tiered"
	PolicyFlat   = "flat"
)

// Tier names of the default reward table.
const (
	TierDaily      = "daily"
	TierWeekly     = "weekly"
	TierWeeklyPlus = "weekly_plus"
	TierSpecial    = "special"
)

// RewardTable maps free-text action labels to tiers and tiers to XP.
type RewardTable struct {
	Tiers     map[string]int    // tier -> xp
	Actions   map[string]string // label -> tier
	DefaultXP int
}

// DefaultRewardTable returns the workshop's care catalog.
func DefaultRewardTable() RewardTable {
	actions := map[string]string{}
	for tier, labels := range map[string][]string{
		TierDaily:      {"給油", "洗車", "空気圧チェック", "ランプチェック"},
		TierWeekly:     {"日常点検", "作動油チェック", "グリスアップ", "フィルター交換"},
		TierWeeklyPlus: {"オイル交換", "バッテリー交換"},
		TierSpecial:    {"修理", "部品交換", "車検", "オーバーホール"},
	} {
		for _, l := range labels {
			actions[l] = tier
		}
	}
	return RewardTable{
		Tiers: map[string]int{
			TierDaily:      10,
			TierWeekly:     30,
			TierWeeklyPlus: 50,
			TierSpecial:    100,
		},
		Actions:   actions,
		DefaultXP: 5,
	}
}

// Lookup returns the tier and XP for a label. ok is false when the label is
// not in the catalog and the default reward applies.
func (t RewardTable) Lookup(action string) (tier string, xp int, ok bool) {
	tier, ok = t.Actions[strings.TrimSpace(action)]
	if !ok {
		return "", t.defaultXP(), false
	}
	xp, found := t.Tiers[tier]
	if !found || xp < 0 {
		return tier, t.defaultXP(), false
	}
	return tier, xp, true
}

func (t RewardTable) defaultXP() int {
	if t.DefaultXP < 0 {
		return 0
	}
	return t.DefaultXP
}

// Validate reports labels that point at tiers missing from the table.
func (t RewardTable) Validate() error {
	for label, tier := range t.Actions {
		if _, ok := t.Tiers[tier]; !ok {
			return fmt.Errorf("pet: action %q refers to unknown tier %q", label, tier)
		}
	}
	return nil
}

// CatalogEntry is one action label with its tier and reward.
type CatalogEntry struct {
	Label string `json:"label"`
	Tier  string `json:"tier"`
	XP    int    `json:"xp"`
}

// Catalog lists the known actions ordered by reward, then label.
func (t RewardTable) Catalog() []CatalogEntry {
	out := make([]CatalogEntry, 0, len(t.Actions))
	for label, tier := range t.Actions {
		_, xp, _ := t.Lookup(label)
		out = append(out, CatalogEntry{Label: label, Tier: tier, XP: xp})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].XP != out[j].XP {
			return out[i].XP < out[j].XP
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// TieredPolicy rewards by catalog tier and needs Base + level*PerLevel XP per level.
type TieredPolicy struct {
	Table    RewardTable
	Base     int
	PerLevel int
}

func (p TieredPolicy) XPFor(action string) int {
	_, xp, _ := p.Table.Lookup(action)
	return xp
}

func (p TieredPolicy) Threshold(level int) int {
	return p.Base + level*p.PerLevel
}

func (p TieredPolicy) Name() string { return PolicyTiered }

// FlatPolicy awards the same XP for every action and uses a constant threshold.
type FlatPolicy struct {
	XPPerAction int
	LevelXP     int
}

func (p FlatPolicy) XPFor(string) int {
	if p.XPPerAction < 0 {
		return 0
	}
	return p.XPPerAction
}

func (p FlatPolicy) Threshold(int) int { return p.LevelXP }

func (p FlatPolicy) Name() string { return PolicyFlat }

// DefaultTieredPolicy is the maintenance-log scheme: catalog tiers, 100+level*10.
func DefaultTieredPolicy() TieredPolicy {
	return TieredPolicy{Table: DefaultRewardTable(), Base: 100, PerLevel: 10}
}

// DefaultFlatPolicy is the quick-care scheme: 25 XP per action, 100 per level.
func DefaultFlatPolicy() FlatPolicy {
	return FlatPolicy{XPPerAction: 25, LevelXP: 100}
}

// NewPolicy selects a policy by name. An empty name means tiered.
func NewPolicy(name string, tiered TieredPolicy, flat FlatPolicy) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyTiered:
		if err := tiered.Table.Validate(); err != nil {
			return nil, err
		}
		return tiered, nil
	case PolicyFlat:
		return flat, nil
	default:
		return nil, fmt.Errorf("pet: unknown policy %q", name)
	}
}

// threshold guards the level-up loop against a misconfigured policy.
func threshold(p Policy, level int) int {
	if t := p.Threshold(level); t > 0 {
		return t
	}
	return 1
}
