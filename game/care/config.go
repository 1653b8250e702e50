package care

import (
	"strings"

	"github.com/kasuganosora/equipets/config"
	"github.com/kasuganosora/equipets/game/pet"
)

// RewardTableFromConfig builds the action catalog. An empty tier or action
// list keeps the built-in catalog for that half.
func RewardTableFromConfig(cfg config.TieredConfig) pet.RewardTable {
	table := pet.DefaultRewardTable()
	table.DefaultXP = cfg.DefaultXP
	if len(cfg.Tiers) > 0 {
		table.Tiers = make(map[string]int, len(cfg.Tiers))
		for _, t := range cfg.Tiers {
			table.Tiers[strings.TrimSpace(t.Name)] = t.XP
		}
	}
	if len(cfg.Actions) > 0 {
		table.Actions = make(map[string]string, len(cfg.Actions))
		for _, a := range cfg.Actions {
			table.Actions[strings.TrimSpace(a.Label)] = strings.TrimSpace(a.Tier)
		}
	}
	return table
}

// PolicyFromConfig selects and builds the configured progression policy.
func PolicyFromConfig(cfg config.ProgressionConfig) (pet.Policy, error) {
	tiered := pet.TieredPolicy{
		Table:    RewardTableFromConfig(cfg.Tiered),
		Base:     cfg.Tiered.BaseThreshold,
		PerLevel: cfg.Tiered.PerLevel,
	}
	flat := pet.FlatPolicy{XPPerAction: cfg.Flat.XPPerAction, LevelXP: cfg.Flat.Threshold}
	return pet.NewPolicy(cfg.Policy, tiered, flat)
}

func DecayRuleFromConfig(cfg config.DecayConfig) pet.DecayRule {
	return pet.DecayRule{
		NeglectThresholdDays: cfg.NeglectThresholdDays,
		HealthDecreaseAmount: cfg.HealthDecreaseAmount,
	}
}

func StatusBandsFromConfig(cfg config.StatusConfig) pet.StatusBands {
	return pet.StatusBands{
		HealthyDays: cfg.HealthyDays,
		NormalDays:  cfg.NormalDays,
		SickDays:    cfg.SickDays,
	}
}
