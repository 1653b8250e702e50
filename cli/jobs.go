package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/equipets/audit"
	"github.com/kasuganosora/equipets/game/care"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runContext tags one command run with a single trace id.
func runContext(cmd *cobra.Command) context.Context {
	return audit.WithTraceID(cmd.Context(), uuid.NewString())
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const warnLocalGate = "warning: cache.redis_addr is empty, so the once-per-period gate only lasts for this process; every decay run will decay again"

func newDecayCmd(cfgPath func() string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Run the health decay pass for the current period",
		Long: "Runs health decay once per configured period. A second run inside the same period is a no-op " +
			"unless --force is given; forcing decays every neglected item again.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cfgPath())
			if err != nil {
				return err
			}
			defer a.close()
			ctx := runContext(cmd)

			var (
				sum care.DecaySummary
				ran = true
			)
			if force {
				sum, err = a.care.DecayAll(ctx, time.Now())
			} else {
				if a.cfg.Cache.RedisAddr == "" {
					a.logger.Warn("decay gate is process-local without cache.redis_addr")
					fmt.Fprintln(cmd.ErrOrStderr(), warnLocalGate)
				}
				sum, ran, err = a.care.DecayTick(ctx, a.cfg.Decay.Interval)
			}
			if err != nil {
				return err
			}
			if !ran {
				fmt.Fprintln(cmd.OutOrStdout(), "decay already ran this period; use --force to run again")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip the once-per-period gate")
	return cmd
}

func newProcessCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Apply pending maintenance log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cfgPath())
			if err != nil {
				return err
			}
			defer a.close()
			sum, err := drainPending(cmd, a)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
}

// drainPending processes batches until the pending queue is empty or a
// batch leaves it no shorter.
func drainPending(cmd *cobra.Command, a *app) (care.ProcessSummary, error) {
	var total care.ProcessSummary
	ctx := runContext(cmd)
	before, err := a.store.CountPending(ctx)
	if err != nil {
		return total, err
	}
	for before > 0 {
		sum, err := a.care.ProcessPending(ctx)
		total.Processed += sum.Processed
		total.Applied += sum.Applied
		total.LevelUps += sum.LevelUps
		total.Failed += sum.Failed
		total.Skipped += sum.Skipped
		if err != nil {
			return total, err
		}
		after, err := a.store.CountPending(ctx)
		if err != nil {
			return total, err
		}
		if after >= before {
			a.logger.Warn("pending maintenance stuck", zap.Int64("pending", after))
			break
		}
		before = after
	}
	return total, nil
}
