package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kasuganosora/equipets/archive"
	"github.com/kasuganosora/equipets/sheet"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func readSheet(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return sheet.ReadCSV(f)
}

func newImportCmd(cfgPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import equipment or maintenance log sheets from CSV",
	}
	cmd.AddCommand(newImportEquipmentCmd(cfgPath), newImportLogCmd(cfgPath))
	return cmd
}

func newImportEquipmentCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "equipment <csv>",
		Short: "Create or overwrite equipment rows from an equipment sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := readSheet(args[0])
			if err != nil {
				return err
			}
			parsed, err := sheet.ParseEquipment(rows)
			if err != nil {
				return err
			}
			a, err := loadApp(cfgPath())
			if err != nil {
				return err
			}
			defer a.close()

			ctx := runContext(cmd)
			created, updated := 0, 0
			for i := range parsed.Rows {
				isNew, err := a.store.UpsertEquipment(ctx, &parsed.Rows[i])
				if err != nil {
					return fmt.Errorf("import %s: %w", parsed.Rows[i].MachineID, err)
				}
				if isNew {
					created++
				} else {
					updated++
				}
			}
			if _, err := a.board.Refresh(ctx); err != nil {
				a.logger.Warn("ranking refresh after import failed", zap.Error(err))
			}
			a.logger.Info("equipment imported",
				zap.String("file", args[0]),
				zap.Int("created", created),
				zap.Int("updated", updated),
				zap.Int("skipped", parsed.Skipped))
			fmt.Fprintf(cmd.OutOrStdout(), "created %d, updated %d, skipped %d\n", created, updated, parsed.Skipped)
			return nil
		},
	}
}

func newImportLogCmd(cfgPath func() string) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "log <csv>",
		Short: "Append maintenance log rows as pending entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := readSheet(args[0])
			if err != nil {
				return err
			}
			parsed, err := sheet.ParseMaintenanceLog(rows, time.Now())
			if err != nil {
				return err
			}
			a, err := loadApp(cfgPath())
			if err != nil {
				return err
			}
			defer a.close()

			ctx := runContext(cmd)
			for _, ev := range parsed.Events {
				if _, err := a.store.AppendMaintenance(ctx, ev); err != nil {
					return fmt.Errorf("append %s: %w", ev.EquipmentID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d, skipped %d\n", len(parsed.Events), parsed.Skipped)
			if !apply {
				return nil
			}
			sum, err := drainPending(cmd, a)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "process the pending queue right after importing")
	return cmd
}

func newExportCmd(cfgPath func() string) *cobra.Command {
	var upload bool
	cmd := &cobra.Command{
		Use:   "export <csv>",
		Short: "Write the equipment table as CSV (\"-\" for stdout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cfgPath())
			if err != nil {
				return err
			}
			defer a.close()

			ctx := runContext(cmd)
			rows, err := a.store.ListEquipment(ctx)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if args[0] != "-" {
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := sheet.WriteEquipmentCSV(w, rows); err != nil {
				return err
			}

			if !upload {
				return nil
			}
			arc, err := archive.New(ctx, a.cfg.Archive, a.logger)
			if errors.Is(err, archive.ErrDisabled) {
				return fmt.Errorf("--upload needs archive.enabled: %w", err)
			}
			if err != nil {
				return err
			}
			key, err := arc.Upload(ctx, rows)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "uploaded %s\n", key)
			return nil
		},
	}
	cmd.Flags().BoolVar(&upload, "upload", false, "also upload the snapshot to the archive bucket")
	return cmd
}
