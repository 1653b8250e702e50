// Package cli holds the equipets command line: the HTTP server plus one-shot
// maintenance commands that share its configuration.
package cli

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "config/config.yaml"

// NewRootCmd builds the equipets command tree.
func NewRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "equipets",
		Short:         "Equipment care tracker with pet-style progression",
		Long:          "equipets turns routine equipment maintenance into levels, XP and health, and decays items that are left alone.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to the YAML config file")

	cfg := func() string { return cfgPath }
	root.AddCommand(
		newServeCmd(cfg),
		newDecayCmd(cfg),
		newProcessCmd(cfg),
		newImportCmd(cfg),
		newExportCmd(cfg),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
