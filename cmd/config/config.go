package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/conf"
)

// Command creates the config command group.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Long:  "Write the default configuration as YAML. An existing file is never overwritten.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := conf.WriteDefault(path); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote default configuration to %s\n", path)
			return err
		},
	}

	cmd.AddCommand(initCmd)
	return cmd
}
