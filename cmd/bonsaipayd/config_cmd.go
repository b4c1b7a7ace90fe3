package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the service configuration",
	}
	cmd.AddCommand(newConfigCheckCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	o := &overrides{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration without starting the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd, o)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			if _, err := cfg.AccountBytecode(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			mode := "no-db"
			if cfg.PostgresDSN != "" {
				mode = "db"
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "configuration ok (chain %d, mode %s)\n", cfg.ChainID, mode)
			return err
		},
	}
	o.register(cmd)
	return cmd
}
