package main

import (
	"github.com/spf13/cobra"

	"bonsaipay/internal/config"
)

type rootFlags struct {
	envFiles []string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "bonsaipayd",
		Short:         "Identity-bound proof to transaction service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(flags.envFiles...)
		},
	}
	cmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", nil, "dotenv files to load (default .env)")

	cmd.AddCommand(newServeCmd(), newClaimIDCmd(), newConfigCmd())
	return cmd
}
