package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"bonsaipay/internal/domain"
)

func newClaimIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim-id <email>",
		Short: "Print the claim id (sha256 of the email) funds are held under",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := strings.TrimSpace(args[0])
			if email == "" {
				return fmt.Errorf("email is required")
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), domain.ClaimID(email).Hex())
			return err
		},
	}
}
