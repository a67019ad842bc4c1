package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/sidekick/internal/audit"
)

func buildAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Work with the audit trail",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "verify <path>",
		Short: "Check the hash chain of an audit file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := audit.Verify(args[0])
			if err != nil {
				return fmt.Errorf("chain broken after %d entries: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chain intact: %d entries\n", n)
			return nil
		},
	})
	return cmd
}
