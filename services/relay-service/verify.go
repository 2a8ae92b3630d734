package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <reference>",
		Short: "Reconcile one transaction against the provider and print the result",
		Long: `Runs the same reconciliation as GET /payment/verify/:reference against the
configured store, including the admin notification when the status moves.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			result, err := a.engine.Verify(ctx, args[0])
			if err != nil {
				return fmt.Errorf("verify %s: %w", args[0], err)
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
