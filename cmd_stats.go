package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print counts, journal success rate, trending and most-referenced insights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(a *app) error {
				stats, err := a.engine.GetStatistics(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Check that every relationship points at existing insights",
		Long:  "Check that every relationship points at existing insights. Exits non-zero when dangling edges are found.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(a *app) error {
				report, err := a.engine.ValidateRelationships(cmd.Context())
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if report.Invalid > 0 {
					return fmt.Errorf("%d of %d relationships are dangling", report.Invalid, report.Total)
				}
				return nil
			})
		},
	}
)
