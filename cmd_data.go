package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/knowledge"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/search"
)

var (
	exportFormat  string
	exportOutput  string
	exportFilters search.Filters

	importNoDedupe bool

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export insights as JSON, Markdown or CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := knowledge.ParseFormat(exportFormat)
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				out, err := a.engine.ExportKnowledge(cmd.Context(), format, &exportFilters, exportOutput)
				if err != nil {
					return err
				}
				if exportOutput != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Exported to %s\n", exportOutput)
					return nil
				}
				_, err = io.WriteString(cmd.OutOrStdout(), out)
				return err
			})
		},
	}

	importCmd = &cobra.Command{
		Use:   "import <file|->",
		Short: "Re-ingest the insights of a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open import file: %w", err)
				}
				defer f.Close()
				in = f
			}
			var opts []knowledge.StoreOption
			if importNoDedupe {
				opts = append(opts, knowledge.WithoutDedupe())
			}
			return withApp(func(a *app) error {
				res, err := a.engine.ImportKnowledge(cmd.Context(), in, opts...)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	backupCmd = &cobra.Command{
		Use:   "backup [path]",
		Short: "Write a consistent copy of the database",
		Long:  "Write a consistent copy of the database. Without a path the copy goes to a timestamped file in <data-dir>/backups.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			return withApp(func(a *app) error {
				out, err := a.engine.BackupDatabase(cmd.Context(), path)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
)

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Export format: json, markdown or csv")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to this file instead of stdout")
	addFilterFlags(exportCmd, &exportFilters)

	importCmd.Flags().BoolVar(&importNoDedupe, "no-dedupe", false, "Store every insight even when a near-identical one exists")
}
