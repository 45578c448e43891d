package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/search"
)

var (
	searchFilters search.Filters
	searchLimit   int
	searchOffset  int

	searchCmd = &cobra.Command{
		Use:   "search [query...]",
		Short: "Ranked full-text search; without a query lists the newest insights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				res, err := a.engine.SearchKnowledge(cmd.Context(), strings.Join(args, " "),
					searchFilters, searchLimit, searchOffset)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
)

func init() {
	addFilterFlags(searchCmd, &searchFilters)
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", search.DefaultLimit, "Page size")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "Page offset")
}

// addFilterFlags binds the search.Filters fields a shell user is likely to set.
func addFilterFlags(cmd *cobra.Command, f *search.Filters) {
	cmd.Flags().StringSliceVarP(&f.Categories, "category", "c", nil, "Restrict to categories (repeatable)")
	cmd.Flags().StringSliceVarP(&f.Tags, "tag", "t", nil, "Require tags (repeatable, all must match)")
	cmd.Flags().Float64Var(&f.ConfidenceMin, "min-confidence", 0, "Minimum confidence")
	cmd.Flags().StringVar(&f.SourceVideoID, "video", "", "Restrict to one source video id")
}
