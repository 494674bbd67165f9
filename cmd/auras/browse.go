package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-auras-backend/internal/services"
)

func newBrowseCmd() *cobra.Command {
	var (
		query string
		k     int
	)
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "List counterparts the user can still discover",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), stateFrom(cmd).cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			hits, err := a.svc.SearchProfiles(cmd.Context(), query, k)
			if err != nil {
				return err
			}
			return printHits(cmd, hits, strings.TrimSpace(query) != "")
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "rank candidates against free text")
	cmd.Flags().IntVar(&k, "k", 20, "maximum number of rows")
	return cmd
}

func printHits(cmd *cobra.Command, hits []services.SearchHit, scored bool) error {
	if len(hits) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "no candidates")
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	if scored {
		fmt.Fprintln(tw, "ID\tNAME\tAGE\tINTERESTS\tSCORE")
	} else {
		fmt.Fprintln(tw, "ID\tNAME\tAGE\tINTERESTS")
	}
	for _, h := range hits {
		p := h.Profile
		row := fmt.Sprintf("%s\t%s\t%d\t%s", p.ID, p.Name, p.Age, strings.Join(p.Interests, ", "))
		if scored {
			row += fmt.Sprintf("\t%.3f", h.Score)
		}
		fmt.Fprintln(tw, row)
	}
	return tw.Flush()
}
