package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/romangod6/docs-crawler/internal/models"
	"github.com/spf13/cobra"
)

func newDiscoverCmd(a *app) *cobra.Command {
	var (
		include []string
		exclude []string
		limit   int
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "discover <url>",
		Short: "List the ranked sitemap entries of a site without crawling it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := a.newCrawler(nil).RankedEntries(cmd.Context(), args[0], include, exclude)
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			return writeEntries(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().StringSliceVar(&include, "include", nil, "only keep URLs matching these regular expressions")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "drop URLs matching these regular expressions")
	cmd.Flags().IntVar(&limit, "limit", 0, "print at most this many entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")

	return cmd
}

func writeEntries(w io.Writer, entries []models.SitemapEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tLASTMOD\tURL")
	for _, e := range entries {
		score, lastmod := "-", "-"
		if e.Score != nil {
			score = fmt.Sprintf("%.2f", *e.Score)
		}
		if e.LastMod != nil {
			lastmod = e.LastMod.Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", score, lastmod, e.URL)
	}
	fmt.Fprintf(tw, "\n%d entries\n", len(entries))
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
