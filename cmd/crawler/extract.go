package main

import (
	"fmt"
	"io"

	"github.com/romangod6/docs-crawler/internal/models"
	"github.com/spf13/cobra"
)

func newExtractCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "extract <url>",
		Short: "Fetch one page and print its extracted content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := a.newCrawler(nil).ExtractURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), content)
			}
			writeContent(cmd.OutOrStdout(), content)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the extraction as JSON")

	return cmd
}

func writeContent(w io.Writer, content *models.ExtractedContent) {
	fmt.Fprintf(w, "Title: %s\n", content.Title)
	if content.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", content.Description)
	}
	if len(content.Headings) > 0 {
		fmt.Fprintln(w, "\nHeadings:")
		for _, h := range content.Headings {
			fmt.Fprintf(w, "  h%d %s\n", h.Level, h.Text)
		}
	}
	if len(content.CodeBlocks) > 0 {
		fmt.Fprintf(w, "\nCode blocks: %d\n", len(content.CodeBlocks))
	}
	fmt.Fprintf(w, "\n%s\n", content.Content)
}
