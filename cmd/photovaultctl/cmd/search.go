package cmd

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// queryItem mirrors query.Item's JSON shape for display purposes.
type queryItem struct {
	FileID   int64    `json:"FileID"`
	Path     string   `json:"Path"`
	Folder   string   `json:"Folder"`
	Filename string   `json:"Filename"`
	Score    float64  `json:"Score"`
	Badges   []string `json:"Badges"`
}

type queryResult struct {
	Items      []queryItem `json:"Items"`
	Truncated  bool        `json:"Truncated"`
	TookMillis int64       `json:"TookMillis"`
}

func printResult(res *queryResult) {
	for _, item := range res.Items {
		out.Statusf("", "%-8d %-40s score=%.4f %v", item.FileID, item.Filename, item.Score, item.Badges)
	}
	if res.Truncated {
		out.Warning("results truncated by the query deadline")
	}
	out.Statusf("", "%d result(s) in %dms", len(res.Items), res.TookMillis)
}

func newSearchCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "search",
		Short: "Run a query against photovaultd",
	}
	c.AddCommand(newSearchTextCmd())
	c.AddCommand(newSearchSemanticCmd())
	c.AddCommand(newSearchImageCmd())
	c.AddCommand(newSearchFacesCmd())
	c.AddCommand(newSearchCombinedCmd())
	return c
}

func newSearchTextCmd() *cobra.Command {
	var folder string
	var limit, offset int
	c := &cobra.Command{
		Use:   "text [query]",
		Short: "Full-text search over filenames, folders, EXIF, and OCR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{
				"q":      {args[0]},
				"folder": {folder},
				"limit":  {strconv.Itoa(limit)},
				"offset": {strconv.Itoa(offset)},
			}
			var res queryResult
			if err := client.do("GET", "/search", q, nil, &res); err != nil {
				return err
			}
			printResult(&res)
			return nil
		},
	}
	c.Flags().StringVar(&folder, "folder", "", "restrict to a folder prefix")
	c.Flags().IntVar(&limit, "limit", 50, "maximum results")
	c.Flags().IntVar(&offset, "offset", 0, "result offset")
	return c
}

func newSearchSemanticCmd() *cobra.Command {
	var topK int
	c := &cobra.Command{
		Use:   "semantic [prompt]",
		Short: "Semantic (text-to-image) search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res queryResult
			body := map[string]any{"text": args[0], "top_k": topK}
			if err := client.do("POST", "/search/semantic", nil, body, &res); err != nil {
				return err
			}
			printResult(&res)
			return nil
		},
	}
	c.Flags().IntVar(&topK, "top-k", 50, "maximum results")
	return c
}

func newSearchImageCmd() *cobra.Command {
	var topK int
	c := &cobra.Command{
		Use:   "image [path]",
		Short: "Image-to-image similarity search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res queryResult
			if err := client.uploadImage("/search/image", args[0], topK, &res); err != nil {
				return err
			}
			printResult(&res)
			return nil
		},
	}
	c.Flags().IntVar(&topK, "top-k", 50, "maximum results")
	return c
}

func newSearchCombinedCmd() *cobra.Command {
	var folder string
	var topK int
	c := &cobra.Command{
		Use:   "combined [query]",
		Short: "Text and semantic search, fused into one ranking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res queryResult
			body := map[string]any{"text": args[0], "folder": folder, "top_k": topK}
			if err := client.do("POST", "/search/combined", nil, body, &res); err != nil {
				return err
			}
			printResult(&res)
			return nil
		},
	}
	c.Flags().StringVar(&folder, "folder", "", "restrict to a folder prefix")
	c.Flags().IntVar(&topK, "top-k", 50, "maximum results")
	return c
}

func newSearchFacesCmd() *cobra.Command {
	var topK int
	c := &cobra.Command{
		Use:   "faces [person-id]",
		Short: "Search photos containing an enrolled person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			personID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid person id %q", args[0])
			}
			var res queryResult
			body := map[string]any{"person_id": personID, "top_k": topK}
			if err := client.do("POST", "/search/faces", nil, body, &res); err != nil {
				return err
			}
			printResult(&res)
			return nil
		},
	}
	c.Flags().IntVar(&topK, "top-k", 50, "maximum results")
	return c
}
