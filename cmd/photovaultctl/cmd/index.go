package cmd

import (
	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "index",
		Short: "Start, stop, and inspect the indexing pipeline",
	}
	c.AddCommand(newIndexStartCmd())
	c.AddCommand(newIndexStopCmd())
	c.AddCommand(newIndexStatusCmd())
	return c
}

func newIndexStartCmd() *cobra.Command {
	var full bool
	c := &cobra.Command{
		Use:   "start",
		Short: "Begin an indexing run",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			if err := client.do("POST", "/index/start", nil, map[string]bool{"full": full}, &resp); err != nil {
				return err
			}
			out.Success("indexing started")
			return nil
		},
	}
	c.Flags().BoolVar(&full, "full", false, "clear indexed_at and reindex every photo")
	return c
}

func newIndexStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Cooperatively cancel the current indexing run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.do("POST", "/index/stop", nil, nil, nil); err != nil {
				return err
			}
			out.Success("indexing stopped")
			return nil
		},
	}
}

func newIndexStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current indexing run's progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			var snapshot struct {
				State        string  `json:"state"`
				Phase        string  `json:"phase"`
				PhotosTotal  int     `json:"photos_total"`
				PhotosDone   int     `json:"photos_done"`
				ProgressPct  float64 `json:"progress_pct"`
				Errors       int     `json:"errors"`
				ErrorMessage string  `json:"error_message"`
			}
			if err := client.do("GET", "/index/status", nil, nil, &snapshot); err != nil {
				return err
			}
			out.Statusf("", "state=%s phase=%s %d/%d (%.1f%%) errors=%d",
				snapshot.State, snapshot.Phase, snapshot.PhotosDone, snapshot.PhotosTotal, snapshot.ProgressPct, snapshot.Errors)
			if snapshot.ErrorMessage != "" {
				out.Error(snapshot.ErrorMessage)
			}
			return nil
		},
	}
}
