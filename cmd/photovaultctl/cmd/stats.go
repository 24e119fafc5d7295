package cmd

import (
	"github.com/spf13/cobra"
)

type storeStats struct {
	PhotoCount     int `json:"PhotoCount"`
	ExifCount      int `json:"ExifCount"`
	EmbeddingCount int `json:"EmbeddingCount"`
	ThumbnailCount int `json:"ThumbnailCount"`
	PersonCount    int `json:"PersonCount"`
	FaceCount      int `json:"FaceCount"`
}

type statsResponse struct {
	Stats      storeStats     `json:"stats"`
	CurrentRun map[string]any `json:"current_run,omitempty"`
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show indexed photo counts and the current run, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp statsResponse
			if err := client.do("GET", "/index/stats", nil, nil, &resp); err != nil {
				return err
			}
			s := resp.Stats
			out.Statusf("", "photos=%d exif=%d embeddings=%d thumbnails=%d people=%d faces=%d",
				s.PhotoCount, s.ExifCount, s.EmbeddingCount, s.ThumbnailCount, s.PersonCount, s.FaceCount)
			if resp.CurrentRun != nil {
				out.Statusf("", "current run: %v", resp.CurrentRun)
			}
			return nil
		},
	}
}
