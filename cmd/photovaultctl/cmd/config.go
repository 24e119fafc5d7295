package cmd

import (
	"fmt"

	"github.com/localphoto/photovault/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "View and change photovaultd's live configuration",
	}
	c.AddCommand(newConfigGetCmd())
	c.AddCommand(newConfigSetRootsCmd())
	c.AddCommand(newConfigSetCmd())
	c.AddCommand(newConfigBackupCmd())
	c.AddCommand(newConfigListBackupsCmd())
	c.AddCommand(newConfigRestoreCmd())
	return c
}

// newConfigBackupCmd, newConfigListBackupsCmd, and newConfigRestoreCmd
// operate on the user config file directly — unlike get/set-roots/set,
// they don't need a running photovaultd, since they manage the file
// photovaultd reads at startup rather than its live in-memory state.
func newConfigBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Save a timestamped copy of the user config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.BackupUserConfig()
			if err != nil {
				return err
			}
			if path == "" {
				out.Statusf("", "no user config file to back up")
				return nil
			}
			out.Successf("backed up to %s", path)
			return nil
		},
	}
}

func newConfigListBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-backups",
		Short: "List user config backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			backups, err := config.ListUserConfigBackups()
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				out.Statusf("", "no backups found")
				return nil
			}
			for _, b := range backups {
				fmt.Println(b)
			}
			return nil
		},
	}
}

func newConfigRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore [backup-path]",
		Short: "Restore the user config from a backup file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.RestoreUserConfig(args[0]); err != nil {
				return err
			}
			out.Success("config restored; restart photovaultd to pick it up")
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the running configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg map[string]any
			if err := client.do("GET", "/config", nil, nil, &cfg); err != nil {
				return err
			}
			for k, v := range cfg {
				out.Statusf("", "%s = %v", k, v)
			}
			return nil
		},
	}
}

func newConfigSetRootsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-roots [dir...]",
		Short: "Replace the list of indexed root directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"roots": args}
			if err := client.do("POST", "/config/roots", nil, body, nil); err != nil {
				return err
			}
			out.Success("roots updated")
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	var fusionMethod string
	var rrfConstant float64
	var faceSearch bool
	var faceThreshold float64
	var indexWorkers int
	var logLevel string
	c := &cobra.Command{
		Use:   "set",
		Short: "Update individual configuration fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if cmd.Flags().Changed("fusion-method") {
				body["fusion_method"] = fusionMethod
			}
			if cmd.Flags().Changed("rrf-constant") {
				body["rrf_constant"] = rrfConstant
			}
			if cmd.Flags().Changed("face-search") {
				body["face_search_enabled"] = faceSearch
			}
			if cmd.Flags().Changed("face-threshold") {
				body["face_match_threshold"] = faceThreshold
			}
			if cmd.Flags().Changed("index-workers") {
				body["index_workers"] = indexWorkers
			}
			if cmd.Flags().Changed("log-level") {
				body["log_level"] = logLevel
			}
			if err := client.do("POST", "/config", nil, body, nil); err != nil {
				return err
			}
			out.Success("configuration updated")
			return nil
		},
	}
	c.Flags().StringVar(&fusionMethod, "fusion-method", "", "rank fusion method (rrf|weighted_sum|borda)")
	c.Flags().Float64Var(&rrfConstant, "rrf-constant", 0, "reciprocal rank fusion constant k")
	c.Flags().BoolVar(&faceSearch, "face-search", false, "enable face search")
	c.Flags().Float64Var(&faceThreshold, "face-threshold", 0, "minimum face match score")
	c.Flags().IntVar(&indexWorkers, "index-workers", 0, "indexing worker pool size")
	c.Flags().StringVar(&logLevel, "log-level", "", "log level (debug|info|warn|error)")
	return c
}
