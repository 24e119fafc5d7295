package cmd

import (
	"github.com/spf13/cobra"

	"github.com/localphoto/photovault/internal/output"
)

var (
	serverURL string
	client    *apiClient
	out       *output.Writer
)

// NewRootCmd builds photovaultctl's command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "photovaultctl",
		Short: "Command-line client for photovaultd",
		Long:  `photovaultctl talks to a running photovaultd over HTTP to start indexing, run searches, and manage enrolled people.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			client = newAPIClient(serverURL)
			out = output.New(cmd.OutOrStdout())
			return nil
		},
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8787", "photovaultd base URL")

	root.AddCommand(newIndexCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newPeopleCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newLogsCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
