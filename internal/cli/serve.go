package cli

import (
	"github.com/spf13/cobra"

	"github.com/deckforge/deckd/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the deckd daemon",
	Long: `Start the generation daemon: the worker pool, the credit ledger
and the HTTP API. Interrupted jobs from a previous run are requeued at
startup.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.Load(configPath)
	if err != nil {
		return err
	}
	return daemon.Run(cfg)
}
