package cli

import (
	"github.com/spf13/cobra"
)

var (
	flagConfig string
	flagDebug  bool
)

var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "Relationship discovery for personal records",
	Long:  "Weft ingests personal records (calendar events, transactions, tasks, notes) and discovers typed, justified relationships between them.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(suggestionsCmd)
}
