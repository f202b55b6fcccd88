package cmd

import (
	"github.com/spf13/cobra"

	"disgb/internal/logger"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "disgb",
	Short: "DisGB - distributed geo-context broker",
	Long: `DisGB runs one broker of a federation of geo-context brokers. Each broker owns a
geographic area, and forwards messages to the peers whose areas they reach.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel("debug")
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(brokerCmd)
	rootCmd.AddCommand(areasCmd)
}
