package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "dragond",
	Version: Version,
	Short:   "DRAGON-IA agent orchestration daemon",
	Long:    "dragond runs the DRAGON-IA agents (repo, test, sec, analytics, chat) behind an HTTP and WebSocket API.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env is optional; env vars still win over config values
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.dragond/config.json)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
