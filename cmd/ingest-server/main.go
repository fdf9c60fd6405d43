package main

import (
	"os"

	"github.com/labstack/gommon/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ingest-server",
	Short: "Pull Telegram channel history and stream new messages",
	Long:  "ingest-server polls a Telegram channel through a gateway, archives what it reads and streams new messages to subscribers over server-sent events.",
	// serve is the default
	RunE:          serveAction,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
