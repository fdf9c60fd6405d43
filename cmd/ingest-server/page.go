package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/labstack/gommon/log"
	"github.com/spf13/cobra"

	"uk.co.dudmesh.tgingest/internal/boot"
	"uk.co.dudmesh.tgingest/internal/model"
)

var (
	pageLimit        int
	pageStartID      int64
	pageResolveFiles bool
)

var pageCmd = &cobra.Command{
	Use:   "page <channelId>",
	Short: "Read one page of channel history and print it as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  pageAction,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <channelId> <messageId>",
	Short: "Resolve the file reference of a single message",
	Args:  cobra.ExactArgs(2),
	RunE:  resolveAction,
}

func init() {
	pageCmd.Flags().IntVar(&pageLimit, "limit", 0, "page size (default 20, max 100)")
	pageCmd.Flags().Int64Var(&pageStartID, "start-id", 0, "return messages older than this id")
	pageCmd.Flags().BoolVar(&pageResolveFiles, "resolve-files", false, "resolve file references for media messages")
	rootCmd.AddCommand(pageCmd, resolveCmd)
}

func oneShotConfig() (*config, error) {
	bootConfig, err := boot.Load()
	if err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	log.SetLevel(log.WARN)
	return newConfig(bootConfig)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func pageAction(cmd *cobra.Command, args []string) error {
	config, err := oneShotConfig()
	if err != nil {
		return err
	}
	defer config.Close()

	opts := model.FetchOptions{Limit: pageLimit, ResolveFiles: pageResolveFiles}
	if cmd.Flags().Changed("start-id") {
		opts.StartID = model.MessageIDPtr(model.MessageID(pageStartID))
	}

	page, err := config.MessageService().FetchMessages(cmd.Context(), args[0], opts)
	if err != nil {
		return fmt.Errorf("fetching messages: %w", err)
	}
	return printJSON(page)
}

func resolveAction(cmd *cobra.Command, args []string) error {
	messageID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("parse message id: %w", err)
	}

	config, err := oneShotConfig()
	if err != nil {
		return err
	}
	defer config.Close()

	fileID, err := config.MessageService().ResolveFile(cmd.Context(), args[0], model.MessageID(messageID))
	if err != nil {
		return fmt.Errorf("resolving file: %w", err)
	}
	return printJSON(struct {
		FileID *string `json:"fileId"`
	}{fileID})
}
