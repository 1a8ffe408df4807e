package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatclient/internal/config"
	"github.com/chatclient/internal/logger"
)

var (
	cfg *config.Config

	configPath string
	endpoint   string
	userID     string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "chatcli",
	Short: "Realtime chat client",
	Long: `chatcli keeps a realtime channel to the chat server open, reconciles
locally sent messages with server confirmations and serves a local inspector.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			if err := os.Setenv("CONFIG_PATH", configPath); err != nil {
				return err
			}
		}
		cfg = config.Load()
		if endpoint != "" {
			cfg.Endpoint = endpoint
		}
		if userID != "" {
			cfg.UserID = userID
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger.SetLevel(cfg.LogLevel)
		if cfg.UserID == "" {
			return fmt.Errorf("user id is required (--user or CHAT_USER_ID)")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (overrides CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "channel endpoint, ws:// or wss://")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "local user id")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info or error")

	rootCmd.AddCommand(runCmd, sendCmd)
}

func main() {
	logger.SetPrefix("chatcli")
	if err := rootCmd.Execute(); err != nil {
		logger.Sync()
		os.Exit(1)
	}
}
