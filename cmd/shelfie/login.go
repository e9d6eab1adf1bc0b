package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(statusCmd)
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "Username to show in status")
}

var loginUsername string

var loginCmd = &cobra.Command{
	Use:   "login <user-id> <token>",
	Short: "Store the viewer id and token in ~/.shelfie/config.toml",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}

		cfg.Auth.UserID = args[0]
		cfg.Auth.Token = args[1]
		if loginUsername != "" {
			cfg.Auth.Username = loginUsername
		}
		if err := saveConfig(cfg); err != nil {
			return errors.Wrap(err, "failed to save config")
		}

		path, _ := configPath()
		fmt.Printf("Signed in as %s. Credentials saved to %s\n", args[0], path)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and check the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:      %s\n", valueOrDefault(cfg.Default.BaseURL, "(default)"))
		fmt.Printf("  Poll interval: %s\n", valueOrDefault(cfg.Default.PollInterval, "(default)"))
		fmt.Println()
		fmt.Println("Auth:")
		fmt.Printf("  User ID:       %s\n", valueOrDefault(cfg.Auth.UserID, "(not signed in)"))
		if cfg.Auth.Username != "" {
			fmt.Printf("  Username:      %s\n", cfg.Auth.Username)
		}
		if cfg.Auth.Token != "" {
			fmt.Printf("  Token:         %s\n", maskKey(cfg.Auth.Token))
		} else {
			fmt.Println("  Token:         (not set)")
		}

		if cfg.Auth.UserID == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")
		ctx, cancel := requestContext()
		defer cancel()
		start := time.Now()
		convs, err := getClient(cfg).ListConversations(ctx, cfg.Auth.UserID)
		if err != nil {
			fmt.Printf("  Error: %s\n", userError(err))
			return nil
		}
		fmt.Printf("  Reachable in %s, %d conversations\n", time.Since(start).Round(time.Millisecond), len(convs))
		return nil
	},
}
