// Package cmd provides the shelflife command tree.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blockchaincyberpunk1/shelflife-frontend/internal/config"
	"github.com/blockchaincyberpunk1/shelflife-frontend/internal/util"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/app"
)

var (
	cfgFile  string
	logLevel string
	baseURL  string

	// application is built in PersistentPreRunE for commands that talk to the API.
	application *app.App
	fileConfig  config.FileConfig
)

var rootCmd = &cobra.Command{
	Use:   "shelflife",
	Short: "Command line client for the shelflife book tracker",
	Long: `shelflife keeps a local session with the shelflife API and lets you
manage books, shelves, reviews and account settings from the terminal.

The credential is stored according to tokenStore in config.yaml
(file by default, or redis / postgres for shared sessions).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["offline"] == "true" {
			return nil
		}
		if baseURL != "" {
			if err := os.Setenv("SHELFLIFE_BASE_URL", baseURL); err != nil {
				return err
			}
		}
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		logger := util.InitLoggerTo(os.Stderr, level)
		appCfg, err := app.FromFileConfig(cfg)
		if err != nil {
			return err
		}
		appCfg.Logger = logger
		a, err := app.New(appCfg)
		if err != nil {
			return fmt.Errorf("init: %w", err)
		}
		fileConfig = cfg
		application = a
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if application == nil {
			return nil
		}
		err := application.Close()
		application = nil
		return err
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && application != nil {
		_ = application.Close()
		application = nil
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: config.yaml, optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "",
		"API base URL (overrides config and SHELFLIFE_BASE_URL)")
}

// restored restores the stored session and fails when it is not authenticated.
func restored(cmd *cobra.Command) (*app.App, error) {
	if err := application.Session.Restore(cmd.Context()); err != nil {
		return nil, err
	}
	if !application.Session.IsAuthenticated() {
		return nil, errors.New("not logged in: run `shelflife login` first")
	}
	return application, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// secret returns the flag value, falling back to an environment variable.
func secret(value, env string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return os.Getenv(env)
}
