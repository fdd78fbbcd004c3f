// Package main is the command line entry point for the project chat server.
//
// Start the server:
//
//	projectchat serve --config projectchat.yaml
//
// Create the database schema without serving:
//
//	projectchat migrate
//
// Mint a development token and register the profile shown next to messages:
//
//	projectchat token --user u1 --name Ada
//	projectchat user add --id u1 --name Ada --email ada@example.com
//
// Settings come from the YAML file, an optional .env file and the
// environment (SERVER_PORT, JWT_SECRET, DATABASE_DRIVER, DATABASE_URL, ...).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	envFile    string
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:          "projectchat",
		Short:        "Real-time project chat server",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env",
		"Path to a dotenv file loaded into the environment if present")

	rootCmd.AddCommand(
		buildServeCmd(opts),
		buildMigrateCmd(opts),
		buildTokenCmd(opts),
		buildUserCmd(opts),
	)
	return rootCmd
}
