package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/projectchat/internal/chat"
)

func buildServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		Long: `Start the HTTP and WebSocket chat server.

The message store is migrated on startup. Graceful shutdown is handled on
SIGINT/SIGTERM: new requests are refused and every WebSocket is closed.`,
		Example: `  projectchat serve
  projectchat serve --config /etc/projectchat/production.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func buildMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the message store schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
}

func buildTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		identity chat.Identity
		expiry   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed bearer token for local testing",
		Example: `  projectchat token --user u1 --name Ada --email ada@example.com
  projectchat token --user u1 --expiry 15m`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("expiry") {
				expiry = -1
			}
			return runToken(cmd.OutOrStdout(), opts, identity, expiry)
		},
	}
	cmd.Flags().StringVar(&identity.ID, "user", "", "User id placed in the subject claim")
	cmd.Flags().StringVar(&identity.Name, "name", "", "Display name claim")
	cmd.Flags().StringVar(&identity.Email, "email", "", "Email claim")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "Token lifetime (defaults to TOKEN_EXPIRY; 0 means no expiry)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func buildUserCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage the sender profiles attached to messages",
	}

	var profile chat.Sender
	add := &cobra.Command{
		Use:   "add",
		Short: "Create or update a sender profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUserAdd(cmd.Context(), cmd.OutOrStdout(), opts, profile)
		},
	}
	add.Flags().StringVar(&profile.ID, "id", "", "User id")
	add.Flags().StringVar(&profile.Name, "name", "", "Display name")
	add.Flags().StringVar(&profile.Email, "email", "", "Email address")
	add.Flags().StringVar(&profile.Avatar, "avatar", "", "Avatar URL")
	_ = add.MarkFlagRequired("id")

	cmd.AddCommand(add)
	return cmd
}
