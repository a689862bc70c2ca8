package main

import (
	"errors"
	"fmt"
	"os"

	"git.sr.ht/~jakintosh/setpass/pkg/client"
	"github.com/spf13/cobra"
)

func provisionCmd() *cobra.Command {
	var (
		server   string
		pin      string
		password string
	)

	cmd := &cobra.Command{
		Use:   "provision <user_id>",
		Short: "Create or refresh a user's reset token",
		Long: `Create or refresh a user's reset token and print it.

The admin Keystone token is read from OS_TOKEN. Both --pin and --password
are required for a user without a pending request.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adminToken := os.Getenv("OS_TOKEN")
			if adminToken == "" {
				return errors.New("OS_TOKEN is not set")
			}

			var req client.ProvisionRequest
			if cmd.Flags().Changed("pin") {
				req.Pin = client.String(pin)
			}
			if cmd.Flags().Changed("password") {
				req.Password = client.String(password)
			}

			token, err := client.New(server).Provision(cmd.Context(), adminToken, args[0], req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:5000", "setpass base URL")
	cmd.Flags().StringVar(&pin, "pin", "", "4-digit PIN")
	cmd.Flags().StringVar(&password, "password", "", "current password")
	return cmd
}
