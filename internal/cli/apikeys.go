package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kiranshivaraju/licensectl/internal/service"
	"github.com/spf13/cobra"
)

func apikeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "apikeys",
		Aliases: []string{"apikey", "keys"},
		Short:   "Manage API keys",
	}
	cmd.AddCommand(apikeysListCmd(), apikeysCreateCmd(), apikeysRevokeCmd())
	return cmd
}

func apikeysListCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []service.ReadOption
			if refresh {
				opts = append(opts, service.Fresh())
			}
			keys, err := appFrom(cmd).Services.APIKeys.List(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			writeAPIKeys(cmd.OutOrStdout(), keys)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the cached list")
	return cmd
}

func apikeysCreateCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the full key is shown once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := appFrom(cmd).Services.APIKeys.Create(cmd.Context(), service.APIKeyForm{Description: description})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "API key %s created (prefix %s).\n", created.ID, created.Prefix)
			_, _ = fmt.Fprintln(out, color.YellowString("Copy the key now. It will not be shown again:"))
			_, _ = fmt.Fprintln(out, created.Secret())
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "What the key is used for")
	return cmd
}

func apikeysRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke ID",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appFrom(cmd).Services.APIKeys.Revoke(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API key %s revoked.\n", args[0])
			return nil
		},
	}
}
