package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/kiranshivaraju/licensectl/internal/config"
	"github.com/kiranshivaraju/licensectl/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

func loginCmd() *cobra.Command {
	var (
		username string
		password string
		useOIDC  bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the license API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd)
			if useOIDC || app.Config.Auth.Mode == config.AuthModeOIDC {
				return oidcLogin(cmd, app)
			}

			in := bufio.NewReader(cmd.InOrStdin())
			var err error
			if username == "" {
				if username, err = promptLine(cmd.ErrOrStderr(), in, "Username: "); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = promptLine(cmd.ErrOrStderr(), in, "Password: "); err != nil {
					return err
				}
			}

			if err := app.Services.Auth.Login(cmd.Context(), service.LoginForm{Username: username, Password: password}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s.\n", displayName(app))
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username (prompted when empty)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (read from stdin when empty)")
	cmd.Flags().BoolVar(&useOIDC, "oidc", false, "Sign in through the identity provider with a device code")
	return cmd
}

func oidcLogin(cmd *cobra.Command, app *App) error {
	if app.OIDC == nil {
		return errors.New("OIDC sign-in is not configured: set auth.mode to oidc")
	}

	err := app.OIDC.DeviceLogin(cmd.Context(), func(resp *oauth2.DeviceAuthResponse) {
		uri := resp.VerificationURIComplete
		if uri == "" {
			uri = resp.VerificationURI
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Open %s and enter the code %s\n", color.CyanString(uri), color.New(color.Bold).Sprint(resp.UserCode))
	})
	if err != nil {
		return fmt.Errorf("device sign-in: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s.\n", displayName(app))
	return nil
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the local session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd)
			if err := app.Services.Auth.Logout(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show who is signed in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd)
			out := cmd.OutOrStdout()
			snap := app.Store.Snapshot()

			switch {
			case snap.Error != "":
				_, _ = fmt.Fprintf(out, "%s (%s). Run `licensectl login`.\n", color.RedString(service.MsgSessionExpired), snap.Error)
			case !snap.IsAuthenticated:
				_, _ = fmt.Fprintln(out, "Not signed in.")
			default:
				_, _ = fmt.Fprintf(out, "Signed in as %s", displayName(app))
				if snap.User != nil && snap.User.Role != "" {
					_, _ = fmt.Fprintf(out, " (%s)", snap.User.Role)
				}
				_, _ = fmt.Fprintln(out, ".")
				if snap.ExpiresAt != nil {
					_, _ = fmt.Fprintf(out, "Session expires %s.\n", humanize.Time(*snap.ExpiresAt))
				}
			}
			_, _ = fmt.Fprintf(out, "API: %s\n", app.Config.API.URL)
			return nil
		},
	}
}

func displayName(app *App) string {
	u := app.Store.Snapshot().User
	switch {
	case u == nil:
		return "unknown user"
	case u.Name != "":
		return u.Name
	case u.LoginName != "":
		return u.LoginName
	case u.Email != "":
		return u.Email
	default:
		return u.ID
	}
}

func promptLine(w io.Writer, in *bufio.Reader, label string) (string, error) {
	_, _ = fmt.Fprint(w, label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimSpace(line), nil
}
