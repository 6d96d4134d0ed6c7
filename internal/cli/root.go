// Package cli is the licensectl command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/coder/quartz"
	"github.com/fatih/color"
	"github.com/kiranshivaraju/licensectl/internal/config"
	"github.com/kiranshivaraju/licensectl/internal/service"
	"github.com/kiranshivaraju/licensectl/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// App is everything the commands run against.
type App struct {
	Config   *config.Config
	Services *service.Services
	Store    *session.Store
	// OIDC is set when the console signs in through the identity provider.
	OIDC  *session.OIDCProvider
	Log   *zap.Logger
	Clock quartz.Clock
	// Close releases the resources behind the App.
	Close func() error
}

// Builder creates the App once flags are parsed.
type Builder func(ctx context.Context, configPath string) (*App, error)

type contextKey struct{}

// NewRootCmd returns the root command. The App is built by build before any
// subcommand runs.
func NewRootCmd(build Builder) *cobra.Command {
	var (
		configPath string
		noColor    bool
	)

	cmd := &cobra.Command{
		Use:   "licensectl",
		Short: "Administer software licenses and API keys",
		Long: `licensectl manages license records, API keys and the license dashboard
of a license API server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}
			if cmd.Name() == "help" || cmd.Name() == cobra.ShellCompRequestCmd {
				return nil
			}
			app, err := build(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, app))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a licensectl.yaml config file")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable coloured output")

	cmd.AddCommand(
		loginCmd(),
		logoutCmd(),
		statusCmd(),
		licensesCmd(),
		apikeysCmd(),
		dashboardCmd(),
	)
	return cmd
}

func appFrom(cmd *cobra.Command) *App {
	app, _ := cmd.Context().Value(contextKey{}).(*App)
	return app
}

// Execute runs the command tree with args and returns the process exit code.
// Failures are printed to stderr.
func Execute(ctx context.Context, build Builder, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var built *App
	cmd := NewRootCmd(func(ctx context.Context, configPath string) (*App, error) {
		app, err := build(ctx, configPath)
		built = app
		return app, err
	})
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if built != nil && built.Close != nil {
		if cerr := built.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		printError(stderr, err)
		return 1
	}
	return 0
}

// printError renders err the way the console shows failures: session expiry
// points at login, validation failures list their fields.
func printError(w io.Writer, err error) {
	if service.IsSessionExpired(err) {
		_, _ = fmt.Fprintf(w, "%s %s Run `licensectl login`.\n", color.RedString("Error:"), service.MsgSessionExpired)
		return
	}

	var svcErr *service.Error
	if errors.As(err, &svcErr) && len(svcErr.Fields) > 1 {
		_, _ = fmt.Fprintln(w, color.RedString("Error:"), "the form has errors")
		for _, field := range sortedKeys(svcErr.Fields) {
			_, _ = fmt.Fprintf(w, "  %s: %s\n", field, svcErr.Fields[field])
		}
		return
	}
	_, _ = fmt.Fprintln(w, color.RedString("Error:"), err.Error())
}
