// Command fakeapi serves an in-memory license API for trying licensectl
// without a real server. Nothing is persisted.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/kiranshivaraju/licensectl/internal/apitest"
	"github.com/kiranshivaraju/licensectl/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	addr     string
	username string
	password string
	seed     int
	logLevel string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCmd(os.Stderr).ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newCmd(logOut io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "fakeapi",
		Short:         "Serve an in-memory license API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout(), logOut)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8080", "Listen address")
	cmd.Flags().StringVarP(&opts.username, "username", "u", "admin", "Console user")
	cmd.Flags().StringVarP(&opts.password, "password", "p", "admin", "Console user password")
	cmd.Flags().IntVar(&opts.seed, "seed", 40, "Number of demo licenses")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level")
	return cmd
}

// run serves until ctx is cancelled.
func run(ctx context.Context, opts options, out, logOut io.Writer) error {
	log, err := logger.New(opts.logLevel, logOut)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if opts.seed < 0 {
		return fmt.Errorf("--seed must not be negative, got %d", opts.seed)
	}

	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", opts.addr, err)
	}
	srv := apitest.NewServer(apitest.WithListener(ln), apitest.WithLogger(log))
	defer srv.Close()

	if err := srv.Store.AddUser(opts.username, opts.password, "admin"); err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	srv.Store.SeedDemo(opts.seed)

	log.Info("license API listening",
		zap.String("url", srv.BaseURL),
		zap.String("username", opts.username),
		zap.Int("licenses", opts.seed),
	)
	_, _ = fmt.Fprintf(out, "LICENSECTL_API_URL=%s\n", srv.BaseURL)

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
