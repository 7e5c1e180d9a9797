package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/passvault/devserver"
)

type devServerFlags struct {
	host       string
	port       int
	autoVerify bool
	tokenTTL   time.Duration
	sweepEvery time.Duration
	tlsCert    string
	tlsKey     string
}

func newDevServerCmd(a *app) *cobra.Command {
	var f devServerFlags
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run an in-memory password service for local development",
		Long: `Run a self-contained password service on the local machine.

Accounts and credentials live in memory and are lost on exit. Verification
emails are not sent; the verification token for each signup is printed
instead, unless --auto-verify marks accounts verified immediately. The
API contract is served at /openapi.yaml and browsable at /docs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDevServer(cmd, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.host, "host", "127.0.0.1", "Interface to listen on")
	flags.IntVarP(&f.port, "port", "p", 5000, "Port to listen on")
	flags.BoolVar(&f.autoVerify, "auto-verify", false, "Mark new accounts as verified at signup")
	flags.DurationVar(&f.tokenTTL, "token-ttl", 15*time.Minute, "Lifetime of issued access tokens")
	flags.DurationVar(&f.sweepEvery, "sweep-interval", 5*time.Minute, "How often expired rate-limit state is dropped")
	flags.StringVar(&f.tlsCert, "tls-cert", "", "Path to TLS certificate file")
	flags.StringVar(&f.tlsKey, "tls-key", "", "Path to TLS key file")
	return cmd
}

// devServerHandler wraps the service routes with request logging.
func devServerHandler(srv *devserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Mount("/", srv.Router())
	return r
}

func (a *app) runDevServer(cmd *cobra.Command, f devServerFlags) error {
	if (f.tlsCert == "") != (f.tlsKey == "") {
		return errors.New("--tls-cert and --tls-key must be given together")
	}
	if f.sweepEvery <= 0 {
		return errors.New("--sweep-interval must be positive")
	}
	out := cmd.OutOrStdout()

	srv := devserver.New(
		devserver.WithLogger(a.logger),
		devserver.WithTokenTTL(f.tokenTTL),
		devserver.WithAutoVerify(f.autoVerify),
		devserver.WithSignupHook(func(email, token string) {
			fmt.Fprintf(out, "Verification token for %s: %s\n", email, token)
		}),
	)

	server := &http.Server{
		Addr:              net.JoinHostPort(f.host, strconv.Itoa(f.port)),
		Handler:           devServerHandler(srv),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		var err error
		if f.tlsCert != "" {
			err = server.ListenAndServeTLS(f.tlsCert, f.tlsKey)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()

	printBanner(out, "Development Password Service")
	fmt.Fprintf(out, "Listening on %s (docs at /docs)...\n", server.Addr)

	sweep := time.NewTicker(f.sweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-sweep.C:
			srv.Sweep()
		case <-cmd.Context().Done():
			fmt.Fprintln(out, "\nShutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	}
}
