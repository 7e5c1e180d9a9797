package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmcleod/passvault/api"
	"github.com/jmcleod/passvault/config"
	"github.com/jmcleod/passvault/internal/clock"
	"github.com/jmcleod/passvault/session"
	"github.com/jmcleod/passvault/storage"
	bboltstorage "github.com/jmcleod/passvault/storage/bbolt"
	"github.com/jmcleod/passvault/storage/memory"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

// app carries what the commands share for one invocation. Expensive parts
// (session, cache, client) are built on first use so that commands like
// devserver never open the cache file.
type app struct {
	configPath string
	apiURL     string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
	clock  clock.Clock

	sessions *session.Manager
	client   *api.Client
	closers  []func() error

	input *bufio.Reader
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{clock: clock.Real()}

	root := &cobra.Command{
		Use:   "passvault",
		Short: "passvault is a terminal client for a password vault service",
		Long: `Store credentials with a remote password vault and reveal them for a
short window after re-entering your master password.

Log in with "passvault login", or start "passvault shell" to keep the
session in memory for a whole interactive session.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.configure(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", config.DefaultPath(), "Path to the TOML config file")
	flags.StringVar(&a.apiURL, "api-url", "", "Password service URL (overrides config and "+config.EnvAPIURL+")")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	root.AddCommand(
		newSignupCmd(a),
		newVerifyCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newStatusCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newAddCmd(a),
		newRevealCmd(a),
		newShellCmd(a),
		newDevServerCmd(a),
	)
	return root, a
}

// Execute runs the command tree and exits 1 on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	root, a := newRootCmd()
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
		fmt.Fprintln(os.Stderr, "Error:", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}

// configure loads settings and builds the logger. Flags win over the
// environment, which wins over the file.
func (a *app) configure(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.apiURL != "" {
		cfg.APIURL = a.apiURL
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.NewLogger(cmd.ErrOrStderr())
	return nil
}

// connect builds the session manager, record cache and API client.
func (a *app) connect() error {
	if a.client != nil {
		return nil
	}

	sessions, err := session.NewManager(
		session.WithStore(session.NewEnvStore()),
		session.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}

	opts := []api.Option{
		api.WithTimeout(a.cfg.Timeout()),
		api.WithLogger(a.logger),
	}
	if a.cfg.Cache {
		cache, err := a.openCache()
		if err != nil {
			return err
		}
		opts = append(opts, api.WithCache(cache))
	}

	client, err := api.New(a.cfg.BaseURL(), sessions, opts...)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { client.Close(); return nil })
	a.sessions = sessions
	a.client = client
	return nil
}

func (a *app) openCache() (storage.RecordCache, error) {
	if a.cfg.CachePath == "" {
		return memory.NewCache(), nil
	}
	if err := os.MkdirAll(filepath.Dir(a.cfg.CachePath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	cache, err := bboltstorage.NewCacheFromFile(a.cfg.CachePath, nil)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, cache.Close)
	return cache, nil
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// readLine reads one line of input without the trailing newline. A final
// line without a newline is returned as is; io.EOF is returned only when
// there is nothing left.
func (a *app) readLine(cmd *cobra.Command) (string, error) {
	if a.input == nil {
		a.input = bufio.NewReader(cmd.InOrStdin())
	}
	line, err := a.input.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
