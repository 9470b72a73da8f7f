package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"formrpc/client"
	"formrpc/config"
	"formrpc/digest"
	"formrpc/loadbalance"
	"formrpc/logging"
	"formrpc/middleware"
	"formrpc/registry"
	"formrpc/session"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globalFlags struct {
	configPath string
	url        string
	username   string
	password   string
	hashed     bool
	digest     string
	logLevel   string
	timeout    time.Duration
}

// app is the state shared by subcommands after PersistentPreRunE.
type app struct {
	flags  globalFlags
	cfg    config.Config
	logger *zap.Logger
	closer func()
}

func newRootCmd() *cobra.Command {
	a := &app{closer: func() {}}

	root := &cobra.Command{
		Use:           "rpcctl",
		Short:         "Call form-RPC servers from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.closer()
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.flags.configPath, "config", "c", "", "TOML config file")
	f.StringVar(&a.flags.url, "url", "", "server base URL")
	f.StringVarP(&a.flags.username, "user", "u", "", "username for login")
	f.StringVarP(&a.flags.password, "password", "p", "", "password (or password hash with --hashed)")
	f.BoolVar(&a.flags.hashed, "hashed", false, "treat --password as the stored password hash")
	f.StringVar(&a.flags.digest, "digest", "", "digest algorithm (sha1, sha256, sha512)")
	f.StringVar(&a.flags.logLevel, "log-level", "", "log level (debug, info, warn, error, off)")
	f.DurationVar(&a.flags.timeout, "timeout", 0, "per-call timeout (0 = none)")

	root.AddCommand(
		newCallCmd(a),
		newLoginCmd(a),
		newMulticallCmd(a),
		newHashCmd(a),
		newKeepAliveCmd(a),
		newServeCmd(a),
	)
	return root
}

// init resolves configuration: file first, then flags on top.
func (a *app) init(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.flags.configPath != "" {
		loaded, err := config.Load(a.flags.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	fs := cmd.Flags()
	if fs.Changed("url") {
		cfg.BaseURL = a.flags.url
	}
	if fs.Changed("user") {
		cfg.Username = a.flags.username
	}
	if fs.Changed("password") {
		cfg.Password = a.flags.password
	}
	if fs.Changed("hashed") {
		cfg.PasswordHashed = a.flags.hashed
	}
	if fs.Changed("digest") {
		cfg.Digest = a.flags.digest
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = a.flags.logLevel
	}
	if fs.Changed("timeout") {
		cfg.Timeout = a.flags.timeout
	}
	a.cfg = cfg

	logger, err := logging.New(logging.ProfileRuntime, cfg.LogLevel)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

// connect builds the manager and client described by the configuration.
func (a *app) connect() (*session.Manager, *client.Client, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, nil, err
	}
	d, err := digest.ByName(a.cfg.Digest)
	if err != nil {
		return nil, nil, err
	}

	var opts []client.Option
	opts = append(opts, client.WithLogger(a.logger.Named("client")))
	if a.cfg.RateLimit > 0 {
		opts = append(opts, client.WithMiddleware(middleware.RateLimit(a.cfg.RateLimit, a.cfg.RateBurst)))
	}
	if a.cfg.Retries > 0 {
		opts = append(opts, client.WithMiddleware(middleware.Retry(a.cfg.Retries, a.cfg.RetryDelay, a.logger)))
	}
	if a.cfg.Timeout > 0 {
		opts = append(opts, client.WithMiddleware(middleware.Timeout(a.cfg.Timeout)))
	}

	if a.cfg.Discovery.Service != "" {
		reg, err := registry.NewEtcdRegistry(a.cfg.Discovery.Etcd, a.logger)
		if err != nil {
			return nil, nil, err
		}
		bal, err := loadbalance.ByName(a.cfg.Discovery.Balancer)
		if err != nil {
			reg.Close()
			return nil, nil, err
		}
		opts = append(opts, client.WithResolver(reg, a.cfg.Discovery.Service), client.WithBalancer(bal))
		prev := a.closer
		a.closer = func() { reg.Close(); prev() }
	}

	m, c := session.New(a.cfg.BaseURL,
		session.WithDigest(d),
		session.WithLogger(a.logger.Named("session")),
		session.WithKeepAliveInterval(a.cfg.KeepAliveInterval),
		session.WithClientOptions(opts...),
	)
	prev := a.closer
	a.closer = func() { m.Close(); prev() }
	return m, c, nil
}

var errNoCredentials = errors.New("--user and --password are required to log in")

// login performs the handshake with the configured credentials.
func (a *app) login(ctx context.Context, m *session.Manager) error {
	if a.cfg.Username == "" || a.cfg.Password == "" {
		return errNoCredentials
	}
	if _, err := m.Login(ctx, a.cfg.Username, a.cfg.Password, a.cfg.PasswordHashed); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}
