package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"formrpc/digest"
	"formrpc/message"
	"formrpc/multicall"
	"formrpc/registry"
	"formrpc/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCallCmd(a *app) *cobra.Command {
	var withLogin bool
	cmd := &cobra.Command{
		Use:   "call METHOD [key=value | key:=json ...]",
		Short: "Invoke one remote method and print its data",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			m, c, err := a.connect()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if withLogin {
				if err := a.login(ctx, m); err != nil {
					return err
				}
			}
			data, err := c.Call(ctx, args[0], params)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().BoolVar(&withLogin, "login", false, "log in before calling")
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var logout bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Perform the challenge-response login and print the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := a.connect()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.login(ctx, m); err != nil {
				return err
			}
			raw, err := json.Marshal(m.Session())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), raw); err != nil {
				return err
			}
			if logout {
				return m.Logout(ctx)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&logout, "logout", false, "log out again after printing the session")
	return cmd
}

// batchEntry is one element of a multicall input file.
type batchEntry struct {
	Method   string         `json:"method"`
	Params   map[string]any `json:"params"`
	Breaking bool           `json:"breaking"`
}

type batchOutput struct {
	Method  string          `json:"method"`
	Success bool            `json:"success"`
	Skipped bool            `json:"skipped,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Msg     string          `json:"msg,omitempty"`
}

func newMulticallCmd(a *app) *cobra.Command {
	var withLogin bool
	cmd := &cobra.Command{
		Use:   "multicall FILE",
		Short: "Send a JSON array of calls as one batch (FILE may be -)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			calls, err := readBatch(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			m, c, err := a.connect()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if withLogin {
				if err := a.login(ctx, m); err != nil {
					return err
				}
			}
			batch, err := multicall.New(c).Do(ctx, calls...)
			if err != nil {
				return err
			}
			out := make([]batchOutput, 0, len(batch.Results))
			for _, r := range batch.All() {
				out = append(out, batchOutput{
					Method:  r.Method,
					Success: r.OK(),
					Skipped: r.Skipped,
					Data:    r.Envelope.Data,
					Msg:     r.Envelope.Msg,
				})
			}
			raw, err := json.Marshal(out)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	cmd.Flags().BoolVar(&withLogin, "login", false, "log in before sending the batch")
	return cmd
}

func readBatch(stdin io.Reader, path string) ([]*multicall.Call, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()
	var entries []batchEntry
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}

	calls := make([]*multicall.Call, 0, len(entries))
	for i, e := range entries {
		params, err := message.ParamsOf(e.Params)
		if err != nil {
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}
		calls = append(calls, &multicall.Call{Method: e.Method, Params: params, Breaking: e.Breaking})
	}
	return calls, nil
}

func newHashCmd(a *app) *cobra.Command {
	var challenge string
	cmd := &cobra.Command{
		Use:   "hash USERNAME PASSWORD",
		Short: "Print the stored password hash (and a login proof with --challenge)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := digest.ByName(a.cfg.Digest)
			if err != nil {
				return err
			}
			hash := d.PasswordHash(args[0], args[1])
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			if challenge != "" {
				fmt.Fprintln(cmd.OutOrStdout(), d.LoginProof(hash, challenge))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&challenge, "challenge", "", "challenge token to derive a login proof for")
	return cmd
}

func newKeepAliveCmd(a *app) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "keepalive",
		Short: "Log in and keep the session alive until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := a.connect()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			if err := a.login(ctx, m); err != nil {
				return err
			}
			if err := m.KeepAlive().Start(); err != nil {
				return err
			}
			a.logger.Info("keeping session alive", zap.Duration("interval", a.cfg.KeepAliveInterval))
			<-ctx.Done()
			m.KeepAlive().Stop()
			return m.Logout(context.Background())
		},
	}
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long (0 = until interrupted)")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var (
		addr     string
		users    []string
		announce string
		service  string
		etcd     []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := digest.ByName(a.cfg.Digest)
			if err != nil {
				return err
			}
			srv := server.NewServer(server.WithDigest(d), server.WithLogger(a.logger.Named("server")))
			srv.Handle("system/echo", func(ctx context.Context, req *server.Request) (any, error) {
				out := make(map[string]string, len(req.Params))
				for k, v := range req.Params {
					out[k] = v.String()
				}
				return out, nil
			})
			for _, u := range users {
				name, password, ok := strings.Cut(u, ":")
				if !ok || name == "" {
					return fmt.Errorf("--user-add wants name:password, got %q", u)
				}
				srv.AddUser(name, password)
			}

			if announce != "" {
				reg, err := registry.NewEtcdRegistry(etcd, a.logger)
				if err != nil {
					return err
				}
				defer reg.Close()
				if err := srv.Announce(cmd.Context(), reg, service, announce, 10); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe(addr) }()
			a.logger.Info("serving", zap.String("addr", addr))

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				return srv.Shutdown(5 * time.Second)
			}
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	f.StringArrayVar(&users, "user-add", nil, "add a user as name:password (repeatable)")
	f.StringVar(&announce, "announce", "", "base URL to register in etcd")
	f.StringVar(&service, "service", "formrpc", "service name used with --announce")
	f.StringSliceVar(&etcd, "etcd", []string{"127.0.0.1:2379"}, "etcd endpoints used with --announce")
	return cmd
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
