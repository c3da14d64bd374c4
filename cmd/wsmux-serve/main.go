// Command wsmux-serve runs the server side of a tunnel: it upgrades every
// inbound request to the /tunnel path on listenOn to a WebSocket session
// and auto-connects each of its sockets to tunnelTo on first use.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nightbridge-dev/wsmux/config"
	"github.com/nightbridge-dev/wsmux/tunnel"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)

	cmd := &cobra.Command{
		Use:   "wsmux-serve",
		Short: "Accept WebSocket tunnel sessions and forward sockets to a fixed TCP target",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.String("listen-on", "", "HTTP address to bind, e.g. tcp://0.0.0.0:9000")
	flags.String("tunnel-to", "", "TCP address every socket is auto-connected to, e.g. tcp://127.0.0.1:8100")
	flags.Duration("connect-timeout", config.DefaultConnectTimeout, "per-socket connect timeout")
	flags.Duration("send-timeout", config.DefaultSendTimeout, "per-send timeout")
	flags.Duration("idle-timeout", config.DefaultIdleTimeout, "per-receive idle timeout")
	flags.Duration("linger-delay", config.DefaultLingerDelay, "delay before a closed socket is fully torn down")
	flags.String("log-path", "", "file to write JSON logs to; defaults to stderr text logs")

	bind := map[string]string{
		config.KeyListenOn:       "listen-on",
		config.KeyTunnelTo:       "tunnel-to",
		config.KeyConnectTimeout: "connect-timeout",
		config.KeySendTimeout:    "send-timeout",
		config.KeyIdleTimeout:    "idle-timeout",
		config.KeyLingerDelay:    "linger-delay",
		config.KeyLogPath:        "log-path",
	}
	for key, flag := range bind {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	v.SetEnvPrefix("WSMUX")
	v.AutomaticEnv()

	return cmd
}

func run(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	logger, closeLog, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer closeLog()

	bindAddr, err := tcpAddr(cfg.ListenOn)
	if err != nil {
		return fmt.Errorf("listen-on: %w", err)
	}
	target, err := tcpAddr(cfg.TunnelTo)
	if err != nil {
		return fmt.Errorf("tunnel-to: %w", err)
	}

	driver := &tunnel.ServerDriver{
		Target:   target,
		Timeouts: cfg.Timeouts(),
		Logger:   logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/tunnel", driver)
	srv := &http.Server{Addr: bindAddr, Handler: mux}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("serving", "addr", bindAddr, "tunnel_to", target)

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}

func tcpAddr(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", raw, err)
	}
	if u.Host == "" {
		return raw, nil
	}
	return u.Host, nil
}
