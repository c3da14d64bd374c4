// Command wsmux-listen runs the listener side of a tunnel: it binds a
// local TCP address and carries every connection accepted there over one
// WebSocket session to a wsmux-serve endpoint.
package main

import (
	"context"
	"fmt"
	"net"
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
		Use:   "wsmux-listen",
		Short: "Bind a local TCP address and tunnel it over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.String("listen-on", "", "TCP address to bind, e.g. tcp://127.0.0.1:8100")
	flags.String("tunnel-to", "", "WebSocket endpoint to dial, e.g. ws://example:9000/tunnel")
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

	addr, err := tcpAddr(cfg.ListenOn)
	if err != nil {
		return fmt.Errorf("listen-on: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	logger.Info("listening", "addr", ln.Addr(), "tunnel_to", cfg.TunnelTo)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := &tunnel.ListenerDriver{
		Listener:  ln,
		TunnelURL: cfg.TunnelTo,
		Timeouts:  cfg.Timeouts(),
		Logger:    logger,
	}
	return driver.Run(ctx)
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
