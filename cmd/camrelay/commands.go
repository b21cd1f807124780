package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/loykin/camrelay"
	"github.com/loykin/camrelay/internal/config"
	"github.com/loykin/camrelay/internal/provision"
)

func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay and the encoder and keep the stream up",
		Long: `Start the RTSP relay, then the encoder, then watch the encoder and restart it
by device index whenever it exits. Stops on Ctrl+C, SIGTERM or Enter.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(globalFlags, v)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			var stdin io.Reader
			if serveFlags.StopOnEnter && term.IsTerminal(int(os.Stdin.Fd())) {
				stdin = os.Stdin
			}
			return runServe(ctx, cfg, *serveFlags, cmd.OutOrStdout(), stdin)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.StopOnEnter, "stop-on-enter", true, "stop when Enter is pressed (only when stdin is a terminal)")
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "serve the status API on this address")
	cmd.Flags().StringVar(&serveFlags.MetricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
	return cmd
}

// runServe runs the stream server until ctx is done, a line is read from
// stdin (nil disables this), or the health monitor gives up.
func runServe(ctx context.Context, cfg *config.Config, flags ServeFlags, out io.Writer, stdin io.Reader) error {
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}
	if flags.MetricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = flags.MetricsListen
	}

	srv, err := camrelay.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()
	log := srv.Logger()

	var servers []*http.Server
	defer func() { shutdownAll(servers) }()
	if cfg.Metrics.Enabled {
		if err := srv.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		if cfg.Metrics.Listen != "" {
			ms, err := camrelay.ServeMetrics(cfg.Metrics.Listen)
			if err != nil {
				return fmt.Errorf("metrics listener: %w", err)
			}
			servers = append(servers, ms)
			log.Info("metrics listening", "addr", ms.Addr)
		}
	}
	if cfg.Server.Listen != "" {
		hs, err := camrelay.NewHTTPServer(cfg.Server.Listen, cfg.Server.Base, srv, cfg.Metrics.Enabled && cfg.Metrics.Listen == "")
		if err != nil {
			return fmt.Errorf("status API listener: %w", err)
		}
		servers = append(servers, hs)
		log.Info("status API listening", "addr", hs.Addr, "base", cfg.Server.Base)
	}

	if cfg.Encoder.ListDevices {
		if listing, err := srv.ListDevices(ctx); err != nil {
			log.Warn("could not list capture devices", "error", err)
		} else {
			_, _ = fmt.Fprintf(out, "Available capture devices:\n%s\n", listing)
		}
	}

	if err := srv.Start(ctx); err != nil {
		printStartError(out, cfg, err)
		return err
	}
	printBanner(out, srv.URL(), stdin != nil)

	var enter <-chan struct{}
	if stdin != nil {
		enter = waitForEnter(stdin)
	}
	select {
	case <-ctx.Done():
		log.Info("signal received, shutting down")
	case <-enter:
		log.Info("stop requested from terminal")
	case <-srv.Done():
		err = srv.Err()
	}
	srv.Stop()
	return err
}

func printBanner(w io.Writer, url string, interactive bool) {
	_, _ = fmt.Fprintf(w, "\nRTSP stream is live at %s\n", url)
	_, _ = fmt.Fprintf(w, "View it with VLC: Media > Open Network Stream > %s\n", url)
	if interactive {
		_, _ = fmt.Fprintln(w, "Press Enter to stop (or Ctrl+C).")
	} else {
		_, _ = fmt.Fprintln(w, "Press Ctrl+C to stop.")
	}
}

func printStartError(w io.Writer, cfg *config.Config, err error) {
	var pe *provision.ProvisionError
	if errors.As(err, &pe) {
		_, _ = fmt.Fprintln(w, pe.Instructions(cfg.Relay.Binary))
	}
}

func waitForEnter(r io.Reader) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(r).ReadString('\n')
		close(ch)
	}()
	return ch
}

func shutdownAll(servers []*http.Server) {
	for _, s := range servers {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.Shutdown(ctx)
		cancel()
	}
}

func createDevicesCommand(globalFlags *GlobalFlags, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List capture devices known to the encoder",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(globalFlags, v)
			if err != nil {
				return err
			}
			listing, err := cfg.Checker().ListDevices(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), listing)
			return nil
		},
	}
}

func createFetchCommand(globalFlags *GlobalFlags, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Download the mediamtx relay binary if it is missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(globalFlags, v)
			if err != nil {
				return err
			}
			p := provision.New(cfg.ProvisionConfig(), provision.WithLogger(cfg.Log.NewSlogger()))
			path, err := p.EnsureRelayBinary(cmd.Context())
			if err != nil {
				printStartError(cmd.ErrOrStderr(), cfg, err)
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func createRenderConfigCommand(globalFlags *GlobalFlags, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "render-config",
		Short: "Print the relay configuration camrelay would write",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(globalFlags, v)
			if err != nil {
				return err
			}
			b, err := camrelay.RenderRelayConfig(cfg.Stream.Port, cfg.Stream.Path)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "camrelay %s (mediamtx %s)\n", version, provision.DefaultVersion)
		},
	}
}
