package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/camrelay/internal/config"
)

var version = "dev"

func main() {
	root := buildRoot(config.NewViper())
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands around v.
func buildRoot(v *viper.Viper) *cobra.Command {
	globalFlags := &GlobalFlags{}
	serveFlags := &ServeFlags{}

	root := &cobra.Command{
		Use:   "camrelay",
		Short: "Publish a local webcam as an RTSP stream",
		Long: `camrelay runs a mediamtx relay and an ffmpeg encoder, restarts the encoder
when it dies and tears both down on exit.

Examples:
  camrelay serve                           # default camera on rtsp://localhost:8554/webcam
  camrelay serve --device-name "USB Camera" --port 9554
  camrelay devices                         # list capture devices
  camrelay fetch                           # download mediamtx only
  camrelay status --api-url http://127.0.0.1:8080/api
  camrelay history -n 50                   # recent lifecycle events
  CAMRELAY_STREAM_PATH=/cam camrelay serve`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addConfigFlags(root, globalFlags, v)

	root.AddCommand(
		createServeCommand(globalFlags, serveFlags, v),
		createDevicesCommand(globalFlags, v),
		createFetchCommand(globalFlags, v),
		createRenderConfigCommand(globalFlags, v),
		createStatusCommand(),
		createRestartCaptureCommand(),
		createHistoryCommand(globalFlags, v),
		createVersionCommand(),
	)
	return root
}

func loadConfig(flags *GlobalFlags, v *viper.Viper) (*config.Config, error) {
	cfg, err := config.LoadFrom(v, flags.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}
