package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/loykin/camrelay/pkg/client"
)

func newAPIClient(f APIFlags) (*client.Client, string, error) {
	url := f.APIUrl
	if url == "" {
		url = client.DefaultBaseURL
	}
	c, err := client.New(client.Config{BaseURL: url, Timeout: f.APITimeout})
	return c, url, err
}

func createStatusCommand() *cobra.Command {
	f := APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running camrelay serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, url, err := newAPIClient(f)
			if err != nil {
				return err
			}
			if !c.IsReachable(cmd.Context()) {
				return fmt.Errorf("camrelay not reachable at %s - start it with 'camrelay serve --listen'", url)
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			if f.JSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	addAPIFlags(cmd, &f)
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print the raw status document")
	return cmd
}

func createRestartCaptureCommand() *cobra.Command {
	f := APIFlags{}
	cmd := &cobra.Command{
		Use:   "restart-capture",
		Short: "Restart the encoder of a running camrelay serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, url, err := newAPIClient(f)
			if err != nil {
				return err
			}
			if err := c.RestartCapture(cmd.Context()); err != nil {
				if errors.Is(err, client.ErrNotRunning) {
					return fmt.Errorf("stream at %s is not running", url)
				}
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "encoder restarted")
			return nil
		},
	}
	addAPIFlags(cmd, &f)
	return cmd
}

func printStatus(w io.Writer, st *client.Status) {
	_, _ = fmt.Fprintf(w, "state:    %s\n", st.State)
	_, _ = fmt.Fprintf(w, "url:      %s\n", st.URL)
	if st.Relay != nil {
		_, _ = fmt.Fprintf(w, "relay:    pid=%d running=%t\n", st.Relay.PID, st.Relay.Running)
	}
	_, _ = fmt.Fprintf(w, "encoder:  %s", st.Capture.State)
	if st.Capture.Strategy != "" {
		_, _ = fmt.Fprintf(w, " (%s)", st.Capture.Strategy)
	}
	_, _ = fmt.Fprintf(w, " restarts=%d\n", st.Capture.Restarts)
	if st.Monitor != "" {
		_, _ = fmt.Fprintf(w, "monitor:  %s\n", st.Monitor)
	}
}
