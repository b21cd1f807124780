package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/camrelay/internal/history"
	"github.com/loykin/camrelay/internal/history/factory"
)

// HistoryFlags select which sink to read and how much of it.
type HistoryFlags struct {
	DSN   string
	Limit int
	JSON  bool
}

func createHistoryCommand(globalFlags *GlobalFlags, v *viper.Viper) *cobra.Command {
	f := HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent relay and encoder lifecycle events",
		Long: `Read lifecycle events back from a history sink. Without --dsn the first
entry of history.dsns is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn := f.DSN
			if dsn == "" {
				cfg, err := loadConfig(globalFlags, v)
				if err != nil {
					return err
				}
				if len(cfg.History.DSNs) == 0 {
					return errors.New("no history sink configured: pass --dsn or set history.dsns")
				}
				dsn = cfg.History.DSNs[0]
			}
			r, closeFn, err := factory.NewReaderFromDSN(dsn)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer func() { _ = closeFn() }()

			events, err := r.Recent(cmd.Context(), f.Limit)
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}
			if f.JSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}
			printEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.DSN, "dsn", "", "history sink to read, e.g. sqlite:///var/lib/camrelay/events.db")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 20, "number of events to show")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print events as JSON")
	return cmd
}

func printEvents(out io.Writer, events []history.Event) {
	if len(events) == 0 {
		_, _ = fmt.Fprintln(out, "no events")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tEVENT\tPROCESS\tPID\tSTRATEGY\tSTATUS\tERROR")
	for _, e := range events {
		r := e.Record
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			e.OccurredAt.Local().Format(time.DateTime), e.Type, r.Name, r.PID, dash(r.Strategy), r.Status, dash(r.Error))
	}
	_ = tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
