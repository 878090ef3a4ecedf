package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dashboard counts by status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "stats")
		}
		formatStats(os.Stdout, stats)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the record store schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		fmt.Fprintf(os.Stderr, "Migrated %s store.\n", cfg.Store.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(migrateCmd)
}

// formatStats writes dashboard counts to w.
func formatStats(out io.Writer, s *model.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total records:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Sent:\t%d\n", s.Sent)
	_, _ = fmt.Fprintf(w, "Pending review:\t%d\n", s.Pending)
	_, _ = fmt.Fprintf(w, "Processing:\t%d\n", s.Processing)
	_, _ = fmt.Fprintf(w, "Errors:\t%d\n", s.Errors)
	_ = w.Flush()
}
