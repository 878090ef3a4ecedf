package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/blob"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/export"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/flatten"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/pipeline"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/review"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/store"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect, review and send extraction records",
}

// -- records list --

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extraction records, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := filterFromFlags(cmd.Flags())
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.Query(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "records list")
		}
		total, err := st.Count(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "records count")
		}

		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}
		formatRecordsList(os.Stdout, recs)
		fmt.Fprintf(os.Stderr, "Showing %d of %d records.\n", len(recs), total)
		return nil
	},
}

// -- records show --

var recordsShowCmd = &cobra.Command{
	Use:   "show <record-id>",
	Short: "Show full details of a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "records show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

// -- records table --

var recordsTableCmd = &cobra.Command{
	Use:   "table <record-id>",
	Short: "Show the editable review table of a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		table, err := storeService(st).Table(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "records table")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(table)
		}
		formatTable(os.Stdout, table)
		return nil
	},
}

// -- records review --

var recordsReviewCmd = &cobra.Command{
	Use:   "review <record-id>",
	Short: "Save reviewer edits without sending",
	Long: `Applies the edits in --edits and marks the record REVIEWED. The file holds
flat rows keyed by field name and grouped rows keyed by repeated field name:

  {"flat":   {"po_number": {"kind": "scalar", "values": {"value": "4500012345"}}},
   "groups": {"lines": [{"kind": "nested", "values": {"sku": "A-1", "qty": "3"}}]}}`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("edits")
		edits, err := readEdits(path)
		if err != nil {
			return err
		}
		version, _ := cmd.Flags().GetInt64("version")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := storeService(st).Review(ctx, args[0], edits, version)
		if err != nil {
			return eris.Wrap(err, "records review")
		}
		fmt.Printf("Record %s is %s at version %d.\n", rec.ID, rec.Status, rec.Version)
		return nil
	},
}

// -- records send --

var recordsSendCmd = &cobra.Command{
	Use:   "send <record-id>",
	Short: "Send a record to the ERP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("edits")
		edits, err := readEdits(path)
		if err != nil {
			return err
		}
		version, _ := cmd.Flags().GetInt64("version")
		force, _ := cmd.Flags().GetBool("force")

		env, err := initService(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.Send(ctx, args[0], edits, pipeline.SendOptions{Force: force, ExpectedVersion: version})
		if err != nil {
			return eris.Wrap(err, "records send")
		}
		fmt.Printf("Record %s sent as %s (%s).\n", res.Record.ID, res.DocumentID, res.Status)
		if res.Message != "" {
			fmt.Println(res.Message)
		}
		return nil
	},
}

// -- records url --

var recordsURLCmd = &cobra.Command{
	Use:   "url <record-id>",
	Short: "Print a signed download URL for the original document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ttl, _ := cmd.Flags().GetDuration("ttl")

		env, err := initService(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		u, err := env.Service.DocumentURL(ctx, args[0], ttl)
		if err != nil {
			return eris.Wrap(err, "records url")
		}
		fmt.Println(u)
		return nil
	},
}

// -- records export --

var recordsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export records to an XLSX spreadsheet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := filterFromFlags(cmd.Flags())
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.Query(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "records export")
		}

		f, err := os.Create(out)
		if err != nil {
			return eris.Wrapf(err, "create %s", out)
		}
		if err := export.WriteXLSX(f, recs); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "close %s", out)
		}
		fmt.Fprintf(os.Stderr, "Exported %d records to %s.\n", len(recs), out)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{recordsListCmd, recordsExportCmd} {
		c.Flags().String("status", "", "filter by status (extracted, reviewed, sent, error, processing)")
		c.Flags().Int("days", 0, "only records created in the last N days")
		c.Flags().String("filename", "", "case-insensitive filename substring")
		c.Flags().Int("offset", 0, "skip this many records")
	}
	recordsListCmd.Flags().Int("limit", store.DefaultLimit, "max number of records to display")
	recordsExportCmd.Flags().Int("limit", 10000, "max number of records to export")
	recordsExportCmd.Flags().String("out", "records.xlsx", "output file")

	recordsTableCmd.Flags().Bool("json", false, "print the table as JSON")

	recordsReviewCmd.Flags().String("edits", "", "JSON file with flat and grouped edits (required)")
	recordsReviewCmd.Flags().Int64("version", 0, "expected record version (0 = current)")
	_ = recordsReviewCmd.MarkFlagRequired("edits")

	recordsSendCmd.Flags().String("edits", "", "JSON file with last-minute edits")
	recordsSendCmd.Flags().Int64("version", 0, "expected record version (0 = current)")
	recordsSendCmd.Flags().Bool("force", false, "send again even if the record was already sent")

	recordsURLCmd.Flags().Duration("ttl", blob.DefaultSignedURLTTL, "how long the URL stays valid")

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsShowCmd)
	recordsCmd.AddCommand(recordsTableCmd)
	recordsCmd.AddCommand(recordsReviewCmd)
	recordsCmd.AddCommand(recordsSendCmd)
	recordsCmd.AddCommand(recordsURLCmd)
	recordsCmd.AddCommand(recordsExportCmd)
	rootCmd.AddCommand(recordsCmd)
}

// storeService builds a Service for commands that only touch the record
// store.
func storeService(st store.Store) *pipeline.Service {
	return pipeline.New(nil, nil, st, nil, nil)
}

func filterFromFlags(flags *pflag.FlagSet) (store.Filter, error) {
	statusStr, _ := flags.GetString("status")
	status, err := model.ParseStatus(statusStr)
	if err != nil {
		return store.Filter{}, err
	}
	days, _ := flags.GetInt("days")
	filename, _ := flags.GetString("filename")
	limit, _ := flags.GetInt("limit")
	offset, _ := flags.GetInt("offset")
	return store.Filter{
		Status:           status,
		AgeDays:          days,
		FilenameContains: filename,
		Limit:            limit,
		Offset:           offset,
	}, nil
}

// readEdits loads reviewer edits from a JSON file. An empty path means no
// edits.
func readEdits(path string) (review.Edits, error) {
	var edits review.Edits
	if path == "" {
		return edits, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return edits, eris.Wrapf(err, "read edits %s", path)
	}
	if err := json.Unmarshal(data, &edits); err != nil {
		return edits, eris.Wrapf(err, "parse edits %s", path)
	}
	return edits, nil
}

// formatRecordsList writes a tabular list of records to w.
func formatRecordsList(out io.Writer, recs []model.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFILENAME\tPROCESSOR\tSTATUS\tCONFIDENCE\tCREATED\tSENT")
	_, _ = fmt.Fprintln(w, "--\t--------\t---------\t------\t----------\t-------\t----")
	for _, r := range recs {
		processor := r.ExtractorDisplayName
		if processor == "" {
			processor = r.ExtractorID
		}
		sent := ""
		if r.SentAt != nil {
			sent = r.SentAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f%%\t%s\t%s\n",
			truncateID(r.ID),
			truncate(r.Filename, 40),
			truncate(processor, 30),
			r.Status,
			r.Confidence*100,
			r.CreatedAt.Format("2006-01-02 15:04"),
			sent,
		)
	}
	_ = w.Flush()
}

// formatTable writes the flat fields of a review table followed by one
// sub-table per repeated field.
func formatTable(out io.Writer, t review.Table) {
	_, _ = fmt.Fprintf(out, "%s  %s  %s  version %d\n\n", t.RecordID, t.Filename, t.Status, t.Version)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD\tVALUE\tCONFIDENCE\tEDITED")
	for _, f := range t.Flat {
		edited := ""
		if f.Edited {
			edited = "yes"
		}
		if f.Value != "" {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Name, f.Value, percent(f.Confidence), edited)
			edited = ""
		}
		for i, c := range f.Row.Cells() {
			name := f.Name
			if f.Row.Kind != flatten.RowScalar {
				name = f.Name + flatten.Separator + c.Path
			}
			conf := ""
			if v, ok := f.CellConfidence[c.Path]; ok {
				conf = percent(v)
			} else if i == 0 {
				conf = percent(f.Confidence)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, c.Value, conf, edited)
			edited = ""
		}
	}
	_ = w.Flush()

	for _, g := range t.Groups {
		_, _ = fmt.Fprintf(out, "\n%s (%d rows)\n", g.Name, len(g.Rows))
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "#\t"+strings.Join(g.Columns, "\t"))
		for i, row := range g.Rows {
			cells := make([]string, len(g.Columns))
			for j, col := range g.Columns {
				cells[j], _ = row.Get(col)
			}
			_, _ = fmt.Fprintf(w, "%d\t%s\n", i+1, strings.Join(cells, "\t"))
		}
		_ = w.Flush()
	}
}

func percent(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
