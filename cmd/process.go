package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/pipeline"
)

var processCmd = &cobra.Command{
	Use:   "process <files...>",
	Short: "Extract purchase-order fields from documents",
	Long:  "Uploads each file, runs it through the selected processor and stores an EXTRACTED record. Files are processed one at a time; a failure does not stop the batch.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		processorID, _ := cmd.Flags().GetString("processor")
		displayName, _ := cmd.Flags().GetString("display-name")

		docs, err := readDocuments(args)
		if err != nil {
			return err
		}

		env, err := initService(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		results := env.Service.ProcessBatch(ctx, processorID, displayName, docs)
		formatResults(os.Stdout, results)

		if failed := countFailed(results); failed > 0 {
			return eris.Errorf("%d of %d documents failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	processCmd.Flags().String("processor", "", "processor id (required)")
	processCmd.Flags().String("display-name", "", "processor display name stored on each record")
	_ = processCmd.MarkFlagRequired("processor")
	rootCmd.AddCommand(processCmd)
}

func readDocuments(paths []string) ([]pipeline.Document, error) {
	docs := make([]pipeline.Document, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", p)
		}
		docs = append(docs, pipeline.Document{Filename: filepath.Base(p), Data: data})
	}
	return docs, nil
}

func countFailed(results []pipeline.Result) int {
	n := 0
	for _, r := range results {
		if r.Status == model.StatusError {
			n++
		}
	}
	return n
}

// formatResults writes one line per batch result to w.
func formatResults(out io.Writer, results []pipeline.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILE\tSTATUS\tRECORD\tCONFIDENCE\tFIELDS\tERROR")
	_, _ = fmt.Fprintln(w, "----\t------\t------\t----------\t------\t-----")
	for _, r := range results {
		conf, fields := "", ""
		if r.Status != model.StatusError {
			conf = fmt.Sprintf("%.0f%%", r.Confidence*100)
			fields = fmt.Sprintf("%d", r.Fields.Len())
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Filename,
			r.Status,
			r.RecordID,
			conf,
			fields,
			r.Error,
		)
	}
	_ = w.Flush()
}
