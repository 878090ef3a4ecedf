package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/extract"
)

var processorsCmd = &cobra.Command{
	Use:   "processors",
	Short: "Inspect extraction processors",
}

var processorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available processors",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ext, err := initExtractor(cmd.Context())
		if err != nil {
			return err
		}
		defer closeIfCloser(ext)
		procs, err := ext.ListProcessors(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "processors list")
		}
		if len(procs) == 0 {
			fmt.Fprintln(os.Stderr, "No processors found.")
			return nil
		}
		formatProcessors(os.Stdout, procs)
		return nil
	},
}

var processorsShowCmd = &cobra.Command{
	Use:   "show <processor-id>",
	Short: "Show the fields a processor extracts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ext, err := initExtractor(cmd.Context())
		if err != nil {
			return err
		}
		defer closeIfCloser(ext)
		schema, err := ext.DescribeProcessor(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "processors show")
		}
		formatSchema(os.Stdout, schema)
		return nil
	},
}

var processorsDeleteCmd = &cobra.Command{
	Use:   "delete <processor-id>",
	Short: "Delete a processor",
	Long:  "Delete a Document AI processor. Records extracted with it are kept.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return eris.Errorf("processors delete: pass --yes to delete %s", args[0])
		}
		ext, err := initExtractor(cmd.Context())
		if err != nil {
			return err
		}
		defer closeIfCloser(ext)
		if err := ext.DeleteProcessor(cmd.Context(), args[0]); err != nil {
			return eris.Wrap(err, "processors delete")
		}
		fmt.Fprintf(os.Stderr, "Deleted processor %s\n", args[0])
		return nil
	},
}

func init() {
	processorsDeleteCmd.Flags().Bool("yes", false, "confirm the deletion")

	processorsCmd.AddCommand(processorsListCmd)
	processorsCmd.AddCommand(processorsShowCmd)
	processorsCmd.AddCommand(processorsDeleteCmd)
	rootCmd.AddCommand(processorsCmd)
}

func initExtractor(ctx context.Context) (extract.Extractor, error) {
	if err := cfg.Validate("process"); err != nil {
		return nil, err
	}
	return extract.NewExtractor(ctx, cfg)
}

// formatProcessors writes a tabular processor list to w.
func formatProcessors(out io.Writer, procs []extract.Processor) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATE\tTYPE")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t----")
	for _, p := range procs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.DisplayName, p.State, p.Type)
	}
	_ = w.Flush()
}

// formatSchema writes a processor header followed by its fields. Child
// fields are indented under their parent.
func formatSchema(out io.Writer, s *extract.ProcessorSchema) {
	_, _ = fmt.Fprintf(out, "%s (%s)\n", s.DisplayName, s.ID)
	if s.State != "" {
		_, _ = fmt.Fprintf(out, "State: %s\n", s.State)
	}
	if len(s.Fields) == 0 {
		_, _ = fmt.Fprintln(out, "No field schema available.")
		return
	}
	_, _ = fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD\tTYPE\tOCCURRENCE\tDESCRIPTION")
	for _, f := range s.Fields {
		name := f.Name
		if f.Parent != "" {
			name = "  " + f.Parent + "/" + f.Name
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, f.ValueType, f.Occurrence, f.Description)
	}
	_ = w.Flush()
}
