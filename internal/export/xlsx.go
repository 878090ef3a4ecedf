// Package export writes record history to spreadsheets.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/flatten"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
)

// RecordColumns is the header row of the Records sheet.
var RecordColumns = []string{"ID", "Filename", "Processor", "Status", "Confidence", "Created", "Reviewed", "Sent", "Fields"}

// FieldColumns is the header row of the Fields sheet.
var FieldColumns = []string{"Record ID", "Field", "Path", "Value", "Edited"}

// WriteXLSX writes a Records sheet with one row per record and a Fields
// sheet with every path/value pair of each record's current data.
func WriteXLSX(w io.Writer, records []model.Record) error {
	f := xlsx.NewFile()

	recSheet, err := f.AddSheet("Records")
	if err != nil {
		return eris.Wrap(err, "export: add records sheet")
	}
	addRow(recSheet, RecordColumns...)

	fieldSheet, err := f.AddSheet("Fields")
	if err != nil {
		return eris.Wrap(err, "export: add fields sheet")
	}
	addRow(fieldSheet, FieldColumns...)

	for i := range records {
		rec := &records[i]
		data := rec.CurrentData()

		row := recSheet.AddRow()
		row.AddCell().SetString(rec.ID)
		row.AddCell().SetString(rec.Filename)
		row.AddCell().SetString(processorName(rec))
		row.AddCell().SetString(string(rec.Status))
		row.AddCell().SetFloatWithFormat(rec.Confidence, "0.0%")
		row.AddCell().SetString(formatTime(&rec.CreatedAt))
		row.AddCell().SetString(formatTime(rec.ReviewedAt))
		row.AddCell().SetString(formatTime(rec.SentAt))
		row.AddCell().SetInt(data.Len())

		writeFields(fieldSheet, rec.ID, data)
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}

func writeFields(sheet *xlsx.Sheet, recordID string, data model.Forest) {
	for _, name := range data.Names() {
		entry, _ := data.Get(name)
		for i, node := range entry.Nodes {
			label := name
			if entry.Repeated {
				label = fmt.Sprintf("%s[%d]", name, i+1)
			}
			edited := "no"
			if node.Edited {
				edited = "yes"
			}
			row := flatten.FlattenNode(node)
			for _, c := range row.Cells() {
				path := name
				if row.Kind != flatten.RowScalar {
					path = name + flatten.Separator + c.Path
				}
				addRow(sheet, recordID, label, path, c.Value, edited)
			}
		}
	}
}

func processorName(rec *model.Record) string {
	if rec.ExtractorDisplayName != "" {
		return rec.ExtractorDisplayName
	}
	return rec.ExtractorID
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
