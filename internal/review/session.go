package review

import (
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/flatten"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
)

// Table is the editable rendering of one record.
type Table struct {
	RecordID string       `json:"record_id"`
	Filename string       `json:"filename"`
	Status   model.Status `json:"status"`
	Version  int64        `json:"version"`
	Flat     []FlatField  `json:"flat"`
	Groups   []Group      `json:"groups"`
}

// FlatField is one single-node field rendered as one row. Value is the
// node's own text when it has children; it is shown for reference and is
// not part of the editable row.
type FlatField struct {
	Name           string             `json:"name"`
	Value          string             `json:"value,omitempty"`
	Confidence     float64            `json:"confidence"`
	CellConfidence map[string]float64 `json:"cell_confidence"`
	Edited         bool               `json:"edited"`
	Row            flatten.FlatRow    `json:"row"`
}

// Group is a repeated field rendered as a sub-table. Confidence and
// CellConfidence are indexed like Rows.
type Group struct {
	Name           string               `json:"name"`
	Columns        []string             `json:"columns"`
	Rows           []flatten.FlatRow    `json:"rows"`
	Confidence     []float64            `json:"confidence"`
	CellConfidence []map[string]float64 `json:"cell_confidence"`
}

// Session holds one reviewer's view of a record for the span of a request:
// the snapshot it was loaded from and the edits collected against it.
type Session struct {
	recordID  string
	filename  string
	status    model.Status
	version   int64
	extracted model.Forest
	prior     *model.Forest
	edits     Edits
}

// NewSession snapshots rec.
func NewSession(rec *model.Record) *Session {
	s := &Session{
		recordID:  rec.ID,
		filename:  rec.Filename,
		status:    rec.Status,
		version:   rec.Version,
		extracted: rec.ExtractedData.Clone(),
	}
	if rec.ReviewedData != nil {
		p := rec.ReviewedData.Clone()
		s.prior = &p
	}
	return s
}

// Version is the record version the session was loaded at.
func (s *Session) Version() int64 {
	return s.version
}

// Base returns the forest edits apply to.
func (s *Session) Base() model.Forest {
	if s.prior != nil && s.prior.Len() > 0 {
		return *s.prior
	}
	return s.extracted
}

// Table renders the base forest for editing, in field order.
func (s *Session) Table() Table {
	t := Table{
		RecordID: s.recordID,
		Filename: s.filename,
		Status:   s.status,
		Version:  s.version,
		Flat:     []FlatField{},
		Groups:   []Group{},
	}

	base := s.Base()
	for _, name := range base.Names() {
		entry, _ := base.Get(name)
		if entry.Repeated {
			rows := flatten.FlattenGroup(entry.Nodes)
			conf := make([]float64, len(entry.Nodes))
			cells := make([]map[string]float64, len(entry.Nodes))
			for i, n := range entry.Nodes {
				conf[i] = n.Confidence
				cells[i] = flatten.CellConfidence(n)
			}
			t.Groups = append(t.Groups, Group{
				Name:           name,
				Columns:        flatten.Columns(rows),
				Rows:           rows,
				Confidence:     conf,
				CellConfidence: cells,
			})
			continue
		}
		node := entry.Node()
		f := FlatField{
			Name:           name,
			Confidence:     node.Confidence,
			CellConfidence: flatten.CellConfidence(node),
			Edited:         node.Edited,
			Row:            flatten.FlattenNode(node),
		}
		if len(node.Properties) > 0 {
			f.Value = node.Value
		}
		t.Flat = append(t.Flat, f)
	}
	return t
}

// EditFlat records a replacement row for a single-node field.
func (s *Session) EditFlat(name string, row flatten.FlatRow) {
	if s.edits.Flat == nil {
		s.edits.Flat = make(map[string]flatten.FlatRow)
	}
	s.edits.Flat[name] = row
}

// EditGroup records the full set of rows for a repeated field.
func (s *Session) EditGroup(name string, rows []flatten.FlatRow) {
	if s.edits.Grouped == nil {
		s.edits.Grouped = make(map[string][]flatten.FlatRow)
	}
	s.edits.Grouped[name] = rows
}

// Apply records every edit in e, replacing earlier edits to the same field.
func (s *Session) Apply(e Edits) {
	for name, row := range e.Flat {
		s.EditFlat(name, row)
	}
	for name, rows := range e.Grouped {
		s.EditGroup(name, rows)
	}
}

// Edits returns the edits collected so far.
func (s *Session) Edits() Edits {
	return s.edits
}

// Reconcile merges the collected edits into the snapshot.
func (s *Session) Reconcile() (model.Forest, error) {
	return Reconcile(s.extracted, s.prior, s.edits)
}
