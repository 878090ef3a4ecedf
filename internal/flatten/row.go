// Package flatten converts field trees to editable path/value rows and back.
package flatten

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
)

const (
	// Separator joins node names into a row path.
	Separator = "/"
	// ValueColumn is the single column of a scalar row.
	ValueColumn = "value"
)

// RowKind records how a row must be unflattened. It is fixed when the row is
// produced and carried through the edit round-trip.
type RowKind string

const (
	RowUnknown RowKind = ""
	RowScalar  RowKind = "scalar"
	RowNested  RowKind = "nested"
)

// Cell is one path/value pair of a row.
type Cell struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

// FlatRow is one editable table row: an insertion-ordered mapping from path
// to string value, tagged with its kind.
type FlatRow struct {
	Kind  RowKind
	cells []Cell
}

// NewRow builds a row from ordered cells. Later duplicates overwrite earlier
// ones in place.
func NewRow(kind RowKind, cells ...Cell) FlatRow {
	r := FlatRow{Kind: kind}
	for _, c := range cells {
		r.Set(c.Path, c.Value)
	}
	return r
}

// ScalarRow builds the single-column row for a scalar node.
func ScalarRow(value string) FlatRow {
	return NewRow(RowScalar, Cell{Path: ValueColumn, Value: value})
}

// Set assigns a value. An existing path keeps its position.
func (r *FlatRow) Set(path, value string) {
	for i := range r.cells {
		if r.cells[i].Path == path {
			r.cells[i].Value = value
			return
		}
	}
	r.cells = append(r.cells, Cell{Path: path, Value: value})
}

// Get returns the value at path.
func (r FlatRow) Get(path string) (string, bool) {
	for _, c := range r.cells {
		if c.Path == path {
			return c.Value, true
		}
	}
	return "", false
}

// Cells returns a copy of the row's cells in order.
func (r FlatRow) Cells() []Cell {
	out := make([]Cell, len(r.cells))
	copy(out, r.cells)
	return out
}

// Paths returns the row's paths in order.
func (r FlatRow) Paths() []string {
	out := make([]string, len(r.cells))
	for i, c := range r.cells {
		out[i] = c.Path
	}
	return out
}

// Len returns the number of columns.
func (r FlatRow) Len() int {
	return len(r.cells)
}

// Map returns the row as an unordered map.
func (r FlatRow) Map() map[string]string {
	m := make(map[string]string, len(r.cells))
	for _, c := range r.cells {
		m[c.Path] = c.Value
	}
	return m
}

// ResolveKind returns the row's explicit kind, or infers one from its shape
// when none was recorded. A row is nested when any path contains the
// separator, it has more than one column, or it lacks the value column.
func (r FlatRow) ResolveKind() RowKind {
	if r.Kind != RowUnknown {
		return r.Kind
	}
	if len(r.cells) != 1 {
		return RowNested
	}
	if r.cells[0].Path != ValueColumn {
		return RowNested
	}
	return RowScalar
}

// MarshalJSON encodes the row as {"kind": ..., "values": {path: value}} with
// paths in row order.
func (r FlatRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	kind, err := json.Marshal(string(r.Kind))
	if err != nil {
		return nil, eris.Wrap(err, "flatten: encode kind")
	}
	buf.Write(kind)
	buf.WriteString(`,"values":{`)
	for i, c := range r.cells {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c.Path)
		if err != nil {
			return nil, eris.Wrap(err, "flatten: encode path")
		}
		v, err := json.Marshal(c.Value)
		if err != nil {
			return nil, eris.Wrap(err, "flatten: encode value")
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes the form written by MarshalJSON. Number and boolean
// cell values are kept as their literal text; null becomes "".
func (r *FlatRow) UnmarshalJSON(data []byte) error {
	var wire struct {
		Kind   RowKind         `json:"kind"`
		Values json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return eris.Wrap(err, "flatten: decode row")
	}
	switch wire.Kind {
	case RowUnknown, RowScalar, RowNested:
	default:
		return &ValidationError{Reason: "unknown row kind " + strconv.Quote(string(wire.Kind))}
	}

	cells, err := decodeCells(wire.Values)
	if err != nil {
		return err
	}
	*r = NewRow(wire.Kind, cells...)
	return nil
}

func decodeCells(data json.RawMessage) ([]Cell, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, eris.Wrap(err, "flatten: decode values")
	}
	if tok == nil {
		return nil, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, &ValidationError{Reason: "row values must be an object"}
	}

	var cells []Cell
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, eris.Wrap(err, "flatten: decode path")
		}
		path, _ := keyTok.(string)

		valTok, err := dec.Token()
		if err != nil {
			return nil, eris.Wrapf(err, "flatten: decode value at %s", path)
		}
		var value string
		switch v := valTok.(type) {
		case string:
			value = v
		case json.Number:
			value = v.String()
		case bool:
			value = strconv.FormatBool(v)
		case nil:
			value = ""
		default:
			return nil, &ValidationError{Path: path, Reason: "cell value must be a scalar"}
		}
		cells = append(cells, Cell{Path: path, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, eris.Wrap(err, "flatten: decode values end")
	}
	return cells, nil
}
