package flatten

import (
	"fmt"
	"strings"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
)

// ValidationError reports a row that cannot be turned back into a tree, or
// an edit that does not fit the record it targets.
type ValidationError struct {
	Field  string
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation")
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %q", e.Field)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, ": path %q", e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// Flatten renders nodes as one nested row. Each node contributes its path
// (name, or prefix/name below the top level) with its value, followed by its
// children in pre-order. A repeated sibling name overwrites the earlier cell.
func Flatten(nodes []model.Field) FlatRow {
	row := FlatRow{Kind: RowNested}
	flattenInto(&row, nodes, "")
	return row
}

func flattenInto(row *FlatRow, nodes []model.Field, prefix string) {
	for _, n := range nodes {
		key := n.Name
		if prefix != "" {
			key = prefix + Separator + n.Name
		}
		row.Set(key, n.Value)
		if len(n.Properties) > 0 {
			flattenInto(row, n.Properties, key)
		}
	}
}

// FlattenNode renders one top-level node or group occurrence: a node with
// children becomes a nested row of its children, anything else a scalar row.
func FlattenNode(n model.Field) FlatRow {
	if len(n.Properties) > 0 {
		return Flatten(n.Properties)
	}
	return ScalarRow(n.Value)
}

// CellConfidence maps every cell FlattenNode produces for n to the
// confidence of the node behind it.
func CellConfidence(n model.Field) map[string]float64 {
	if len(n.Properties) == 0 {
		return map[string]float64{ValueColumn: n.Confidence}
	}
	out := make(map[string]float64)
	confidenceInto(out, n.Properties, "")
	return out
}

func confidenceInto(out map[string]float64, nodes []model.Field, prefix string) {
	for _, n := range nodes {
		key := n.Name
		if prefix != "" {
			key = prefix + Separator + n.Name
		}
		out[key] = n.Confidence
		confidenceInto(out, n.Properties, key)
	}
}

// FlattenGroup renders each occurrence of a repeated entity as its own row.
func FlattenGroup(nodes []model.Field) []FlatRow {
	rows := make([]FlatRow, len(nodes))
	for i, n := range nodes {
		rows[i] = FlattenNode(n)
	}
	return rows
}

type prefixNode struct {
	value    string
	children map[string]*prefixNode
	order    []string
}

func (p *prefixNode) child(name string) *prefixNode {
	if p.children == nil {
		p.children = make(map[string]*prefixNode)
	}
	c, ok := p.children[name]
	if !ok {
		c = &prefixNode{}
		p.children[name] = c
		p.order = append(p.order, name)
	}
	return c
}

func (p *prefixNode) fields() []model.Field {
	if len(p.order) == 0 {
		return nil
	}
	out := make([]model.Field, 0, len(p.order))
	for _, name := range p.order {
		c := p.children[name]
		out = append(out, model.Field{
			Name:       name,
			Value:      c.value,
			Properties: c.fields(),
		})
	}
	return out
}

// Unflatten inverts Flatten. Paths are split on the separator into a prefix
// tree whose children keep first-insertion order; a prefix implied only by
// deeper paths gets an empty value. Empty paths or path segments are
// rejected.
func Unflatten(row FlatRow) ([]model.Field, error) {
	root := &prefixNode{}
	for _, c := range row.cells {
		if c.Path == "" {
			return nil, &ValidationError{Path: c.Path, Reason: "empty path"}
		}
		node := root
		for _, seg := range strings.Split(c.Path, Separator) {
			if seg == "" {
				return nil, &ValidationError{Path: c.Path, Reason: "empty path segment"}
			}
			node = node.child(seg)
		}
		node.value = c.Value
	}
	return root.fields(), nil
}

// UnflattenNode turns one row back into a node according to its kind: a
// scalar row yields {value}, a nested row a node carrying the unflattened
// children.
func UnflattenNode(row FlatRow) (model.Field, error) {
	switch row.ResolveKind() {
	case RowScalar:
		for _, c := range row.cells {
			if c.Path != ValueColumn {
				return model.Field{}, &ValidationError{Path: c.Path, Reason: "scalar row has a column other than value"}
			}
		}
		v, _ := row.Get(ValueColumn)
		return model.Field{Value: v}, nil
	default:
		props, err := Unflatten(row)
		if err != nil {
			return model.Field{}, err
		}
		return model.Field{Properties: props}, nil
	}
}

// UnflattenGroup turns table rows back into group occurrences in row order.
func UnflattenGroup(rows []FlatRow) ([]model.Field, error) {
	out := make([]model.Field, 0, len(rows))
	for i, r := range rows {
		n, err := UnflattenNode(r)
		if err != nil {
			if ve, ok := err.(*ValidationError); ok {
				ve.Reason = fmt.Sprintf("row %d: %s", i+1, ve.Reason)
			}
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Columns returns the union of the rows' paths in first-seen order, for
// rendering a group as one table.
func Columns(rows []FlatRow) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range rows {
		for _, c := range r.cells {
			if !seen[c.Path] {
				seen[c.Path] = true
				cols = append(cols, c.Path)
			}
		}
	}
	return cols
}
