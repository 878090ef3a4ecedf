// Package review merges reviewer edits into extracted field forests.
package review

import (
	"maps"
	"slices"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/flatten"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
)

// Edits are a reviewer's changes keyed by top-level field name. Flat edits
// target single-node fields, grouped edits replace repeated fields.
type Edits struct {
	Flat    map[string]flatten.FlatRow   `json:"flat,omitempty"`
	Grouped map[string][]flatten.FlatRow `json:"groups,omitempty"`
}

// Empty reports whether there are no edits.
func (e Edits) Empty() bool {
	return len(e.Flat) == 0 && len(e.Grouped) == 0
}

// Reconcile builds the reviewed forest from the prior review (or the
// extraction when there is none) and the reviewer's edits.
//
// Edited flat fields become {value, edited: true}; a flat field whose
// submitted row matches the base is kept verbatim. Grouped fields with edits
// are replaced wholesale by their unflattened rows, in row order, without
// confidence. Fields without edits pass through unchanged.
func Reconcile(extracted model.Forest, prior *model.Forest, edits Edits) (model.Forest, error) {
	base := extracted
	if prior != nil && prior.Len() > 0 {
		base = *prior
	}
	out := base.Clone()

	for _, name := range slices.Sorted(maps.Keys(edits.Flat)) {
		entry, ok := base.Get(name)
		if !ok {
			return model.Forest{}, &flatten.ValidationError{Field: name, Reason: "unknown field"}
		}
		if entry.Repeated {
			return model.Forest{}, &flatten.ValidationError{Field: name, Reason: "grouped field edited as a single row"}
		}
		node, err := applyFlat(entry.Node(), edits.Flat[name])
		if err != nil {
			return model.Forest{}, withField(err, name)
		}
		out.Set(name, model.Single(node))
	}

	for _, name := range slices.Sorted(maps.Keys(edits.Grouped)) {
		entry, ok := base.Get(name)
		if !ok {
			return model.Forest{}, &flatten.ValidationError{Field: name, Reason: "unknown field"}
		}
		if !entry.Repeated {
			return model.Forest{}, &flatten.ValidationError{Field: name, Reason: "single field edited as a group"}
		}
		nodes, err := flatten.UnflattenGroup(edits.Grouped[name])
		if err != nil {
			return model.Forest{}, withField(err, name)
		}
		out.Set(name, model.List(nodes...))
	}

	return out, nil
}

func applyFlat(node model.Field, row flatten.FlatRow) (model.Field, error) {
	if row.ResolveKind() == flatten.RowScalar {
		edited, err := flatten.UnflattenNode(row)
		if err != nil {
			return model.Field{}, err
		}
		if !node.IsGroup() && edited.Value == node.Value {
			return node.Clone(), nil
		}
		return model.Field{Name: node.Name, Value: edited.Value, Edited: true}, nil
	}

	props, err := flatten.Unflatten(row)
	if err != nil {
		return model.Field{}, err
	}
	if node.IsGroup() && maps.Equal(flatten.Flatten(node.Properties).Map(), row.Map()) {
		return node.Clone(), nil
	}
	return model.Field{Name: node.Name, Value: node.Value, Properties: props, Edited: true}, nil
}

func withField(err error, name string) error {
	if ve, ok := err.(*flatten.ValidationError); ok && ve.Field == "" {
		ve.Field = name
	}
	return err
}
