package model

// Field is one node of an extracted field tree. Children are serialized as
// "properties", matching the extractor's entity shape.
type Field struct {
	Name       string  `json:"name,omitempty"`
	Value      string  `json:"value,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Type       string  `json:"type,omitempty"`
	Edited     bool    `json:"edited,omitempty"`
	Properties []Field `json:"properties,omitempty"`
}

// IsGroup reports whether the node has children.
func (f Field) IsGroup() bool {
	return len(f.Properties) > 0
}

// Clone returns a deep copy of the node.
func (f Field) Clone() Field {
	out := f
	if f.Properties != nil {
		out.Properties = make([]Field, len(f.Properties))
		for i, p := range f.Properties {
			out.Properties[i] = p.Clone()
		}
	}
	return out
}

// Leaves calls fn for every node without children, depth first.
func (f Field) Leaves(fn func(Field)) {
	if len(f.Properties) == 0 {
		fn(f)
		return
	}
	for _, p := range f.Properties {
		p.Leaves(fn)
	}
}
