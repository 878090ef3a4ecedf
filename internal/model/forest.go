package model

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Entry is the value stored under one forest name: a single node, or an
// ordered list of nodes when the extractor reported repeated occurrences.
type Entry struct {
	Nodes    []Field
	Repeated bool
}

// Single wraps one node.
func Single(f Field) Entry {
	return Entry{Nodes: []Field{f}}
}

// List wraps repeated occurrences. An empty list stays repeated.
func List(fs ...Field) Entry {
	if fs == nil {
		fs = []Field{}
	}
	return Entry{Nodes: fs, Repeated: true}
}

// Node returns the single node of a non-repeated entry.
func (e Entry) Node() Field {
	if len(e.Nodes) == 0 {
		return Field{}
	}
	return e.Nodes[0]
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	out := Entry{Repeated: e.Repeated}
	if e.Nodes != nil {
		out.Nodes = make([]Field, len(e.Nodes))
		for i, n := range e.Nodes {
			out.Nodes[i] = n.Clone()
		}
	}
	return out
}

func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Repeated {
		nodes := e.Nodes
		if nodes == nil {
			nodes = []Field{}
		}
		return json.Marshal(nodes)
	}
	return json.Marshal(e.Node())
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*e = Entry{}
		return nil
	case trimmed[0] == '[':
		var nodes []Field
		if err := json.Unmarshal(trimmed, &nodes); err != nil {
			return eris.Wrap(err, "model: decode repeated entry")
		}
		*e = List(nodes...)
		return nil
	default:
		var f Field
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return eris.Wrap(err, "model: decode entry")
		}
		*e = Single(f)
		return nil
	}
}

// Forest is the named, insertion-ordered collection of field trees for one
// document. The zero value is an empty forest ready for use.
type Forest struct {
	names   []string
	entries map[string]Entry
}

// Set stores an entry. Replacing an existing name keeps its position.
func (f *Forest) Set(name string, e Entry) {
	if f.entries == nil {
		f.entries = make(map[string]Entry)
	}
	if _, ok := f.entries[name]; !ok {
		f.names = append(f.names, name)
	}
	f.entries[name] = e
}

// Get returns the entry stored under name.
func (f Forest) Get(name string) (Entry, bool) {
	e, ok := f.entries[name]
	return e, ok
}

// Names returns the field names in insertion order.
func (f Forest) Names() []string {
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// Len returns the number of top-level names.
func (f Forest) Len() int {
	return len(f.names)
}

// Clone returns a deep copy.
func (f Forest) Clone() Forest {
	var out Forest
	for _, name := range f.names {
		out.Set(name, f.entries[name].Clone())
	}
	return out
}

// MeanLeafConfidence averages the confidence of every leaf node in the
// forest. An empty forest scores 0.
func (f Forest) MeanLeafConfidence() float64 {
	var sum float64
	var n int
	for _, name := range f.names {
		for _, node := range f.entries[name].Nodes {
			node.Leaves(func(leaf Field) {
				sum += leaf.Confidence
				n++
			})
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (f Forest) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range f.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, eris.Wrap(err, "model: encode forest key")
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.entries[name])
		if err != nil {
			return nil, eris.Wrapf(err, "model: encode forest entry %s", name)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object while keeping its key order.
func (f *Forest) UnmarshalJSON(data []byte) error {
	*f = Forest{}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "model: decode forest")
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return eris.Errorf("model: forest must be a JSON object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "model: decode forest key")
		}
		name, ok := keyTok.(string)
		if !ok {
			return eris.Errorf("model: unexpected forest key %v", keyTok)
		}
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return eris.Wrapf(err, "model: decode forest entry %s", name)
		}
		f.Set(name, e)
	}

	if _, err := dec.Token(); err != nil {
		return eris.Wrap(err, "model: decode forest end")
	}
	return nil
}
