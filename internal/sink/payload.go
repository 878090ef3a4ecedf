package sink

import "github.com/Victorpalkin/gcp-po-processing-demo/internal/model"

// Payload is the ERP document built from a reviewed forest.
type Payload struct {
	SourceFilename string                      `json:"source_filename"`
	Header         map[string]any              `json:"header"`
	LineItems      map[string][]map[string]any `json:"line_items"`
}

// BuildPayload maps single fields to the header and repeated fields to line
// items. Scalar nodes become their value; nodes with children become a
// nested map.
func BuildPayload(forest model.Forest, filename string) Payload {
	p := Payload{
		SourceFilename: filename,
		Header:         make(map[string]any),
		LineItems:      make(map[string][]map[string]any),
	}
	for _, name := range forest.Names() {
		entry, _ := forest.Get(name)
		if entry.Repeated {
			items := make([]map[string]any, len(entry.Nodes))
			for i, n := range entry.Nodes {
				items[i] = nodeMap(n)
			}
			p.LineItems[name] = items
			continue
		}
		p.Header[name] = nodeValue(entry.Node())
	}
	return p
}

func nodeValue(n model.Field) any {
	if !n.IsGroup() {
		return n.Value
	}
	return nodeMap(n)
}

// nodeMap renders a node as {child: value}. A non-empty value of a group
// node is kept under "value".
func nodeMap(n model.Field) map[string]any {
	m := make(map[string]any, len(n.Properties)+1)
	if n.Value != "" || !n.IsGroup() {
		m["value"] = n.Value
	}
	for _, c := range n.Properties {
		m[c.Name] = nodeValue(c)
	}
	return m
}
