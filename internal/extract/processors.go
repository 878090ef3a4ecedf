package extract

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// FieldDef declares one field an LLM processor extracts.
type FieldDef struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Type        string     `yaml:"type"`
	Repeated    bool       `yaml:"repeated"`
	Properties  []FieldDef `yaml:"properties"`
}

// ProcessorDef declares an LLM processor.
type ProcessorDef struct {
	ID          string     `yaml:"id"`
	DisplayName string     `yaml:"display_name"`
	Description string     `yaml:"description"`
	Fields      []FieldDef `yaml:"fields"`
}

type processorsFile struct {
	Processors []ProcessorDef `yaml:"processors"`
}

// LoadProcessors reads processor definitions from a YAML file.
func LoadProcessors(path string) ([]ProcessorDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read processors %s", path)
	}
	return ParseProcessors(data)
}

// ParseProcessors decodes and validates processor definitions.
func ParseProcessors(data []byte) ([]ProcessorDef, error) {
	var file processorsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "extract: parse processors")
	}
	if len(file.Processors) == 0 {
		return nil, eris.New("extract: no processors defined")
	}

	seen := make(map[string]bool)
	for _, p := range file.Processors {
		if p.ID == "" {
			return nil, eris.New("extract: processor without id")
		}
		if seen[p.ID] {
			return nil, eris.Errorf("extract: duplicate processor %q", p.ID)
		}
		seen[p.ID] = true
		if len(p.Fields) == 0 {
			return nil, eris.Errorf("extract: processor %q has no fields", p.ID)
		}
		if err := checkFieldNames(p.ID, p.Fields); err != nil {
			return nil, err
		}
	}
	return file.Processors, nil
}

func checkFieldNames(processor string, fields []FieldDef) error {
	seen := make(map[string]bool)
	for _, f := range fields {
		if f.Name == "" {
			return eris.Errorf("extract: processor %q has a field without name", processor)
		}
		if seen[f.Name] {
			return eris.Errorf("extract: processor %q repeats field %q", processor, f.Name)
		}
		seen[f.Name] = true
		if err := checkFieldNames(processor, f.Properties); err != nil {
			return err
		}
	}
	return nil
}

// schemaFields flattens definitions into the schema view, children naming
// their parent.
func schemaFields(fields []FieldDef, parent string) []SchemaField {
	var out []SchemaField
	for _, f := range fields {
		occurrence := "OPTIONAL_ONCE"
		if f.Repeated {
			occurrence = "OPTIONAL_MULTIPLE"
		}
		valueType := f.Type
		if valueType == "" {
			valueType = "string"
		}
		out = append(out, SchemaField{
			Name:        f.Name,
			DisplayName: f.Name,
			ValueType:   valueType,
			Occurrence:  occurrence,
			Description: f.Description,
			Parent:      parent,
		})
		out = append(out, schemaFields(f.Properties, f.Name)...)
	}
	return out
}

// outputSchema builds the JSON schema the model's answer must satisfy. Each
// field is an object {value, confidence, properties}; repeated fields are
// arrays of such objects.
func outputSchema(p ProcessorDef) map[string]any {
	props := make(map[string]any, len(p.Fields))
	for _, f := range p.Fields {
		node := nodeSchema(f, false)
		if f.Repeated {
			props[f.Name] = map[string]any{"type": "array", "items": node}
		} else {
			props[f.Name] = node
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
}

func nodeSchema(f FieldDef, named bool) map[string]any {
	props := map[string]any{
		"value":      map[string]any{"type": "string"},
		"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
	}
	required := []any{"value"}
	if named {
		props["name"] = map[string]any{"const": f.Name}
		required = append(required, "name")
	}
	if len(f.Properties) > 0 {
		children := make([]any, len(f.Properties))
		for i, c := range f.Properties {
			children[i] = nodeSchema(c, true)
		}
		props["properties"] = map[string]any{
			"type":  "array",
			"items": map[string]any{"anyOf": children},
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}
