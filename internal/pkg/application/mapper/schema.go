package mapper

import (
	"embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/diwise/kg-publisher/pkg/grc20/ops"
	"github.com/google/uuid"
	"gopkg.in/yaml.v2"
)

//go:embed schemas/*.yaml
var builtinSchemas embed.FS

type Schema struct {
	Name  string       `yaml:"name"`
	Types []EntityType `yaml:"types"`

	index map[string]int
}

type EntityType struct {
	Label      string     `yaml:"label"`
	TypeID     string     `yaml:"typeId"`
	Space      string     `yaml:"space"`
	IDFields   []string   `yaml:"idFields"`
	Names      []string   `yaml:"names"`
	Repeat     *Repeat    `yaml:"repeat"`
	Properties []Property `yaml:"properties"`
	Relations  []Relation `yaml:"relations"`
}

type Property struct {
	Column     string `yaml:"column"`
	PropertyID string `yaml:"propertyId"`
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"`

	kind ops.ValueKind
}

func (p Property) ValueKind() ops.ValueKind {
	return p.kind
}

type Relation struct {
	Target         string   `yaml:"target"`
	RelationTypeID string   `yaml:"relationTypeId"`
	Name           string   `yaml:"name"`
	Fields         []string `yaml:"fields"`
	Required       bool     `yaml:"required"`
}

// Repeat expands a single record into one entity per value, with the value
// available to templates and columns as {key}
type Repeat struct {
	Key     string   `yaml:"key"`
	Values  []string `yaml:"values"`
	Require string   `yaml:"require"`
}

// Builtins returns the names of the embedded schemas
func Builtins() []string {
	entries, _ := builtinSchemas.ReadDir("schemas")

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)

	return names
}

// Load returns the embedded schema with the given name, or reads a schema
// from a file if no such schema is embedded
func Load(nameOrPath string) (*Schema, error) {
	if nameOrPath == "" {
		nameOrPath = "childcare"
	}

	f, err := builtinSchemas.Open("schemas/" + nameOrPath + ".yaml")
	if err != nil {
		f, err = os.Open(nameOrPath)
		if err != nil {
			return nil, fmt.Errorf("no such schema %q: %w", nameOrPath, err)
		}
	}
	defer f.Close()

	return LoadSchema(f)
}

func LoadSchema(r io.Reader) (*Schema, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	s := &Schema{}
	if err = yaml.Unmarshal(buf, s); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	if err = s.normalize(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Schema) Labels() []string {
	labels := make([]string, 0, len(s.Types))
	for _, t := range s.Types {
		labels = append(labels, t.Label)
	}
	return labels
}

// Type looks up an entity type by label, ignoring case
func (s *Schema) Type(label string) (*EntityType, bool) {
	idx, ok := s.index[strings.ToLower(label)]
	if !ok {
		return nil, false
	}
	return &s.Types[idx], true
}

var idNamespace = uuid.MustParse("0b7f1b0c-3f1e-4a52-9d0a-6f3c2b8f2a61")

func generatedID(schema string, parts ...string) string {
	name := strings.ToLower(schema + "/" + strings.Join(parts, "/"))
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}

func (s *Schema) normalize() error {
	if len(s.Types) == 0 {
		return fmt.Errorf("schema %q defines no entity types", s.Name)
	}

	s.index = map[string]int{}

	for i := range s.Types {
		t := &s.Types[i]

		if t.Label == "" {
			return fmt.Errorf("entity type %d has no label", i)
		}

		key := strings.ToLower(t.Label)
		if _, exists := s.index[key]; exists {
			return fmt.Errorf("entity type %q is defined more than once", t.Label)
		}
		s.index[key] = i

		if len(t.IDFields) == 0 {
			return fmt.Errorf("entity type %q has no idFields", t.Label)
		}

		if t.TypeID == "" {
			t.TypeID = generatedID(s.Name, "type", t.Label)
		}

		if t.Repeat != nil && (t.Repeat.Key == "" || len(t.Repeat.Values) == 0) {
			return fmt.Errorf("entity type %q has an incomplete repeat", t.Label)
		}

		for j := range t.Properties {
			p := &t.Properties[j]
			if p.Column == "" {
				return fmt.Errorf("property %d of %q has no column", j, t.Label)
			}

			kind, err := ops.ParseValueKind(p.Kind)
			if err != nil {
				return fmt.Errorf("property %q of %q: %w", p.Column, t.Label, err)
			}
			p.kind = kind

			if p.PropertyID == "" {
				p.PropertyID = generatedID(s.Name, "property", t.Label, p.Column)
			}
			if p.Name == "" {
				p.Name = p.Column
			}
		}
	}

	for i := range s.Types {
		t := &s.Types[i]

		for j := range t.Relations {
			r := &t.Relations[j]

			target, ok := s.Type(r.Target)
			if !ok {
				return fmt.Errorf("relation %d of %q targets unknown type %q", j, t.Label, r.Target)
			}
			r.Target = target.Label

			if r.RelationTypeID == "" {
				r.RelationTypeID = generatedID(s.Name, "relation", t.Label, r.Target)
			}
			if r.Name == "" {
				r.Name = t.Label + " to " + r.Target
			}
		}
	}

	return nil
}
