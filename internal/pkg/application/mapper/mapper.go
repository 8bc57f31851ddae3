package mapper

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/diwise/kg-publisher/pkg/grc20/ops"
)

type Mapper struct {
	schema *Schema
	strict bool
}

// Strict makes values that do not parse as their declared kind fail the
// mapping instead of being published as text
func Strict(enabled bool) func(*Mapper) {
	return func(m *Mapper) {
		m.strict = enabled
	}
}

func New(schema *Schema, options ...func(*Mapper)) *Mapper {
	m := &Mapper{schema: schema}
	for _, option := range options {
		option(m)
	}
	return m
}

func (m *Mapper) Schema() *Schema {
	return m.schema
}

// Entity is an identified instance of an entity type within a record
type Entity struct {
	ID     string
	Name   string
	Type   *EntityType
	lookup func(string) string
}

// MapRecord produces the operations for the entity of type label found in
// record: the entity itself, its properties and its relations, each related
// entity created before the relation that references it. A record without an
// identifying value for the type yields no operations.
func (m *Mapper) MapRecord(label string, record map[string]string) ([]ops.Op, error) {
	et, ok := m.schema.Type(label)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", label)
	}

	result := []ops.Op{}

	for _, e := range m.Entities(et, record) {
		result = append(result, ops.NewCreateEntity(e.ID, e.Name, et.TypeID))

		propOps, err := m.properties(e)
		if err != nil {
			return nil, err
		}
		result = append(result, propOps...)

		for _, r := range et.Relations {
			relOps, err := m.relate(e, r)
			if err != nil {
				return nil, err
			}
			result = append(result, relOps...)
		}
	}

	return result, nil
}

func (m *Mapper) relate(from Entity, r Relation) ([]ops.Op, error) {
	target, _ := m.schema.Type(r.Target)

	var targets []Entity

	// a target identified through overriding fields carries its properties,
	// read from those fields
	override := len(r.Fields) > 0

	if override {
		id, name := identify(target.Label, r.Fields, nil, from.lookup)
		lookup := fieldLookup(target.IDFields, r.Fields, from.lookup)
		targets = append(targets, Entity{ID: id, Name: name, Type: target, lookup: lookup})
	} else {
		targets = m.entities(target, from.lookup, true)
	}

	result := []ops.Op{}

	for _, to := range targets {
		if to.ID == "" && !r.Required {
			continue
		}

		rel, err := ops.NewRelation(from.ID, to.ID, r.RelationTypeID)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", from.Type.Label, from.ID, err)
		}

		result = append(result, ops.NewCreateEntity(to.ID, to.Name, target.TypeID))

		if override {
			propOps, err := m.properties(to)
			if err != nil {
				return nil, err
			}
			result = append(result, propOps...)
		}

		result = append(result, rel)
	}

	return result, nil
}

func (m *Mapper) properties(e Entity) ([]ops.Op, error) {
	result := []ops.Op{}

	for _, p := range e.Type.Properties {
		raw := e.lookup(p.Column)
		if raw == "" {
			continue
		}

		value, err := ops.ParseValue(p.ValueKind(), raw)
		if err != nil {
			if m.strict {
				return nil, fmt.Errorf("%s %q, column %s: %w", e.Type.Label, e.ID, expand(p.Column, e.lookup), err)
			}
			value = ops.Text(raw)
		}

		result = append(result, ops.NewSetProperty(e.ID, p.PropertyID, value))
	}

	return result, nil
}

// fieldLookup reads each identifying column of a relation target from the
// field that replaces it on the referencing record
func fieldLookup(idFields, fields []string, base func(string) string) func(string) string {
	replaced := map[string]string{}
	for i, f := range idFields {
		if i < len(fields) {
			replaced[f] = fields[i]
		}
	}

	return func(column string) string {
		if f, ok := replaced[column]; ok {
			return base(f)
		}
		return base(column)
	}
}

// Entities identifies every instance of et in record. Types with a repeat
// yield one instance per value that passes the repeat requirement.
func (m *Mapper) Entities(et *EntityType, record map[string]string) []Entity {
	lookup := func(column string) string {
		return strings.TrimSpace(record[column])
	}
	return m.entities(et, lookup, false)
}

func (m *Mapper) entities(et *EntityType, base func(string) string, keepEmpty bool) []Entity {
	if et.Repeat == nil || base(et.Repeat.Key) != "" {
		lookup := func(column string) string {
			return base(expand(column, base))
		}

		id, name := identify(et.Label, et.IDFields, et.Names, lookup)
		if id == "" && !keepEmpty {
			return nil
		}
		return []Entity{{ID: id, Name: name, Type: et, lookup: lookup}}
	}

	result := []Entity{}

	for _, value := range et.Repeat.Values {
		lookup := repeatLookup(et.Repeat.Key, value, base)

		if et.Repeat.Require != "" && lookup(et.Repeat.Require) == "" {
			continue
		}

		id, name := identify(et.Label, et.IDFields, et.Names, lookup)
		if id == "" {
			continue
		}
		result = append(result, Entity{ID: id, Name: name, Type: et, lookup: lookup})
	}

	return result
}

func repeatLookup(key, value string, base func(string) string) func(string) string {
	var lookup func(string) string

	lookup = func(column string) string {
		if column == key {
			return value
		}
		return base(expand(column, func(k string) string {
			if k == key {
				return value
			}
			return base(k)
		}))
	}

	return lookup
}

func identify(label string, fields, names []string, lookup func(string) string) (string, string) {
	values := []string{}
	for _, f := range fields {
		if v := lookup(f); v != "" {
			values = append(values, v)
		}
	}

	id := ops.EntityID(label, strings.Join(values, " "))
	if id == "" {
		return "", ""
	}

	for _, template := range names {
		if name, complete := render(template, lookup); complete {
			return id, name
		}
	}

	return id, strings.Join(values, " ")
}

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// expand substitutes {key} placeholders in a column name
func expand(column string, lookup func(string) string) string {
	if !strings.Contains(column, "{") {
		return column
	}
	return placeholder.ReplaceAllStringFunc(column, func(p string) string {
		return lookup(p[1 : len(p)-1])
	})
}

// render fills a name template and reports whether every placeholder had a value
func render(template string, lookup func(string) string) (string, bool) {
	complete := true

	name := placeholder.ReplaceAllStringFunc(template, func(p string) string {
		v := lookup(p[1 : len(p)-1])
		if v == "" {
			complete = false
		}
		return v
	})

	return strings.Join(strings.Fields(name), " "), complete
}
