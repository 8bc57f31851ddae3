package ontology

import (
	"strings"

	"github.com/diwise/kg-publisher/internal/pkg/application/mapper"
	"github.com/diwise/kg-publisher/pkg/grc20/ops"
)

// System entities that schema types, properties and relation types are
// declared as
const (
	SchemaTypeID        = "schema-type"
	PropertyTypeID      = "property"
	RelationTypeTypeID  = "relation-type"
	PropertiesRelation  = "properties"
	ValueTypePropertyID = "value-type"
	RelationValueTypeID = "relation-value-type"
)

// Generate returns the operations that declare the entity types of schema,
// together with their properties and relation types. Only types tagged with
// space are included unless space is empty. Entities shared between types
// are declared once.
func Generate(schema *mapper.Schema, space string) ([]ops.Op, error) {
	result := []ops.Op{}
	declared := map[string]bool{}

	declare := func(id, name, typeID string) {
		if declared[id] {
			return
		}
		declared[id] = true
		result = append(result, ops.NewCreateEntity(id, name, typeID))
	}

	attach := func(typeID, id string) error {
		rel, err := ops.NewRelation(typeID, id, PropertiesRelation)
		if err != nil {
			return err
		}
		result = append(result, rel)
		return nil
	}

	for _, label := range schema.Labels() {
		t, _ := schema.Type(label)

		if space != "" && !strings.EqualFold(t.Space, space) {
			continue
		}

		declare(t.TypeID, t.Label, SchemaTypeID)

		for _, p := range t.Properties {
			if !declared[p.PropertyID] {
				declare(p.PropertyID, p.Name, PropertyTypeID)
				result = append(result, ops.NewSetProperty(p.PropertyID, ValueTypePropertyID, ops.Text(string(p.ValueKind()))))
			}

			if err := attach(t.TypeID, p.PropertyID); err != nil {
				return nil, err
			}
		}

		for _, r := range t.Relations {
			if !declared[r.RelationTypeID] {
				declare(r.RelationTypeID, r.Name, RelationTypeTypeID)

				target, _ := schema.Type(r.Target)
				valueType, err := ops.NewRelation(r.RelationTypeID, target.TypeID, RelationValueTypeID)
				if err != nil {
					return nil, err
				}
				result = append(result, valueType)
			}

			if err := attach(t.TypeID, r.RelationTypeID); err != nil {
				return nil, err
			}
		}
	}

	return result, nil
}

// Spaces returns the distinct space tags used by schema, in order of first use
func Spaces(schema *mapper.Schema) []string {
	spaces := []string{}
	seen := map[string]bool{}

	for _, t := range schema.Types {
		s := strings.ToLower(t.Space)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		spaces = append(spaces, s)
	}

	return spaces
}
