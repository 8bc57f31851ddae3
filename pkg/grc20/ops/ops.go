package ops

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindCreateEntity   Kind = "CREATE_ENTITY"
	KindSetName        Kind = "SET_NAME"
	KindSetProperty    Kind = "SET_PROPERTY"
	KindDeleteProperty Kind = "DELETE_PROPERTY"
	KindCreateRelation Kind = "CREATE_RELATION"
	KindDeleteRelation Kind = "DELETE_RELATION"
)

// Op is a single mutation of the knowledge graph
type Op interface {
	Kind() Kind
	MarshalJSON() ([]byte, error)
}

type CreateEntity struct {
	ID    string
	Name  string
	Types []string
}

func NewCreateEntity(id, name string, types ...string) *CreateEntity {
	return &CreateEntity{ID: id, Name: name, Types: types}
}

func (ce *CreateEntity) Kind() Kind { return KindCreateEntity }

func (ce *CreateEntity) MarshalJSON() ([]byte, error) {
	types := ce.Types
	if types == nil {
		types = []string{}
	}

	return json.Marshal(struct {
		Type  Kind     `json:"type"`
		ID    string   `json:"id"`
		Name  string   `json:"name"`
		Types []string `json:"types"`
	}{KindCreateEntity, ce.ID, ce.Name, types})
}

type SetName struct {
	EntityID string
	Name     string
}

func NewSetName(entityID, name string) *SetName {
	return &SetName{EntityID: entityID, Name: name}
}

func (sn *SetName) Kind() Kind { return KindSetName }

func (sn *SetName) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     Kind   `json:"type"`
		EntityID string `json:"entityId"`
		Name     string `json:"name"`
	}{KindSetName, sn.EntityID, sn.Name})
}

type SetProperty struct {
	EntityID   string
	PropertyID string
	Value      PropertyValue
}

func NewSetProperty(entityID, propertyID string, value PropertyValue) *SetProperty {
	return &SetProperty{EntityID: entityID, PropertyID: propertyID, Value: value}
}

func (sp *SetProperty) Kind() Kind { return KindSetProperty }

func (sp *SetProperty) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       Kind          `json:"type"`
		EntityID   string        `json:"entityId"`
		PropertyID string        `json:"propertyId"`
		Value      PropertyValue `json:"value"`
	}{KindSetProperty, sp.EntityID, sp.PropertyID, sp.Value})
}

type DeleteProperty struct {
	EntityID   string
	PropertyID string
}

func NewDeleteProperty(entityID, propertyID string) *DeleteProperty {
	return &DeleteProperty{EntityID: entityID, PropertyID: propertyID}
}

func (dp *DeleteProperty) Kind() Kind { return KindDeleteProperty }

func (dp *DeleteProperty) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       Kind   `json:"type"`
		EntityID   string `json:"entityId"`
		PropertyID string `json:"propertyId"`
	}{KindDeleteProperty, dp.EntityID, dp.PropertyID})
}

type CreateRelation struct {
	ID             string
	FromID         string
	ToID           string
	RelationTypeID string
}

func (cr *CreateRelation) Kind() Kind { return KindCreateRelation }

func (cr *CreateRelation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type           Kind   `json:"type"`
		ID             string `json:"id"`
		FromID         string `json:"fromId"`
		ToID           string `json:"toId"`
		RelationTypeID string `json:"relationTypeId"`
	}{KindCreateRelation, cr.ID, cr.FromID, cr.ToID, cr.RelationTypeID})
}

type DeleteRelation struct {
	RelationID string
}

func NewDeleteRelation(relationID string) *DeleteRelation {
	return &DeleteRelation{RelationID: relationID}
}

func (dr *DeleteRelation) Kind() Kind { return KindDeleteRelation }

func (dr *DeleteRelation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       Kind   `json:"type"`
		RelationID string `json:"relationId"`
	}{KindDeleteRelation, dr.RelationID})
}

// UnmarshalList parses a JSON array of operations, as produced by marshalling
// a []Op, back into typed operations.
func UnmarshalList(data []byte) ([]Op, error) {
	raw := []json.RawMessage{}

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal operation list: %w", err)
	}

	list := make([]Op, 0, len(raw))

	for idx, r := range raw {
		op, err := unmarshalOp(r)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", idx, err)
		}
		list = append(list, op)
	}

	return list, nil
}

func unmarshalOp(data []byte) (Op, error) {
	contents := struct {
		Type           Kind            `json:"type"`
		ID             string          `json:"id"`
		Name           string          `json:"name"`
		Types          []string        `json:"types"`
		EntityID       string          `json:"entityId"`
		PropertyID     string          `json:"propertyId"`
		Value          json.RawMessage `json:"value"`
		FromID         string          `json:"fromId"`
		ToID           string          `json:"toId"`
		RelationTypeID string          `json:"relationTypeId"`
		RelationID     string          `json:"relationId"`
	}{}

	err := json.Unmarshal(data, &contents)
	if err != nil {
		return nil, err
	}

	switch contents.Type {
	case KindCreateEntity:
		return NewCreateEntity(contents.ID, contents.Name, contents.Types...), nil
	case KindSetName:
		return NewSetName(contents.EntityID, contents.Name), nil
	case KindSetProperty:
		value := PropertyValue{}
		if err := json.Unmarshal(contents.Value, &value); err != nil {
			return nil, err
		}
		return NewSetProperty(contents.EntityID, contents.PropertyID, value), nil
	case KindDeleteProperty:
		return NewDeleteProperty(contents.EntityID, contents.PropertyID), nil
	case KindCreateRelation:
		return &CreateRelation{
			ID:             contents.ID,
			FromID:         contents.FromID,
			ToID:           contents.ToID,
			RelationTypeID: contents.RelationTypeID,
		}, nil
	case KindDeleteRelation:
		return NewDeleteRelation(contents.RelationID), nil
	}

	return nil, fmt.Errorf("unsupported operation type %q", contents.Type)
}
