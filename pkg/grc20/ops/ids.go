package ops

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/diwise/kg-publisher/pkg/grc20/errors"
)

// Sanitize lowercases s and collapses every run of characters that are not
// letters or digits into a single dash. Leading and trailing dashes are dropped.
func Sanitize(s string) string {
	b := strings.Builder{}
	dash := false

	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
		} else if !dash && b.Len() > 0 {
			b.WriteRune('-')
			dash = true
		}
	}

	return strings.TrimRight(b.String(), "-")
}

// EntityID builds a deterministic entity id from a type label and the
// primary value of a record. An empty string is returned when the value
// has no usable characters.
func EntityID(label string, value string) string {
	v := Sanitize(value)
	if v == "" {
		return ""
	}
	return strings.ToLower(label) + "-" + v
}

func RelationID(relationTypeID, fromID, toID string) string {
	return fmt.Sprintf("%s-%s-%s", relationTypeID, fromID, toID)
}

// NewRelation creates a relation op between two entities. Both endpoints and
// the relation type must be known.
func NewRelation(fromID, toID, relationTypeID string) (*CreateRelation, error) {
	if fromID == "" || toID == "" {
		return nil, errors.NewRelationshipError(
			fmt.Sprintf("cannot create %q relation with missing endpoint (from: %q, to: %q)", relationTypeID, fromID, toID),
		)
	}

	if relationTypeID == "" {
		return nil, errors.NewRelationshipError(
			fmt.Sprintf("cannot create relation from %q to %q without a relation type", fromID, toID),
		)
	}

	return &CreateRelation{
		ID:             RelationID(relationTypeID, fromID, toID),
		FromID:         fromID,
		ToID:           toID,
		RelationTypeID: relationTypeID,
	}, nil
}
