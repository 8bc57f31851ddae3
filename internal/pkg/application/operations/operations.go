package operations

import (
	"fmt"
	"strings"

	"github.com/diwise/kg-publisher/internal/pkg/infrastructure/records"
	"github.com/diwise/kg-publisher/pkg/grc20/errors"
	"github.com/diwise/kg-publisher/pkg/grc20/ops"
)

type RecordMapper interface {
	MapRecord(label string, record map[string]string) ([]ops.Op, error)
}

// Build runs the mapper over every record for every requested entity type
// and concatenates the results, type by type, in record order
func Build(m RecordMapper, labels []string, recs []records.Record) ([]ops.Op, error) {
	result := []ops.Op{}

	for _, label := range labels {
		for idx, r := range recs {
			list, err := m.MapRecord(label, r)
			if err != nil {
				return nil, fmt.Errorf("record %d, %s: %w", idx+1, label, err)
			}
			result = append(result, list...)
		}
	}

	return result, nil
}

// PropertyPolicy decides which of several writes to the same property of
// the same entity survives deduplication
type PropertyPolicy int

const (
	LastWriteWins PropertyPolicy = iota
	FirstWriteWins
)

func (p PropertyPolicy) String() string {
	if p == FirstWriteWins {
		return "first-write-wins"
	}
	return "last-write-wins"
}

func ParsePropertyPolicy(s string) (PropertyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last-write-wins", "last":
		return LastWriteWins, nil
	case "first-write-wins", "first":
		return FirstWriteWins, nil
	}
	return LastWriteWins, errors.NewConfigurationError("PROPERTY_POLICY", fmt.Sprintf("unknown policy %q", s))
}

type propertyKey struct {
	entityID   string
	propertyID string
}

// Dedupe removes repeated entity creations, relation creations and property
// writes. Surviving operations keep the position of their first occurrence.
// With LastWriteWins a property write carries the value of the last write
// to the same property. The input list is left unmodified.
func Dedupe(list []ops.Op, policy PropertyPolicy) []ops.Op {
	entities := map[string]struct{}{}
	relations := map[string]struct{}{}
	properties := map[propertyKey]int{}

	result := make([]ops.Op, 0, len(list))

	for _, op := range list {
		switch o := op.(type) {
		case *ops.CreateEntity:
			if _, seen := entities[o.ID]; seen {
				continue
			}
			entities[o.ID] = struct{}{}
		case *ops.CreateRelation:
			if _, seen := relations[o.ID]; seen {
				continue
			}
			relations[o.ID] = struct{}{}
		case *ops.SetProperty:
			key := propertyKey{o.EntityID, o.PropertyID}
			if idx, seen := properties[key]; seen {
				if policy == LastWriteWins {
					result[idx] = ops.NewSetProperty(o.EntityID, o.PropertyID, o.Value)
				}
				continue
			}
			properties[key] = len(result)
		}

		result = append(result, op)
	}

	return result
}

// Batch splits list into contiguous batches of at most size operations
func Batch(list []ops.Op, size int) ([][]ops.Op, error) {
	if size < 1 {
		return nil, fmt.Errorf("batch size %d (%w)", size, errors.ErrInvalidBatchSize)
	}

	if len(list) == 0 {
		return nil, nil
	}

	batches := make([][]ops.Op, 0, (len(list)+size-1)/size)

	for start := 0; start < len(list); start += size {
		end := min(start+size, len(list))
		batches = append(batches, list[start:end:end])
	}

	return batches, nil
}
