package records

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/matryer/is"
)

func TestCellTextRendersDecodedColumnValues(t *testing.T) {
	is := is.New(t)

	id := uuid.MustParse("0b7f1b0c-3f1e-4a52-9d0a-6f3c2b8f2a61")

	cases := []struct {
		name     string
		value    any
		expected string
	}{
		{"numeric", pgtype.Numeric{Int: big.NewInt(1250), Exp: -2, Valid: true}, "12.50"},
		{"null numeric", pgtype.Numeric{}, ""},
		{"uuid", [16]byte(id), "0b7f1b0c-3f1e-4a52-9d0a-6f3c2b8f2a61"},
		{"date", time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC), "2020-03-15"},
		{"timestamp", time.Date(2020, 3, 15, 8, 30, 0, 0, time.UTC), "2020-03-15T08:30:00Z"},
		{"text", "  Sunshine Daycare ", "Sunshine Daycare"},
		{"null", nil, ""},
		{"bool", true, "true"},
		{"int", int64(40), "40"},
		{"float", 12.5, "12.5"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			is := is.New(t)
			is.Equal(cellText(c.value), c.expected)
		})
	}

	is.Equal(cellText(float64(1e21)), "1000000000000000000000")
}
