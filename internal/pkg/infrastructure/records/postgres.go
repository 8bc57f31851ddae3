package records

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresSource struct {
	pool  *pgxpool.Pool
	table string
}

func NewPostgresSource(ctx context.Context, connString, table string) (*PostgresSource, error) {
	table, err := validTable(table)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &PostgresSource{pool: pool, table: table}, nil
}

func (s *PostgresSource) Records(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, "SELECT * FROM "+pgx.Identifier{s.table}.Sanitize())
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = fd.Name
	}
	keys := normalizeKeys(columns)

	result := []Record{}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", s.table, err)
		}

		record := make(Record, len(keys))
		for i, key := range keys {
			record[key] = cellText(values[i])
		}
		result = append(result, record)
	}

	return result, rows.Err()
}

func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}

func cellText(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case []byte:
		return strings.TrimSpace(string(value))
	case time.Time:
		if value.Hour() == 0 && value.Minute() == 0 && value.Second() == 0 {
			return value.Format(time.DateOnly)
		}
		return value.UTC().Format(time.RFC3339)
	case bool:
		if value {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32)
	case [16]byte:
		return uuid.UUID(value).String()
	case driver.Valuer:
		// pgtype values such as Numeric render through their text encoding
		dv, err := value.Value()
		if err != nil || dv == nil {
			return ""
		}
		return cellText(dv)
	}
	return strings.TrimSpace(fmt.Sprintf("%v", v))
}
