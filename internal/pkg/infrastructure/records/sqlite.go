package records

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

type SQLiteSource struct {
	db    *sql.DB
	table string
}

func NewSQLiteSource(path, table string) (*SQLiteSource, error) {
	table, err := validTable(table)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite source: %w", err)
	}

	return &SQLiteSource{db: db, table: table}, nil
}

func (s *SQLiteSource) Records(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM "%s"`, s.table))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	keys := normalizeKeys(columns)
	result := []Record{}

	values := make([]sql.NullString, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table, err)
		}

		record := make(Record, len(keys))
		for i, key := range keys {
			if values[i].Valid {
				record[key] = strings.TrimSpace(values[i].String)
			} else {
				record[key] = ""
			}
		}
		result = append(result, record)
	}

	return result, rows.Err()
}

func (s *SQLiteSource) Close() error {
	return s.db.Close()
}
