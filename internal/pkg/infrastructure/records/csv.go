package records

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

type CSVSource struct {
	path string
}

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

func (s *CSVSource) Records(ctx context.Context) ([]Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer f.Close()

	var r io.Reader = f

	if strings.HasSuffix(strings.ToLower(s.path), ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", s.path, err)
		}
		defer gr.Close()
		r = gr
	}

	return ReadCSV(ctx, r)
}

func (s *CSVSource) Close() error {
	return nil
}

// ReadCSV reads records from CSV data with a header row. Rows where every
// cell is blank are skipped.
func ReadCSV(ctx context.Context, r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	keys := normalizeKeys(headers)
	result := []Record{}

	for line := 2; ; line++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", line, err)
		}

		record := make(Record, len(keys))
		blank := true

		for i, key := range keys {
			if key == "" || i >= len(row) {
				continue
			}
			v := strings.TrimSpace(row[i])
			if v != "" {
				blank = false
			}
			record[key] = v
		}

		if !blank {
			result = append(result, record)
		}
	}

	return result, nil
}
