package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrNoRows marks a CSV that parsed but carries no data rows.
var ErrNoRows = errors.New("CSV has no data rows")

// FromCSV parses CSV bytes into a Dataset. The first record is the header.
// Columns whose every non-empty value parses as a number become numeric;
// everything else stays text until Normalize runs. Empty cells are missing.
func FromCSV(data []byte) (*Dataset, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV headers: %w", err)
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("CSV has no columns")
	}

	raw := make([][]string, len(headers))
	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // skip malformed rows
		}
		for i := range headers {
			val := ""
			if i < len(record) {
				val = strings.TrimSpace(record[i])
			}
			raw[i] = append(raw[i], val)
		}
		rows++
	}

	if rows == 0 {
		return nil, ErrNoRows
	}

	cols := make([]*Column, len(headers))
	for i, name := range headers {
		cols[i] = buildColumn(strings.TrimSpace(name), raw[i])
	}

	return New(cols)
}

// buildColumn type-sniffs one raw column: numeric when all non-empty values
// parse as plain floats, text otherwise.
func buildColumn(name string, values []string) *Column {
	nonEmpty := 0
	numeric := true
	for _, v := range values {
		if v == "" {
			continue
		}
		nonEmpty++
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			numeric = false
			break
		}
	}
	numeric = numeric && nonEmpty > 0

	col := &Column{
		Name:  name,
		Valid: make([]bool, len(values)),
	}

	if numeric {
		col.Type = TypeNumeric
		col.Nums = make([]float64, len(values))
		for i, v := range values {
			if v == "" {
				continue
			}
			f, _ := strconv.ParseFloat(v, 64)
			col.Nums[i] = f
			col.Valid[i] = true
		}
		return col
	}

	col.Type = TypeText
	col.Text = make([]string, len(values))
	for i, v := range values {
		if v == "" {
			continue
		}
		col.Text[i] = v
		col.Valid[i] = true
	}
	return col
}
