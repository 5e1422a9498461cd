// Package dataset provides the in-memory columnar table the engine
// evaluates rules against, plus the schema normalization pass that makes
// text-typed columns safe to aggregate over.
package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Type is the inferred type of a column.
type Type int

const (
	TypeText Type = iota
	TypeNumeric
	TypeTemporal
)

// String returns the type name for logging and schema summaries.
func (t Type) String() string {
	switch t {
	case TypeNumeric:
		return "numeric"
	case TypeTemporal:
		return "temporal"
	default:
		return "text"
	}
}

// Column is a single typed column. Exactly one of the value slices matching
// Type is populated; Valid marks non-missing cells.
type Column struct {
	Name string

	// Ident is the CEL-safe identifier the column is exposed under in
	// predicates. Derived from Name; equal to Name when it is already a
	// valid identifier.
	Ident string

	Type Type

	Text  []string
	Nums  []float64
	Times []time.Time
	Valid []bool
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	return len(c.Valid)
}

// Value returns the native value at row, or nil for missing cells.
func (c *Column) Value(row int) any {
	if row < 0 || row >= len(c.Valid) || !c.Valid[row] {
		return nil
	}
	switch c.Type {
	case TypeNumeric:
		return c.Nums[row]
	case TypeTemporal:
		return c.Times[row]
	default:
		return c.Text[row]
	}
}

// StringValue returns the cell rendered as a string, or "" for missing cells.
func (c *Column) StringValue(row int) string {
	v := c.Value(row)
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%v", t)
	}
}

// NumericValue returns the cell coerced to a float. Missing and non-numeric
// values become zero, never an error.
func (c *Column) NumericValue(row int) float64 {
	v := c.Value(row)
	if v == nil {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(cleanCurrency(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// TimeValue returns the cell as a timestamp. The second return value is
// false for missing or unparsable cells.
func (c *Column) TimeValue(row int) (time.Time, bool) {
	v := c.Value(row)
	if v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		ts, err := parseTimestamp(t)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	default:
		return time.Time{}, false
	}
}

// Dataset is an immutable-shape columnar table. Columns are never added or
// removed after construction; Normalize may retype a column in place once,
// before any evaluation begins.
type Dataset struct {
	cols   []*Column
	byName map[string]*Column
	rows   int
}

// New builds a dataset from columns. All columns must have equal length and
// distinct names.
func New(cols []*Column) (*Dataset, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("dataset has no columns")
	}

	rows := cols[0].Len()
	byName := make(map[string]*Column, len(cols)*2)
	used := make(map[string]bool, len(cols))

	for _, c := range cols {
		if c.Len() != rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", c.Name, c.Len(), rows)
		}
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column name %q", c.Name)
		}

		if c.Ident == "" {
			c.Ident = identFor(c.Name, used)
		}
		used[c.Ident] = true

		byName[c.Name] = c
		byName[c.Ident] = c
	}

	return &Dataset{cols: cols, byName: byName, rows: rows}, nil
}

// NumRows returns the row count.
func (d *Dataset) NumRows() int {
	return d.rows
}

// Columns returns the columns in their natural order.
func (d *Dataset) Columns() []*Column {
	return d.cols
}

// Column looks up a column by its original name or its CEL identifier.
func (d *Dataset) Column(name string) (*Column, bool) {
	c, ok := d.byName[name]
	return c, ok
}

// Row materializes one row as a flat name-to-value record. Only used for the
// bounded violation samples, never for whole-dataset copies.
func (d *Dataset) Row(row int) map[string]any {
	out := make(map[string]any, len(d.cols))
	for _, c := range d.cols {
		out[c.Name] = c.Value(row)
	}
	return out
}

// identFor derives a CEL-safe identifier from a column name. Spaces and
// punctuation become underscores; a leading digit gets a "c_" prefix.
// Collisions within a dataset get a numeric suffix.
func identFor(name string, used map[string]bool) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	ident := b.String()
	if ident == "" {
		ident = "column"
	}
	if r := rune(ident[0]); unicode.IsDigit(r) {
		ident = "c_" + ident
	}

	candidate := ident
	for i := 2; used[candidate]; i++ {
		candidate = fmt.Sprintf("%s_%d", ident, i)
	}
	return candidate
}
