package dataset

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// sampleLimit is how many leading non-missing values are inspected when
// deciding whether a text column should be coerced.
const sampleLimit = 100

var (
	// datePrefixRe matches YYYY-MM-DD... and DD/MM/YYYY... prefixes.
	datePrefixRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}|\d{2}/\d{2}/\d{4})`)

	// currencyRe matches currency-looking strings: optional dollar sign,
	// optional thousands commas, optional decimals.
	currencyRe = regexp.MustCompile(`^\$?\s*\d+(?:,\d{3})*(?:\.\d+)?$`)
)

// timestampLayouts are tried in order when parsing date-like text.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
}

// Normalize coerces ambiguous text columns into native types so evaluation
// and aggregation are correct: all-date-like columns become temporal,
// all-currency-like columns become numeric. Individual unparsable values
// become missing; a column that cannot be coerced at all is logged and left
// unchanged. Normalize never fails.
func Normalize(d *Dataset) {
	for _, col := range d.cols {
		if col.Type != TypeText {
			continue
		}

		sample := sampleValues(col, sampleLimit)
		if len(sample) == 0 {
			continue
		}

		switch {
		case allMatch(sample, datePrefixRe):
			coerceTemporal(col)
		case allMatch(sample, currencyRe):
			coerceNumeric(col)
		}
	}
}

func sampleValues(col *Column, limit int) []string {
	var out []string
	for i := range col.Valid {
		if !col.Valid[i] {
			continue
		}
		out = append(out, strings.TrimSpace(col.Text[i]))
		if len(out) >= limit {
			break
		}
	}
	return out
}

func allMatch(values []string, re *regexp.Regexp) bool {
	for _, v := range values {
		if !re.MatchString(v) {
			return false
		}
	}
	return true
}

// coerceTemporal retypes a text column to temporal in place. Unparsable
// cells become missing rather than failing the column.
func coerceTemporal(col *Column) {
	times := make([]time.Time, len(col.Text))
	valid := make([]bool, len(col.Text))

	parsed, failed := 0, 0
	for i, raw := range col.Text {
		if !col.Valid[i] {
			continue
		}
		ts, err := parseTimestamp(strings.TrimSpace(raw))
		if err != nil {
			failed++
			continue
		}
		times[i] = ts
		valid[i] = true
		parsed++
	}

	if parsed == 0 {
		slog.Warn("temporal coercion produced no values, leaving column as text",
			"column", col.Name,
			"failed", failed,
		)
		return
	}

	col.Type = TypeTemporal
	col.Times = times
	col.Valid = valid
	col.Text = nil

	if failed > 0 {
		slog.Debug("temporal coercion dropped unparsable values",
			"column", col.Name,
			"parsed", parsed,
			"failed", failed,
		)
	}
}

// coerceNumeric retypes a currency-formatted text column to numeric in
// place, stripping dollar signs and thousands separators.
func coerceNumeric(col *Column) {
	nums := make([]float64, len(col.Text))
	valid := make([]bool, len(col.Text))

	parsed, failed := 0, 0
	for i, raw := range col.Text {
		if !col.Valid[i] {
			continue
		}
		f, err := strconv.ParseFloat(cleanCurrency(raw), 64)
		if err != nil {
			failed++
			continue
		}
		nums[i] = f
		valid[i] = true
		parsed++
	}

	if parsed == 0 {
		slog.Warn("numeric coercion produced no values, leaving column as text",
			"column", col.Name,
			"failed", failed,
		)
		return
	}

	col.Type = TypeNumeric
	col.Nums = nums
	col.Valid = valid
	col.Text = nil

	if failed > 0 {
		slog.Debug("numeric coercion dropped unparsable values",
			"column", col.Name,
			"parsed", parsed,
			"failed", failed,
		)
	}
}

func cleanCurrency(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	return strings.TrimSpace(s)
}

func parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// ColumnRole identifies the semantic role a column plays in fallback
// aggregation.
type ColumnRole string

const (
	RoleAmount  ColumnRole = "amount"
	RoleDate    ColumnRole = "date"
	RoleAccount ColumnRole = "account"
)

// RoleMap assigns at most one column name to each role. Empty means the
// role could not be resolved for this dataset.
type RoleMap struct {
	Amount  string
	Date    string
	Account string
}

// Column returns the column name assigned to a role, or "".
func (m RoleMap) Column(role ColumnRole) string {
	switch role {
	case RoleAmount:
		return m.Amount
	case RoleDate:
		return m.Date
	case RoleAccount:
		return m.Account
	default:
		return ""
	}
}

// roleSubstrings is checked in order per column; the first role whose list
// matches claims the column for that pass.
var roleSubstrings = []struct {
	role ColumnRole
	subs []string
}{
	{RoleAmount, []string{"amount", "value", "amt"}},
	{RoleDate, []string{"date", "time", "timestamp"}},
	{RoleAccount, []string{"account", "acct", "id"}},
}

// InferRoleMap scans columns in natural order and assigns each role to the
// first matching column by name substring. A column is only evaluated
// against one role's list: the first whose substrings match. The result is
// a deliberately lossy fallback for rules that carry no mapping of their
// own.
func InferRoleMap(d *Dataset) RoleMap {
	var rm RoleMap
	for _, col := range d.cols {
		lower := strings.ToLower(col.Name)
		for _, entry := range roleSubstrings {
			if !containsAny(lower, entry.subs) {
				continue
			}
			if rm.Column(entry.role) == "" {
				switch entry.role {
				case RoleAmount:
					rm.Amount = col.Name
				case RoleDate:
					rm.Date = col.Name
				case RoleAccount:
					rm.Account = col.Name
				}
			}
			break // first matching role list wins for this column
		}
	}
	return rm
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
