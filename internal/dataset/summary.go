package dataset

// Summary is the lightweight schema description handed to the external
// rule-mapping service so it can rewrite generic rules against real column
// names and representative values.
type Summary struct {
	// Columns lists column names in natural order.
	Columns []string `json:"columns"`

	// Identifiers maps each column name to the identifier predicates must
	// use to reference it.
	Identifiers map[string]string `json:"identifiers"`

	// Types maps each column name to its inferred type.
	Types map[string]string `json:"types"`

	// Samples holds up to 5 distinct non-missing values per column.
	Samples map[string][]string `json:"samples"`
}

// maxSummarySamples bounds the per-column sample list.
const maxSummarySamples = 5

// SchemaSummary builds a Summary for the dataset. No side effects.
func SchemaSummary(d *Dataset) *Summary {
	s := &Summary{
		Columns:     make([]string, 0, len(d.cols)),
		Identifiers: make(map[string]string, len(d.cols)),
		Types:       make(map[string]string, len(d.cols)),
		Samples:     make(map[string][]string, len(d.cols)),
	}

	for _, col := range d.cols {
		s.Columns = append(s.Columns, col.Name)
		s.Identifiers[col.Name] = col.Ident
		s.Types[col.Name] = col.Type.String()
		s.Samples[col.Name] = distinctSamples(col, maxSummarySamples)
	}

	return s
}

func distinctSamples(col *Column, limit int) []string {
	samples := make([]string, 0, limit)
	seen := make(map[string]bool, limit)

	for i := range col.Valid {
		if !col.Valid[i] {
			continue
		}
		v := col.StringValue(i)
		if seen[v] {
			continue
		}
		seen[v] = true
		samples = append(samples, v)
		if len(samples) >= limit {
			break
		}
	}

	return samples
}
