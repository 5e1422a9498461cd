// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Rule is a compliance rule as produced by the external extraction and
// schema-mapping pipeline. The predicate is already expressed in terms of
// the target dataset's column identifiers.
type Rule struct {
	ID       string `json:"rule_id"`
	Title    string `json:"title"`
	Severity string `json:"severity"`

	// Status reports whether the upstream mapper could bind the rule to the
	// dataset schema. Anything other than READY means the rule carries no
	// usable predicate.
	Status string `json:"status"`

	// Predicate is a boolean expression over dataset columns.
	Predicate string `json:"predicate"`

	// ColumnsRemapped records the generic-role-to-actual-column pairs the
	// mapper used while rewriting the predicate. Optional.
	ColumnsRemapped []ColumnMapping `json:"columns_remapped,omitempty"`
}

// Rule severities.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
)

// Rule mapping statuses, as reported by the upstream mapper.
const (
	RuleStatusReady   = "READY"
	RuleStatusSkipped = "SKIPPED"
	RuleStatusError   = "ERROR"
)

// Ready reports whether the rule carries an executable predicate.
// A missing status is treated as not ready.
func (r *Rule) Ready() bool {
	return r.Status == RuleStatusReady && strings.TrimSpace(r.Predicate) != ""
}

// ColumnMapping associates a generic role name used in the policy text with
// an actual column in the dataset.
type ColumnMapping struct {
	Generic string `json:"generic"`
	Actual  string `json:"actual"`
}

// UnmarshalJSON accepts either the object form {"generic":"amount","actual":"Amount_Paid"}
// or the compact "amount -> Amount_Paid" string form emitted by some mappers.
func (m *ColumnMapping) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		generic, actual, ok := strings.Cut(s, "->")
		if !ok {
			return fmt.Errorf("invalid column mapping %q: missing '->'", s)
		}
		m.Generic = strings.TrimSpace(generic)
		m.Actual = strings.TrimSpace(actual)
		return nil
	}

	type plain ColumnMapping
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = ColumnMapping(p)
	return nil
}

// RuleSet is a named collection of rules extracted from one policy document.
type RuleSet struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"`
	Name     string `json:"name"`

	// SourceDocument identifies the policy text the rules were derived from.
	SourceDocument string `json:"sourceDocument,omitempty"`

	Rules []Rule `json:"rules"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
