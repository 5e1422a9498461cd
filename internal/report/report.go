// Package report assembles per-rule metrics into the validation report
// handed to persistence and the external narrative generator.
package report

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Assembler turns an ordered metric list into a ValidationReport.
type Assembler struct {
	// AlertRiskScore is the minimum per-rule risk score that marks the
	// whole report as high risk.
	AlertRiskScore int
}

// NewAssembler creates an assembler with the given alert threshold.
func NewAssembler(alertRiskScore int) *Assembler {
	if alertRiskScore <= 0 {
		alertRiskScore = 8
	}
	return &Assembler{AlertRiskScore: alertRiskScore}
}

// Input contains everything needed to assemble one report.
type Input struct {
	TenantID    string
	DatasetName string
	RowCount    int
	Metrics     []domain.RuleMetric
	StartTime   time.Time
}

// Assemble builds the report. Metric order is preserved exactly; the
// downstream reporter relies on it for ranking and display.
func (a *Assembler) Assemble(input *Input) *domain.ValidationReport {
	counts := make(map[string]int, 4)
	maxRisk := 0

	for i := range input.Metrics {
		m := &input.Metrics[i]

		status := m.Status
		if m.IsError() {
			status = "ERROR"
		}
		counts[status]++

		if m.RiskScore > maxRisk {
			maxRisk = m.RiskScore
		}
	}

	return &domain.ValidationReport{
		ID:           uuid.New().String(),
		TenantID:     input.TenantID,
		DatasetName:  input.DatasetName,
		RowCount:     input.RowCount,
		RuleCount:    len(input.Metrics),
		Metrics:      input.Metrics,
		StatusCounts: counts,
		MaxRiskScore: maxRisk,
		DurationMs:   time.Since(input.StartTime).Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
}

// IsHighRisk reports whether any metric reached the alert threshold.
func (a *Assembler) IsHighRisk(r *domain.ValidationReport) bool {
	return r.MaxRiskScore >= a.AlertRiskScore
}

// MarshalCompact serializes the ordered metrics in the compact form the
// external narrative generator consumes: one object per rule, numeric
// fields as numbers, samples as flat records.
func MarshalCompact(metrics []domain.RuleMetric) ([]byte, error) {
	return json.Marshal(metrics)
}
