package domain

import (
	"strings"
	"time"
)

// RuleMetric is the per-rule output of a validation run. One metric is
// produced for every input rule, in input order, regardless of individual
// failures.
type RuleMetric struct {
	RuleID   string `json:"rule_id"`
	Title    string `json:"title"`
	Severity string `json:"severity"`

	// Status is SKIPPED, CLEAN, FLAGGED, or "ERROR: <message>".
	Status string `json:"status"`

	RiskScore           int     `json:"risk_score"`
	ViolationCount      int     `json:"violation_count"`
	UniqueAccounts      int     `json:"unique_accounts"`
	TotalAmountExposure float64 `json:"total_amount_exposure"`
	AvgAmount           float64 `json:"avg_amount"`

	// DateRange is "<min> to <max>" at minute precision, or "N/A".
	DateRange string `json:"date_range"`

	// TopOffenders lists up to 3 "<entity> (<count> txns)" entries,
	// most frequent first.
	TopOffenders []string `json:"top_offenders"`

	// SampleRows holds at most 5 flat records of matching rows.
	SampleRows []map[string]any `json:"sample_offending_row"`
}

// Metric statuses.
const (
	MetricStatusSkipped = "SKIPPED"
	MetricStatusClean   = "CLEAN"
	MetricStatusFlagged = "FLAGGED"

	// MetricStatusErrorPrefix prefixes the evaluation error message.
	MetricStatusErrorPrefix = "ERROR: "
)

// IsError reports whether the metric carries an evaluation error.
func (m *RuleMetric) IsError() bool {
	return strings.HasPrefix(m.Status, MetricStatusErrorPrefix)
}

// ValidationReport is the persisted outcome of one validation run: the
// ordered rule metrics plus run metadata for listing and alerting.
type ValidationReport struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	DatasetName string `json:"datasetName"`
	RowCount    int    `json:"rowCount"`
	RuleCount   int    `json:"ruleCount"`

	// Metrics preserves rule input order. Downstream reporters rely on it.
	Metrics []RuleMetric `json:"metrics"`

	// StatusCounts tallies metrics by terminal state. Evaluation errors are
	// counted under "ERROR".
	StatusCounts map[string]int `json:"statusCounts"`

	MaxRiskScore int `json:"maxRiskScore"`

	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// EngineConfig holds evaluation and risk-scoring settings.
type EngineConfig struct {
	// MaxWorkers bounds concurrent per-rule evaluation. 1 or less means
	// strictly sequential evaluation.
	MaxWorkers int `json:"maxWorkers" yaml:"maxWorkers"`

	// RiskVolumeRatio is the violation-count share of total rows above which
	// the risk score gets a +1 bonus.
	RiskVolumeRatio float64 `json:"riskVolumeRatio" yaml:"riskVolumeRatio"`

	// RiskExposureThreshold is the total exposure above which the risk score
	// gets a +1 bonus. Unit-agnostic.
	RiskExposureThreshold float64 `json:"riskExposureThreshold" yaml:"riskExposureThreshold"`

	// AlertRiskScore is the minimum risk score that triggers a high-risk
	// alert event for a report.
	AlertRiskScore int `json:"alertRiskScore" yaml:"alertRiskScore"`
}
