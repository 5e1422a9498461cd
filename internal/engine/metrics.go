package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/opensource-finance/harrier/internal/dataset"
	"github.com/opensource-finance/harrier/internal/domain"
)

// sampleRowLimit bounds how many matching rows are materialized per rule.
const sampleRowLimit = 5

// topOffenderLimit bounds the most-frequent-entity list per rule.
const topOffenderLimit = 3

// evaluateRule produces the metric for one rule. Every failure mode is
// recovered locally: not-ready rules become SKIPPED, evaluation failures
// become ERROR metrics, and per-column aggregation problems degrade that
// one sub-metric to its default.
func (e *Engine) evaluateRule(ctx context.Context, rule *domain.Rule, roleMap dataset.RoleMap) domain.RuleMetric {
	metric := domain.RuleMetric{
		RuleID:       rule.ID,
		Title:        rule.Title,
		Severity:     rule.Severity,
		DateRange:    "N/A",
		TopOffenders: []string{},
		SampleRows:   []map[string]any{},
	}

	if !rule.Ready() {
		metric.Status = domain.MetricStatusSkipped
		return metric
	}

	if err := ctx.Err(); err != nil {
		metric.Status = domain.MetricStatusErrorPrefix + err.Error()
		return metric
	}

	mask, err := e.EvaluatePredicate(rule.Predicate)
	if err != nil {
		slog.Warn("rule evaluation failed",
			"rule_id", rule.ID,
			"error", err,
		)
		metric.Status = domain.MetricStatusErrorPrefix + err.Error()
		return metric
	}

	count := mask.Count()
	metric.ViolationCount = count

	if count == 0 {
		metric.Status = domain.MetricStatusClean
		metric.RiskScore = severityBase(rule.Severity)
		return metric
	}

	metric.Status = domain.MetricStatusFlagged

	if col := e.resolveColumn(dataset.RoleAmount, rule, roleMap); col != nil {
		metric.TotalAmountExposure, metric.AvgAmount = amountStats(col, mask.Indices)
	}

	if col := e.resolveColumn(dataset.RoleDate, rule, roleMap); col != nil {
		metric.DateRange = dateRange(col, mask.Indices)
	}

	if col := e.resolveColumn(dataset.RoleAccount, rule, roleMap); col != nil {
		metric.UniqueAccounts, metric.TopOffenders = accountStats(col, mask.Indices)
	}

	for _, row := range mask.Indices[:min(count, sampleRowLimit)] {
		metric.SampleRows = append(metric.SampleRows, e.ds.Row(row))
	}

	metric.RiskScore = e.riskScore(rule.Severity, count, metric.TotalAmountExposure)
	return metric
}

// resolveColumn runs the two-tier role resolution and looks the result up
// in the dataset. A mapping that points at a nonexistent column degrades to
// nothing rather than failing the rule.
func (e *Engine) resolveColumn(role dataset.ColumnRole, rule *domain.Rule, roleMap dataset.RoleMap) *dataset.Column {
	name := Resolve(role, rule, roleMap)
	if name == "" {
		return nil
	}
	col, ok := e.ds.Column(name)
	if !ok {
		slog.Warn("resolved column not in dataset",
			"rule_id", rule.ID,
			"role", string(role),
			"column", name,
		)
		return nil
	}
	return col
}

// amountStats sums and averages the amount column over only the matched
// rows. Non-numeric values count as zero.
func amountStats(col *dataset.Column, indices []int) (total, avg float64) {
	for _, row := range indices {
		total += col.NumericValue(row)
	}
	if len(indices) > 0 {
		avg = total / float64(len(indices))
	}
	return total, avg
}

// dateRange formats "<min> to <max>" at minute precision over the matched
// rows, or "N/A" when no cell parses.
func dateRange(col *dataset.Column, indices []int) string {
	const layout = "2006-01-02 15:04"

	found := false
	var minTS, maxTS = zeroTime, zeroTime
	for _, row := range indices {
		ts, ok := col.TimeValue(row)
		if !ok {
			continue
		}
		if !found || ts.Before(minTS) {
			minTS = ts
		}
		if !found || ts.After(maxTS) {
			maxTS = ts
		}
		found = true
	}

	if !found {
		return "N/A"
	}
	return fmt.Sprintf("%s to %s", minTS.Format(layout), maxTS.Format(layout))
}

// accountStats counts distinct entities over the matched rows and formats
// the top offenders, most frequent first. Ties keep first-seen order.
func accountStats(col *dataset.Column, indices []int) (unique int, top []string) {
	counts := make(map[string]int)
	order := make(map[string]int)

	for _, row := range indices {
		v := col.StringValue(row)
		if v == "" {
			continue
		}
		if _, seen := counts[v]; !seen {
			order[v] = len(order)
		}
		counts[v]++
	}

	entities := make([]string, 0, len(counts))
	for v := range counts {
		entities = append(entities, v)
	}
	sort.Slice(entities, func(i, j int) bool {
		if counts[entities[i]] != counts[entities[j]] {
			return counts[entities[i]] > counts[entities[j]]
		}
		return order[entities[i]] < order[entities[j]]
	})

	top = []string{}
	for _, v := range entities[:min(len(entities), topOffenderLimit)] {
		top = append(top, fmt.Sprintf("%s (%d txns)", v, counts[v]))
	}

	return len(counts), top
}

// severityBase maps a rule severity to its base risk score. Unrecognized
// severities score 1.
func severityBase(severity string) int {
	switch strings.ToUpper(severity) {
	case domain.SeverityCritical:
		return 8
	case domain.SeverityHigh:
		return 5
	case domain.SeverityMedium:
		return 3
	default:
		return 1
	}
}

// riskScore derives the bounded 1-10 score: severity base, +1 when the
// violation share exceeds the volume ratio, +1 when exposure exceeds the
// threshold, capped at 10.
func (e *Engine) riskScore(severity string, count int, exposure float64) int {
	score := severityBase(severity)

	if float64(count) > float64(e.ds.NumRows())*e.cfg.RiskVolumeRatio {
		score++
	}
	if exposure > e.cfg.RiskExposureThreshold {
		score++
	}

	if score > 10 {
		score = 10
	}
	return score
}
