// Package pipeline runs the full validation sequence: dataset loading,
// schema normalization, rule evaluation, and report assembly. Both the
// synchronous API path and the async worker go through the same Runner.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/dataset"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/report"
)

// Runner executes validation runs with a fixed engine configuration.
type Runner struct {
	engineCfg domain.EngineConfig
	assembler *report.Assembler
}

// NewRunner creates a validation runner.
func NewRunner(cfg domain.EngineConfig) *Runner {
	return &Runner{
		engineCfg: cfg,
		assembler: report.NewAssembler(cfg.AlertRiskScore),
	}
}

// Input describes one validation run.
type Input struct {
	TenantID    string
	DatasetName string

	// DatasetCSV is the raw CSV payload handed over by the external loader.
	DatasetCSV []byte

	Rules []domain.Rule
}

// Run loads and normalizes the dataset, evaluates every rule, and returns
// the assembled report. Normalization completes fully before any rule
// evaluation begins. Errors are fatal run-level conditions (unusable
// dataset); per-rule failures are encoded in the report itself.
func (r *Runner) Run(ctx context.Context, input *Input) (*domain.ValidationReport, error) {
	start := time.Now()

	ds, err := dataset.FromCSV(input.DatasetCSV)
	if err != nil {
		if errors.Is(err, dataset.ErrNoRows) {
			return nil, engine.ErrEmptyDataset
		}
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}

	dataset.Normalize(ds)
	roleMap := dataset.InferRoleMap(ds)

	eng, err := engine.New(ds, r.engineCfg)
	if err != nil {
		return nil, err
	}

	metrics := eng.Run(ctx, roleMap, input.Rules)

	rep := r.assembler.Assemble(&report.Input{
		TenantID:    input.TenantID,
		DatasetName: input.DatasetName,
		RowCount:    ds.NumRows(),
		Metrics:     metrics,
		StartTime:   start,
	})

	slog.Info("validation run completed",
		"tenant_id", input.TenantID,
		"dataset", input.DatasetName,
		"rows", ds.NumRows(),
		"rules", len(input.Rules),
		"max_risk", rep.MaxRiskScore,
		"duration_ms", rep.DurationMs,
	)

	return rep, nil
}

// Summarize loads and normalizes a dataset and returns its schema summary
// for the external rule-mapping service.
func (r *Runner) Summarize(csvData []byte) (*dataset.Summary, error) {
	ds, err := dataset.FromCSV(csvData)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	dataset.Normalize(ds)
	return dataset.SchemaSummary(ds), nil
}

// IsHighRisk reports whether a report crosses the alert threshold.
func (r *Runner) IsHighRisk(rep *domain.ValidationReport) bool {
	return r.assembler.IsHighRisk(rep)
}
