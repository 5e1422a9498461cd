// Package engine provides the CEL-Go based rule evaluation and metrics
// aggregation engine. Predicates originate from an external, semi-trusted
// generation pipeline and are never treated as executable code: CEL
// compilation rejects anything outside the boolean-expression grammar, and
// unknown column references fail at compile time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/harrier/internal/dataset"
	"github.com/opensource-finance/harrier/internal/domain"
)

// ErrEmptyDataset is the fatal condition that aborts a whole run: there is
// nothing to evaluate against. Per-rule failures never surface as errors.
var ErrEmptyDataset = errors.New("dataset is absent or has no rows")

// zeroTime is the binding for missing temporal cells.
var zeroTime = time.Time{}

// Engine evaluates rule predicates as boolean masks over one dataset and
// aggregates per-rule violation metrics. The dataset and role map are
// read-only for the engine's lifetime; normalization must be complete
// before construction.
type Engine struct {
	ds  *dataset.Dataset
	env *cel.Env
	cfg domain.EngineConfig
}

// New creates an engine bound to a normalized dataset. The CEL environment
// declares one typed variable per column, so predicates can only reference
// the dataset's own columns.
func New(ds *dataset.Dataset, cfg domain.EngineConfig) (*Engine, error) {
	if ds == nil || ds.NumRows() == 0 {
		return nil, ErrEmptyDataset
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}

	opts := make([]cel.EnvOption, 0, len(ds.Columns()))
	for _, col := range ds.Columns() {
		opts = append(opts, cel.Variable(col.Ident, celType(col.Type)))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{ds: ds, env: env, cfg: cfg}, nil
}

func celType(t dataset.Type) *cel.Type {
	switch t {
	case dataset.TypeNumeric:
		return cel.DoubleType
	case dataset.TypeTemporal:
		return cel.TimestampType
	default:
		return cel.StringType
	}
}

// Mask is a boolean vector aligned 1:1 with dataset rows, plus the indices
// of matching rows. Scoped to one rule's evaluation.
type Mask struct {
	Bits    []bool
	Indices []int
}

// Count returns the number of matching rows.
func (m *Mask) Count() int {
	return len(m.Indices)
}

// EvaluatePredicate compiles and evaluates a predicate as a boolean mask.
// Empty predicates, unknown columns, non-boolean expressions, and runtime
// evaluation failures all return an error; nothing panics and the dataset
// is never copied.
func (e *Engine) EvaluatePredicate(predicate string) (*Mask, error) {
	if strings.TrimSpace(predicate) == "" {
		return nil, fmt.Errorf("empty predicate")
	}

	ast, issues := e.env.Compile(predicate)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("predicate rejected: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("predicate must return bool, got %s", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	cols := e.ds.Columns()
	rows := e.ds.NumRows()
	mask := &Mask{Bits: make([]bool, rows)}
	activation := make(map[string]any, len(cols))

	for row := 0; row < rows; row++ {
		for _, col := range cols {
			activation[col.Ident] = cellValue(col, row)
		}

		out, _, err := program.Eval(activation)
		if err != nil {
			return nil, fmt.Errorf("evaluation failed at row %d: %w", row, err)
		}

		b, ok := out.(types.Bool)
		if !ok {
			return nil, fmt.Errorf("predicate produced non-boolean value at row %d", row)
		}
		if bool(b) {
			mask.Bits[row] = true
			mask.Indices = append(mask.Indices, row)
		}
	}

	return mask, nil
}

// cellValue binds one cell into the activation. Missing cells bind to the
// column type's zero value so comparisons stay total.
func cellValue(col *dataset.Column, row int) any {
	v := col.Value(row)
	if v != nil {
		return v
	}
	switch col.Type {
	case dataset.TypeNumeric:
		return 0.0
	case dataset.TypeTemporal:
		return zeroTime
	default:
		return ""
	}
}

// Run evaluates all rules against the dataset and returns one metric per
// rule, in input order. A single bad rule never aborts the batch; only a
// missing dataset is fatal, and that is caught at construction.
func (e *Engine) Run(ctx context.Context, roleMap dataset.RoleMap, rules []domain.Rule) []domain.RuleMetric {
	metrics := make([]domain.RuleMetric, len(rules))

	if e.cfg.MaxWorkers <= 1 {
		for i := range rules {
			metrics[i] = e.evaluateRule(ctx, &rules[i], roleMap)
		}
		return metrics
	}

	// Concurrent mode: each rule's evaluation is read-only over the shared
	// dataset, so rules dispatch to a bounded pool and results land at
	// their input index to preserve report order.
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.MaxWorkers)

	for i := range rules {
		wg.Add(1)
		go func(idx int, rule *domain.Rule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			metrics[idx] = e.evaluateRule(ctx, rule, roleMap)
		}(i, &rules[i])
	}

	wg.Wait()
	return metrics
}
