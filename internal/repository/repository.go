// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRuleSet stores a rule set with tenant isolation. An existing rule set
// with the same ID is replaced.
func (r *SQLRepository) SaveRuleSet(ctx context.Context, tenantID string, rs *domain.RuleSet) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rs.ID == "" {
		return fmt.Errorf("%w: rule set ID is required", ErrInvalidInput)
	}

	rules, err := json.Marshal(rs.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	now := time.Now().UTC()
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = now
	}
	rs.UpdatedAt = now

	del := `DELETE FROM rule_sets WHERE tenant_id = ? AND id = ?`
	if _, err := r.db.ExecContext(ctx, r.rebind(del), tenantID, rs.ID); err != nil {
		return err
	}

	query := `
		INSERT INTO rule_sets (
			id, tenant_id, name, source_document, rules, enabled,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rs.ID, tenantID, rs.Name, rs.SourceDocument,
		string(rules), boolToInt(rs.Enabled),
		rs.CreatedAt, rs.UpdatedAt,
	)
	return err
}

// GetRuleSet retrieves a rule set by ID with tenant isolation.
func (r *SQLRepository) GetRuleSet(ctx context.Context, tenantID string, ruleSetID string) (*domain.RuleSet, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, source_document, rules, enabled,
			   created_at, updated_at
		FROM rule_sets
		WHERE tenant_id = ? AND id = ?
	`

	rs, err := scanRuleSet(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleSetID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rs, err
}

// ListRuleSets retrieves all rule sets for a tenant, newest first.
func (r *SQLRepository) ListRuleSets(ctx context.Context, tenantID string) ([]*domain.RuleSet, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, source_document, rules, enabled,
			   created_at, updated_at
		FROM rule_sets
		WHERE tenant_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ruleSets []*domain.RuleSet
	for rows.Next() {
		rs, err := scanRuleSet(rows)
		if err != nil {
			return nil, err
		}
		ruleSets = append(ruleSets, rs)
	}

	return ruleSets, rows.Err()
}

// DeleteRuleSet removes a rule set with tenant isolation.
func (r *SQLRepository) DeleteRuleSet(ctx context.Context, tenantID string, ruleSetID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `DELETE FROM rule_sets WHERE tenant_id = ? AND id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, ruleSetID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleSet(row rowScanner) (*domain.RuleSet, error) {
	var rs domain.RuleSet
	var rules string
	var enabled int

	err := row.Scan(
		&rs.ID, &rs.TenantID, &rs.Name, &rs.SourceDocument,
		&rules, &enabled, &rs.CreatedAt, &rs.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(rules), &rs.Rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}
	rs.Enabled = enabled != 0

	return &rs, nil
}

// SaveReport stores a validation report with tenant isolation.
func (r *SQLRepository) SaveReport(ctx context.Context, tenantID string, report *domain.ValidationReport) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if report.ID == "" {
		return fmt.Errorf("%w: report ID is required", ErrInvalidInput)
	}

	metrics, err := json.Marshal(report.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	statusCounts, _ := json.Marshal(report.StatusCounts)

	query := `
		INSERT INTO reports (
			id, tenant_id, dataset_name, row_count, rule_count,
			metrics, status_counts, max_risk_score, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		report.ID, tenantID, report.DatasetName,
		report.RowCount, report.RuleCount,
		string(metrics), string(statusCounts),
		report.MaxRiskScore, report.DurationMs, report.CreatedAt,
	)
	return err
}

// GetReport retrieves a validation report by ID with tenant isolation.
func (r *SQLRepository) GetReport(ctx context.Context, tenantID string, reportID string) (*domain.ValidationReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, dataset_name, row_count, rule_count,
			   metrics, status_counts, max_risk_score, duration_ms, created_at
		FROM reports
		WHERE tenant_id = ? AND id = ?
	`

	report, err := scanReport(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, reportID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return report, err
}

// ListReports retrieves recent reports for a tenant, newest first.
func (r *SQLRepository) ListReports(ctx context.Context, tenantID string, limit int) ([]*domain.ValidationReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, dataset_name, row_count, rule_count,
			   metrics, status_counts, max_risk_score, duration_ms, created_at
		FROM reports
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*domain.ValidationReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}

	return reports, rows.Err()
}

func scanReport(row rowScanner) (*domain.ValidationReport, error) {
	var report domain.ValidationReport
	var metrics, statusCounts string

	err := row.Scan(
		&report.ID, &report.TenantID, &report.DatasetName,
		&report.RowCount, &report.RuleCount,
		&metrics, &statusCounts,
		&report.MaxRiskScore, &report.DurationMs, &report.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(metrics), &report.Metrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	if statusCounts != "" {
		json.Unmarshal([]byte(statusCounts), &report.StatusCounts)
	}

	return &report, nil
}

// Ping checks database health.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
