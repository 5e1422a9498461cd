package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Rule set operations
	SaveRuleSet(ctx context.Context, tenantID string, rs *RuleSet) error
	GetRuleSet(ctx context.Context, tenantID string, ruleSetID string) (*RuleSet, error)
	ListRuleSets(ctx context.Context, tenantID string) ([]*RuleSet, error)
	DeleteRuleSet(ctx context.Context, tenantID string, ruleSetID string) error

	// Validation report operations
	SaveReport(ctx context.Context, tenantID string, report *ValidationReport) error
	GetReport(ctx context.Context, tenantID string, reportID string) (*ValidationReport, error)
	ListReports(ctx context.Context, tenantID string, limit int) ([]*ValidationReport, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"postgresPassword" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
