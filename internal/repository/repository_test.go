package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSQLiteRuleSets(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	rs := &domain.RuleSet{
		ID:             "rs-001",
		Name:           "AML Policy Q3",
		SourceDocument: "aml-policy-2025.pdf",
		Rules: []domain.Rule{
			{
				ID:        "R-001",
				Title:     "Large transaction",
				Severity:  domain.SeverityHigh,
				Status:    domain.RuleStatusReady,
				Predicate: "amount > 10000.0",
				ColumnsRemapped: []domain.ColumnMapping{
					{Generic: "amount", Actual: "Amount_Paid"},
				},
			},
			{
				ID:       "R-002",
				Title:    "Unmappable rule",
				Severity: domain.SeverityLow,
				Status:   domain.RuleStatusSkipped,
			},
		},
		Enabled: true,
	}

	t.Run("SaveAndGet", func(t *testing.T) {
		if err := repo.SaveRuleSet(ctx, tenantID, rs); err != nil {
			t.Fatalf("SaveRuleSet failed: %v", err)
		}

		retrieved, err := repo.GetRuleSet(ctx, tenantID, rs.ID)
		if err != nil {
			t.Fatalf("GetRuleSet failed: %v", err)
		}

		if retrieved.Name != rs.Name {
			t.Errorf("expected name %q, got %q", rs.Name, retrieved.Name)
		}
		if len(retrieved.Rules) != 2 {
			t.Fatalf("expected 2 rules, got %d", len(retrieved.Rules))
		}
		if retrieved.Rules[0].Predicate != "amount > 10000.0" {
			t.Errorf("rule predicate lost on round trip: %q", retrieved.Rules[0].Predicate)
		}
		if len(retrieved.Rules[0].ColumnsRemapped) != 1 {
			t.Errorf("column mappings lost on round trip")
		}
		if !retrieved.Enabled {
			t.Error("enabled flag lost on round trip")
		}
	})

	t.Run("SaveReplacesExisting", func(t *testing.T) {
		updated := *rs
		updated.Name = "AML Policy Q4"
		if err := repo.SaveRuleSet(ctx, tenantID, &updated); err != nil {
			t.Fatalf("SaveRuleSet failed: %v", err)
		}

		retrieved, err := repo.GetRuleSet(ctx, tenantID, rs.ID)
		if err != nil {
			t.Fatalf("GetRuleSet failed: %v", err)
		}
		if retrieved.Name != "AML Policy Q4" {
			t.Errorf("expected replaced name, got %q", retrieved.Name)
		}

		all, err := repo.ListRuleSets(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRuleSets failed: %v", err)
		}
		if len(all) != 1 {
			t.Errorf("expected 1 rule set after replace, got %d", len(all))
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetRuleSet(ctx, "tenant-002", rs.ID)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := repo.SaveRuleSet(ctx, "", rs); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := repo.GetRuleSet(ctx, "", rs.ID); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.DeleteRuleSet(ctx, tenantID, rs.ID); err != nil {
			t.Fatalf("DeleteRuleSet failed: %v", err)
		}
		if _, err := repo.GetRuleSet(ctx, tenantID, rs.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.DeleteRuleSet(ctx, tenantID, rs.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for second delete, got %v", err)
		}
	})
}

func TestSQLiteReports(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	report := &domain.ValidationReport{
		ID:          "rep-001",
		DatasetName: "q3-transactions.csv",
		RowCount:    5000,
		RuleCount:   3,
		Metrics: []domain.RuleMetric{
			{
				RuleID:              "R-001",
				Title:               "Large transaction",
				Severity:            domain.SeverityHigh,
				Status:              domain.MetricStatusFlagged,
				RiskScore:           6,
				ViolationCount:      42,
				UniqueAccounts:      7,
				TotalAmountExposure: 1_250_000,
				AvgAmount:           29761.90,
				DateRange:           "2025-01-02 10:00 to 2025-03-04 12:00",
				TopOffenders:        []string{"ACC-1 (12 txns)"},
				SampleRows:          []map[string]any{{"amount": 15000.0}},
			},
			{RuleID: "R-002", Status: domain.MetricStatusClean, RiskScore: 3, DateRange: "N/A"},
			{RuleID: "R-003", Status: domain.MetricStatusSkipped, DateRange: "N/A"},
		},
		StatusCounts: map[string]int{"FLAGGED": 1, "CLEAN": 1, "SKIPPED": 1},
		MaxRiskScore: 6,
		DurationMs:   120,
		CreatedAt:    time.Now().UTC(),
	}

	t.Run("SaveAndGet", func(t *testing.T) {
		if err := repo.SaveReport(ctx, tenantID, report); err != nil {
			t.Fatalf("SaveReport failed: %v", err)
		}

		retrieved, err := repo.GetReport(ctx, tenantID, report.ID)
		if err != nil {
			t.Fatalf("GetReport failed: %v", err)
		}

		if retrieved.MaxRiskScore != 6 {
			t.Errorf("expected max risk 6, got %d", retrieved.MaxRiskScore)
		}
		if len(retrieved.Metrics) != 3 {
			t.Fatalf("expected 3 metrics, got %d", len(retrieved.Metrics))
		}
		if retrieved.Metrics[0].RuleID != "R-001" {
			t.Errorf("metric order lost on round trip")
		}
		if retrieved.Metrics[0].TotalAmountExposure != 1_250_000 {
			t.Errorf("exposure lost on round trip: %v", retrieved.Metrics[0].TotalAmountExposure)
		}
		if retrieved.StatusCounts["FLAGGED"] != 1 {
			t.Errorf("status counts lost on round trip")
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			r := *report
			r.ID = fmt.Sprintf("rep-extra-%d", i)
			r.CreatedAt = time.Now().UTC().Add(time.Duration(i+1) * time.Hour)
			if err := repo.SaveReport(ctx, tenantID, &r); err != nil {
				t.Fatalf("SaveReport failed: %v", err)
			}
		}

		reports, err := repo.ListReports(ctx, tenantID, 2)
		if err != nil {
			t.Fatalf("ListReports failed: %v", err)
		}
		if len(reports) != 2 {
			t.Fatalf("expected 2 reports with limit, got %d", len(reports))
		}
		if reports[0].ID != "rep-extra-2" {
			t.Errorf("expected newest first, got %s", reports[0].ID)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetReport(ctx, "tenant-002", report.ID)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got %v", err)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.GetReport(ctx, tenantID, "no-such-report")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestRebind(t *testing.T) {
	r := &SQLRepository{driver: "postgres"}
	got := r.rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	want := "SELECT * FROM t WHERE a = $1 AND b = $2"
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}

	r.driver = "sqlite"
	passthrough := "SELECT * FROM t WHERE a = ?"
	if got := r.rebind(passthrough); got != passthrough {
		t.Errorf("sqlite rebind should pass through, got %q", got)
	}
}
