package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/repository"
)

const testCSV = `transaction_id,date,amount,sender_account
TXN-001,2025-01-01 09:00:00,100.00,ACC-1
TXN-002,2025-01-02 10:00:00,15000.00,ACC-2
TXN-003,2025-01-03 11:00:00,200.00,ACC-1
TXN-004,2025-01-04 12:00:00,12000.00,ACC-2
`

func testRules() []domain.Rule {
	return []domain.Rule{
		{
			ID:        "R-001",
			Title:     "Large transaction",
			Severity:  domain.SeverityHigh,
			Status:    domain.RuleStatusReady,
			Predicate: "amount > 10000.0",
		},
	}
}

// createTestServer wires a full server on sqlite, memory cache, and the
// channel bus.
func createTestServer(t *testing.T, maxValidationsPerHour int) *Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	cacheImpl := cache.NewLRUCache(100)
	t.Cleanup(func() { cacheImpl.Close() })

	busImpl := bus.NewChannelBus(100)
	t.Cleanup(func() { busImpl.Close() })

	cfg := domain.ServerConfig{
		Host:                  "localhost",
		Port:                  8080,
		ReadTimeout:           30,
		WriteTimeout:          30,
		MaxValidationsPerHour: maxValidationsPerHour,
	}

	runner := pipeline.NewRunner(domain.DefaultEngineConfig())
	return NewServer(cfg, repo, cacheImpl, busImpl, runner, "test-v1")
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-001")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestValidateEndpoint(t *testing.T) {
	server := createTestServer(t, 0)

	t.Run("SuccessfulValidation", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/validate", ValidateRequest{
			DatasetName: "test.csv",
			DatasetCSV:  []byte(testCSV),
			Rules:       testRules(),
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var rep domain.ValidationReport
		if err := json.Unmarshal(rr.Body.Bytes(), &rep); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if rep.ID == "" {
			t.Error("expected report ID")
		}
		if rep.RowCount != 4 {
			t.Errorf("expected 4 rows, got %d", rep.RowCount)
		}
		if rep.Metrics[0].ViolationCount != 2 {
			t.Errorf("expected 2 violations, got %d", rep.Metrics[0].ViolationCount)
		}
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected request ID header")
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewBufferString("{}"))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewBufferString("not-json"))
		req.Header.Set("X-Tenant-ID", "tenant-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingDataset", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/validate", ValidateRequest{
			DatasetName: "empty",
			Rules:       testRules(),
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("HeaderOnlyDataset", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/validate", ValidateRequest{
			DatasetName: "empty",
			DatasetCSV:  []byte("id,amount\n"),
			Rules:       testRules(),
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for header-only dataset, got %d", rr.Code)
		}
	})

	t.Run("BadRuleStillReturnsReport", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/validate", ValidateRequest{
			DatasetName: "test.csv",
			DatasetCSV:  []byte(testCSV),
			Rules: []domain.Rule{
				{ID: "R-bad", Severity: domain.SeverityLow, Status: domain.RuleStatusReady, Predicate: "no_such > 1.0"},
			},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var rep domain.ValidationReport
		json.Unmarshal(rr.Body.Bytes(), &rep)
		if rep.StatusCounts["ERROR"] != 1 {
			t.Errorf("expected 1 ERROR metric, got %v", rep.StatusCounts)
		}
	})
}

func TestRateLimiting(t *testing.T) {
	server := createTestServer(t, 2)

	body := ValidateRequest{
		DatasetName: "test.csv",
		DatasetCSV:  []byte(testCSV),
		Rules:       testRules(),
	}

	for i := 0; i < 2; i++ {
		rr := doJSON(t, server, http.MethodPost, "/validate", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i+1, rr.Code)
		}
	}

	rr := doJSON(t, server, http.MethodPost, "/validate", body)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429 after limit, got %d", rr.Code)
	}
}

func TestValidateAsyncEndpoint(t *testing.T) {
	server := createTestServer(t, 0)

	rr := doJSON(t, server, http.MethodPost, "/validate/async", ValidateRequest{
		DatasetName: "test.csv",
		DatasetCSV:  []byte(testCSV),
		Rules:       testRules(),
	})

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp AsyncValidateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.RequestID == "" {
		t.Error("expected request ID")
	}
	if resp.Status != "queued" {
		t.Errorf("expected queued, got %s", resp.Status)
	}
}

func TestSchemaSummaryEndpoint(t *testing.T) {
	server := createTestServer(t, 0)

	rr := doJSON(t, server, http.MethodPost, "/schema/summary", SchemaRequest{
		DatasetCSV: []byte(testCSV),
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var summary struct {
		Columns []string          `json:"columns"`
		Types   map[string]string `json:"types"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(summary.Columns) != 4 {
		t.Errorf("expected 4 columns, got %d", len(summary.Columns))
	}
	if summary.Types["date"] != "temporal" {
		t.Errorf("expected temporal date column, got %q", summary.Types["date"])
	}
}

func TestRuleSetCRUD(t *testing.T) {
	server := createTestServer(t, 0)

	var created domain.RuleSet

	t.Run("Create", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rulesets", CreateRuleSetRequest{
			Name:           "AML Policy",
			SourceDocument: "aml-2025.pdf",
			Rules:          testRules(),
			Enabled:        true,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if created.ID == "" {
			t.Error("expected generated rule set ID")
		}
	})

	t.Run("CreateRequiresRules", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rulesets", CreateRuleSetRequest{
			Name: "Empty",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Get", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/rulesets/"+created.ID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var rs domain.RuleSet
		json.Unmarshal(rr.Body.Bytes(), &rs)
		if rs.Name != "AML Policy" {
			t.Errorf("expected AML Policy, got %q", rs.Name)
		}
	})

	t.Run("List", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/rulesets", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 rule set, got %d", resp.Count)
		}
	})

	t.Run("ValidateByRuleSetID", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/validate", ValidateRequest{
			DatasetName: "test.csv",
			DatasetCSV:  []byte(testCSV),
			RuleSetID:   created.ID,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var rep domain.ValidationReport
		json.Unmarshal(rr.Body.Bytes(), &rep)
		if rep.RuleCount != 1 {
			t.Errorf("expected 1 rule from rule set, got %d", rep.RuleCount)
		}
	})

	t.Run("Update", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPut, "/rulesets/"+created.ID, CreateRuleSetRequest{
			Name:  "AML Policy v2",
			Rules: testRules(),
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var rs domain.RuleSet
		json.Unmarshal(rr.Body.Bytes(), &rs)
		if rs.Name != "AML Policy v2" {
			t.Errorf("expected updated name, got %q", rs.Name)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodDelete, "/rulesets/"+created.ID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		rr = doJSON(t, server, http.MethodGet, "/rulesets/"+created.ID, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 after delete, got %d", rr.Code)
		}
	})

	t.Run("ValidateByMissingRuleSetID", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/validate", ValidateRequest{
			DatasetName: "test.csv",
			DatasetCSV:  []byte(testCSV),
			RuleSetID:   "no-such-rule-set",
		})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestReportEndpoints(t *testing.T) {
	server := createTestServer(t, 0)

	// Run a validation to produce a persisted report
	rr := doJSON(t, server, http.MethodPost, "/validate", ValidateRequest{
		DatasetName: "test.csv",
		DatasetCSV:  []byte(testCSV),
		Rules:       testRules(),
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("validation failed: %d", rr.Code)
	}

	var rep domain.ValidationReport
	json.Unmarshal(rr.Body.Bytes(), &rep)

	t.Run("GetByID", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/reports/"+rep.ID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var fetched domain.ValidationReport
		json.Unmarshal(rr.Body.Bytes(), &fetched)
		if fetched.ID != rep.ID {
			t.Errorf("expected report %s, got %s", rep.ID, fetched.ID)
		}
	})

	t.Run("List", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/reports?limit=10", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 report, got %d", resp.Count)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/reports/no-such-report", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t, 0)

	t.Run("Health", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %q", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %q", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestCORSPreflight(t *testing.T) {
	server := createTestServer(t, 0)

	req := httptest.NewRequest(http.MethodOptions, "/validate", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for preflight, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Errorf("unexpected allow-origin %q", got)
	}
}

func TestTenantIsolationAcrossRequests(t *testing.T) {
	server := createTestServer(t, 0)

	// Create a rule set as tenant-001
	rr := doJSON(t, server, http.MethodPost, "/rulesets", CreateRuleSetRequest{
		Name:  "Private",
		Rules: testRules(),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", rr.Code)
	}
	var created domain.RuleSet
	json.Unmarshal(rr.Body.Bytes(), &created)

	// Fetch as tenant-002
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/rulesets/%s", created.ID), nil)
	req.Header.Set("X-Tenant-ID", "tenant-002")
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected 404 for cross-tenant access, got %d", recorder.Code)
	}
}
