// Benchmark tool for load-testing Harrier validation runs.
//
// Usage:
//   go run cmd/benchmark/main.go -rows 50000 -url http://localhost:8080
//
// This tool:
//   1. Generates a synthetic transaction dataset (with seeded violations)
//   2. Sends the dataset plus a standard rule set to Harrier for validation
//   3. Repeats for the requested number of runs
//   4. Reports latency, throughput, and per-rule outcome distribution
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"
)

// ValidateRequest matches the Harrier POST /validate body.
type ValidateRequest struct {
	DatasetName string `json:"datasetName"`
	DatasetCSV  []byte `json:"datasetCsv"`
	Rules       []Rule `json:"rules"`
}

// Rule matches the Harrier rule format.
type Rule struct {
	ID              string   `json:"rule_id"`
	Title           string   `json:"title"`
	Severity        string   `json:"severity"`
	Status          string   `json:"status"`
	Predicate       string   `json:"predicate"`
	ColumnsRemapped []string `json:"columns_remapped,omitempty"`
}

// ValidateResponse is the subset of the report the benchmark inspects.
type ValidateResponse struct {
	ID           string         `json:"id"`
	RowCount     int            `json:"rowCount"`
	MaxRiskScore int            `json:"maxRiskScore"`
	StatusCounts map[string]int `json:"statusCounts"`
	DurationMs   int64          `json:"durationMs"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	rows := flag.Int("rows", 10000, "Rows per synthetic dataset")
	runs := flag.Int("runs", 10, "Number of validation runs")
	seed := flag.Int64("seed", 42, "RNG seed for reproducible datasets")
	verbose := flag.Bool("verbose", false, "Print each run result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          HARRIER BENCHMARK - Dataset Validation               ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nHarrier URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Rows:        %d\n", *rows)
	fmt.Printf("Runs:        %d\n", *runs)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run cmd/harrier/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Harrier is healthy")

	rng := rand.New(rand.NewSource(*seed))
	csvData := generateDataset(rng, *rows)
	fmt.Printf("✓ Generated dataset (%d rows, %d bytes)\n\n", *rows, len(csvData))

	rules := benchmarkRules()
	client := &http.Client{Timeout: 120 * time.Second}

	var (
		totalMs      int64
		engineMs     int64
		errors       int
		statusTotals = map[string]int{}
	)

	start := time.Now()
	for i := 0; i < *runs; i++ {
		runStart := time.Now()
		resp, err := runValidation(client, *baseURL, *tenantID, csvData, rules, i)
		elapsed := time.Since(runStart).Milliseconds()
		totalMs += elapsed

		if err != nil {
			errors++
			fmt.Printf("ERROR: run %d failed: %v\n", i+1, err)
			continue
		}

		engineMs += resp.DurationMs
		for status, n := range resp.StatusCounts {
			statusTotals[status] += n
		}

		if *verbose {
			fmt.Printf("run %2d | report %s | rows %d | max risk %d | engine %dms | wire %dms\n",
				i+1, resp.ID[:8], resp.RowCount, resp.MaxRiskScore, resp.DurationMs, elapsed)
		}
	}
	duration := time.Since(start)

	printResults(*runs, *rows, errors, totalMs, engineMs, statusTotals, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

var (
	countries = []string{"US", "GB", "DE", "SG", "KY", "PA", "CH", "HK"}
	currency  = []string{"USD", "EUR", "GBP"}
)

// generateDataset builds a CSV of synthetic transactions. Roughly 5% of rows
// carry large amounts so threshold rules have something to flag, and a small
// cluster of repeat accounts feeds the top-offender aggregation.
func generateDataset(rng *rand.Rand, rows int) []byte {
	var b strings.Builder
	b.WriteString("transaction_id,date,amount,sender_account,receiver_account,country,currency\n")

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repeatAccounts := []string{"ACC-9001", "ACC-9002", "ACC-9003"}

	for i := 0; i < rows; i++ {
		amount := 50 + rng.Float64()*4950
		if rng.Float64() < 0.05 {
			amount = 10_000 + rng.Float64()*90_000
		}

		sender := fmt.Sprintf("ACC-%04d", rng.Intn(2000))
		if rng.Float64() < 0.02 {
			sender = repeatAccounts[rng.Intn(len(repeatAccounts))]
		}

		ts := base.Add(time.Duration(rng.Intn(180*24)) * time.Hour)

		fmt.Fprintf(&b, "TXN-%06d,%s,%.2f,%s,ACC-%04d,%s,%s\n",
			i,
			ts.Format("2006-01-02 15:04:05"),
			amount,
			sender,
			rng.Intn(2000),
			countries[rng.Intn(len(countries))],
			currency[rng.Intn(len(currency))],
		)
	}

	return []byte(b.String())
}

// benchmarkRules is a representative rule mix: thresholds, structuring,
// jurisdiction checks, plus one skipped and one broken rule to exercise the
// degradation paths.
func benchmarkRules() []Rule {
	return []Rule{
		{
			ID:        "R-001",
			Title:     "Large cash transaction",
			Severity:  "HIGH",
			Status:    "READY",
			Predicate: "amount > 10000.0",
		},
		{
			ID:        "R-002",
			Title:     "Structuring band",
			Severity:  "MEDIUM",
			Status:    "READY",
			Predicate: "amount > 9000.0 && amount < 10000.0",
		},
		{
			ID:        "R-003",
			Title:     "High-risk jurisdiction",
			Severity:  "CRITICAL",
			Status:    "READY",
			Predicate: `country == "KY" || country == "PA"`,
		},
		{
			ID:        "R-004",
			Title:     "Manual review required",
			Severity:  "LOW",
			Status:    "needs_mapping",
			Predicate: "",
		},
		{
			ID:        "R-005",
			Title:     "Broken column reference",
			Severity:  "LOW",
			Status:    "READY",
			Predicate: "nonexistent_column > 5.0",
		},
	}
}

func runValidation(client *http.Client, baseURL, tenantID string, csvData []byte, rules []Rule, run int) (*ValidateResponse, error) {
	body, err := json.Marshal(ValidateRequest{
		DatasetName: fmt.Sprintf("benchmark-run-%d", run),
		DatasetCSV:  csvData,
		Rules:       rules,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/validate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ValidateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(runs, rows, errors int, totalMs, engineMs int64, statusTotals map[string]int, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	ok := runs - errors

	fmt.Printf("\n📊 RUN STATISTICS\n")
	fmt.Printf("   Runs:             %d\n", runs)
	fmt.Printf("   Succeeded:        %d\n", ok)
	fmt.Printf("   Errors:           %d\n", errors)

	fmt.Printf("\n📈 RULE OUTCOMES (cumulative)\n")
	for _, status := range []string{"FLAGGED", "CLEAN", "SKIPPED", "ERROR"} {
		fmt.Printf("   %-8s %d\n", status, statusTotals[status])
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if ok > 0 {
		avgWire := float64(totalMs) / float64(ok)
		avgEngine := float64(engineMs) / float64(ok)
		rowsPerSec := float64(rows*ok) / duration.Seconds()
		fmt.Printf("   Avg Run Latency:  %.2f ms (engine %.2f ms)\n", avgWire, avgEngine)
		fmt.Printf("   Throughput:       %.0f rows/sec\n", rowsPerSec)
	}
	fmt.Println()
}
