package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	runner  *pipeline.Runner
	config  domain.ServerConfig
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, runner *pipeline.Runner, cfg domain.ServerConfig, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		runner:  runner,
		config:  cfg,
		version: version,
	}
}

// rateLimitKey is the per-tenant counter for validation runs.
const rateLimitKey = "validate:rate"

// reportCacheTTL is how long reports stay cached after a run.
const reportCacheTTL = 15 * time.Minute

// ValidateRequest is the request body for POST /validate.
type ValidateRequest struct {
	DatasetName string        `json:"datasetName"`
	DatasetCSV  []byte        `json:"datasetCsv"`
	RuleSetID   string        `json:"ruleSetId,omitempty"`
	Rules       []domain.Rule `json:"rules,omitempty"`
}

// Validate handles POST /validate requests. It runs the full validation
// sequence synchronously and returns the assembled report.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if !h.allowValidation(w, r, tenantID) {
		return
	}

	req, rules, ok := h.parseValidateRequest(w, r, tenantID)
	if !ok {
		return
	}

	rep, err := h.runner.Run(ctx, &pipeline.Input{
		TenantID:    tenantID,
		DatasetName: req.DatasetName,
		DatasetCSV:  req.DatasetCSV,
		Rules:       rules,
	})
	if err != nil {
		if errors.Is(err, engine.ErrEmptyDataset) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("validation run failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveReport(ctx, tenantID, rep); err != nil {
			slog.Error("failed to save report", "report_id", rep.ID, "error", err)
		}
	}
	if h.cache != nil {
		if err := h.cache.SetReport(ctx, tenantID, rep.ID, rep, reportCacheTTL); err != nil {
			slog.Warn("failed to cache report", "report_id", rep.ID, "error", err)
		}
	}

	if h.bus != nil && h.runner.IsHighRisk(rep) {
		payload, _ := json.Marshal(map[string]any{
			"reportId":     rep.ID,
			"datasetName":  rep.DatasetName,
			"maxRiskScore": rep.MaxRiskScore,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicHighRiskAlert, payload); err != nil {
			slog.Error("failed to publish high-risk alert", "report_id", rep.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, rep)
}

// AsyncValidateResponse is the response for POST /validate/async.
type AsyncValidateResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

// ValidateAsync handles POST /validate/async requests by publishing the run
// to the event bus for a worker to pick up.
func (h *Handler) ValidateAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	if !h.allowValidation(w, r, tenantID) {
		return
	}

	req, rules, ok := h.parseValidateRequest(w, r, tenantID)
	if !ok {
		return
	}

	requestID := uuid.New().String()
	payload, err := json.Marshal(worker.ValidationMessage{
		RequestID:   requestID,
		TenantID:    tenantID,
		DatasetName: req.DatasetName,
		DatasetCSV:  req.DatasetCSV,
		RuleSetID:   req.RuleSetID,
		Rules:       rules,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to enqueue validation",
		})
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicValidationRequested, payload); err != nil {
		slog.Error("failed to publish validation request", "request_id", requestID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to enqueue validation",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, AsyncValidateResponse{
		RequestID: requestID,
		Status:    "queued",
	})
}

// parseValidateRequest decodes and validates the shared validation request
// body, resolving a rule-set reference to its rules when given.
func (h *Handler) parseValidateRequest(w http.ResponseWriter, r *http.Request, tenantID string) (*ValidateRequest, []domain.Rule, bool) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return nil, nil, false
	}

	if len(req.DatasetCSV) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "datasetCsv is required",
		})
		return nil, nil, false
	}
	if req.DatasetName == "" {
		req.DatasetName = "dataset"
	}

	rules := req.Rules
	if len(rules) == 0 && req.RuleSetID != "" {
		if h.repo == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "repository not available",
			})
			return nil, nil, false
		}
		rs, err := h.repo.GetRuleSet(r.Context(), tenantID, req.RuleSetID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{
					"error": "rule set not found",
				})
				return nil, nil, false
			}
			slog.Error("failed to load rule set", "rule_set_id", req.RuleSetID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to load rule set",
			})
			return nil, nil, false
		}
		rules = rs.Rules
	}

	return &req, rules, true
}

// allowValidation enforces the per-tenant hourly validation limit.
func (h *Handler) allowValidation(w http.ResponseWriter, r *http.Request, tenantID string) bool {
	if h.cache == nil || h.config.MaxValidationsPerHour <= 0 {
		return true
	}

	count, err := h.cache.IncrementCounter(r.Context(), tenantID, rateLimitKey, time.Hour)
	if err != nil {
		slog.Warn("rate limit counter unavailable", "tenant_id", tenantID, "error", err)
		return true
	}

	if count > int64(h.config.MaxValidationsPerHour) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "validation rate limit exceeded",
		})
		return false
	}
	return true
}

// SchemaRequest is the request body for POST /schema/summary.
type SchemaRequest struct {
	DatasetCSV []byte `json:"datasetCsv"`
}

// SchemaSummary handles POST /schema/summary requests. It returns the
// normalized column inventory used by external rule-mapping services.
func (h *Handler) SchemaSummary(w http.ResponseWriter, r *http.Request) {
	var req SchemaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.DatasetCSV) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "datasetCsv is required",
		})
		return
	}

	summary, err := h.runner.Summarize(req.DatasetCSV)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// GetReport retrieves a validation report by ID, cache first.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	reportID := chi.URLParam(r, "id")

	if reportID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "report id is required",
		})
		return
	}

	if h.cache != nil {
		if rep, err := h.cache.GetReport(ctx, tenantID, reportID); err == nil && rep != nil {
			writeJSON(w, http.StatusOK, rep)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rep, err := h.repo.GetReport(ctx, tenantID, reportID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get report", "id", reportID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "report not found",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.SetReport(ctx, tenantID, reportID, rep, reportCacheTTL)
	}

	writeJSON(w, http.StatusOK, rep)
}

// ListReports returns recent validation reports for the tenant.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	reports, err := h.repo.ListReports(ctx, tenantID, limit)
	if err != nil {
		slog.Error("failed to list reports", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list reports",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
		"count":   len(reports),
	})
}

// CreateRuleSetRequest is the request body for creating a rule set.
type CreateRuleSetRequest struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	SourceDocument string        `json:"sourceDocument,omitempty"`
	Rules          []domain.Rule `json:"rules"`
	Enabled        bool          `json:"enabled"`
}

// ListRuleSets returns all rule sets for the tenant.
func (h *Handler) ListRuleSets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	ruleSets, err := h.repo.ListRuleSets(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rule sets", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rule sets",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ruleSets": ruleSets,
		"count":    len(ruleSets),
	})
}

// GetRuleSet retrieves a rule set by ID.
func (h *Handler) GetRuleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleSetID := chi.URLParam(r, "id")

	if ruleSetID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule set id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rs, err := h.repo.GetRuleSet(ctx, tenantID, ruleSetID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get rule set", "id", ruleSetID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule set not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rs)
}

// CreateRuleSet creates or replaces a rule set.
func (h *Handler) CreateRuleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateRuleSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}
	if len(req.Rules) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one rule is required",
		})
		return
	}
	for _, rule := range req.Rules {
		if rule.ID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "every rule requires a rule_id",
			})
			return
		}
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	rs := &domain.RuleSet{
		ID:             req.ID,
		TenantID:       tenantID,
		Name:           req.Name,
		SourceDocument: req.SourceDocument,
		Rules:          req.Rules,
		Enabled:        req.Enabled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.SaveRuleSet(ctx, tenantID, rs); err != nil {
		slog.Error("failed to save rule set", "id", rs.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule set",
		})
		return
	}

	slog.Info("rule set created", "id", rs.ID, "name", rs.Name, "rules", len(rs.Rules))
	writeJSON(w, http.StatusCreated, rs)
}

// UpdateRuleSet replaces an existing rule set.
func (h *Handler) UpdateRuleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleSetID := chi.URLParam(r, "id")

	if ruleSetID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule set id is required",
		})
		return
	}

	var req CreateRuleSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	existing, err := h.repo.GetRuleSet(ctx, tenantID, ruleSetID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule set not found",
		})
		return
	}

	rs := &domain.RuleSet{
		ID:             ruleSetID,
		TenantID:       tenantID,
		Name:           req.Name,
		SourceDocument: req.SourceDocument,
		Rules:          req.Rules,
		Enabled:        req.Enabled,
		CreatedAt:      existing.CreatedAt,
		UpdatedAt:      time.Now().UTC(),
	}
	if rs.Name == "" {
		rs.Name = existing.Name
	}
	if len(rs.Rules) == 0 {
		rs.Rules = existing.Rules
	}

	if err := h.repo.SaveRuleSet(ctx, tenantID, rs); err != nil {
		slog.Error("failed to update rule set", "id", ruleSetID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update rule set",
		})
		return
	}

	slog.Info("rule set updated", "id", ruleSetID)
	writeJSON(w, http.StatusOK, rs)
}

// DeleteRuleSet removes a rule set.
func (h *Handler) DeleteRuleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleSetID := chi.URLParam(r, "id")

	if ruleSetID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule set id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.DeleteRuleSet(ctx, tenantID, ruleSetID); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to delete rule set", "id", ruleSetID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule set not found",
		})
		return
	}

	slog.Info("rule set deleted", "id", ruleSetID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule set deleted",
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
