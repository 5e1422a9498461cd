// Package worker provides async validation processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
)

// Worker processes validation requests asynchronously from the EventBus.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	cache  domain.Cache
	runner *pipeline.Runner

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string
}

// reportCacheTTL is how long completed reports stay in cache.
const reportCacheTTL = 15 * time.Minute

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, runner *pipeline.Runner) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		cache:  cache,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing validation requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startTenantWorker("_global")
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicValidationRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("validation worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicValidationRequested,
	)

	return nil
}

// ValidationMessage is the payload for an async validation request.
type ValidationMessage struct {
	RequestID   string        `json:"requestId"`
	TenantID    string        `json:"tenantId"`
	DatasetName string        `json:"datasetName"`
	DatasetCSV  []byte        `json:"datasetCsv"`
	RuleSetID   string        `json:"ruleSetId,omitempty"`
	Rules       []domain.Rule `json:"rules,omitempty"`
}

// CompletionMessage is published when a validation run finishes.
type CompletionMessage struct {
	RequestID    string         `json:"requestId"`
	ReportID     string         `json:"reportId"`
	DatasetName  string         `json:"datasetName"`
	MaxRiskScore int            `json:"maxRiskScore"`
	StatusCounts map[string]int `json:"statusCounts"`
}

// FailureMessage is published when a run aborts on a fatal condition.
type FailureMessage struct {
	RequestID string `json:"requestId"`
	Error     string `json:"error"`
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req ValidationMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse validation message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = msg.TenantID
	}

	return w.processValidation(ctx, tenantID, &req)
}

// processValidation runs one validation job end to end.
func (w *Worker) processValidation(ctx context.Context, tenantID string, req *ValidationMessage) error {
	slog.Debug("processing validation request",
		"request_id", req.RequestID,
		"tenant_id", tenantID,
		"dataset", req.DatasetName,
	)

	rules := req.Rules
	if len(rules) == 0 && req.RuleSetID != "" {
		if w.repo == nil {
			return w.publishFailure(ctx, tenantID, req.RequestID, errors.New("repository not available"))
		}
		rs, err := w.repo.GetRuleSet(ctx, tenantID, req.RuleSetID)
		if err != nil {
			return w.publishFailure(ctx, tenantID, req.RequestID, err)
		}
		rules = rs.Rules
	}

	rep, err := w.runner.Run(ctx, &pipeline.Input{
		TenantID:    tenantID,
		DatasetName: req.DatasetName,
		DatasetCSV:  req.DatasetCSV,
		Rules:       rules,
	})
	if err != nil {
		return w.publishFailure(ctx, tenantID, req.RequestID, err)
	}

	if w.repo != nil {
		if err := w.repo.SaveReport(ctx, tenantID, rep); err != nil {
			slog.Error("failed to save report",
				"request_id", req.RequestID,
				"report_id", rep.ID,
				"error", err,
			)
		}
	}

	if w.cache != nil {
		if err := w.cache.SetReport(ctx, tenantID, rep.ID, rep, reportCacheTTL); err != nil {
			slog.Warn("failed to cache report",
				"report_id", rep.ID,
				"error", err,
			)
		}
	}

	completion, _ := json.Marshal(CompletionMessage{
		RequestID:    req.RequestID,
		ReportID:     rep.ID,
		DatasetName:  rep.DatasetName,
		MaxRiskScore: rep.MaxRiskScore,
		StatusCounts: rep.StatusCounts,
	})
	if err := w.bus.Publish(ctx, tenantID, domain.TopicValidationCompleted, completion); err != nil {
		slog.Error("failed to publish completion",
			"request_id", req.RequestID,
			"error", err,
		)
	}

	if w.runner.IsHighRisk(rep) {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicHighRiskAlert, completion); err != nil {
			slog.Error("failed to publish high-risk alert",
				"request_id", req.RequestID,
				"error", err,
			)
		}
	}

	slog.Info("validation request processed",
		"request_id", req.RequestID,
		"tenant_id", tenantID,
		"report_id", rep.ID,
		"max_risk", rep.MaxRiskScore,
	)

	return nil
}

func (w *Worker) publishFailure(ctx context.Context, tenantID, requestID string, cause error) error {
	slog.Error("validation run failed",
		"request_id", requestID,
		"tenant_id", tenantID,
		"error", cause,
	)

	payload, _ := json.Marshal(FailureMessage{
		RequestID: requestID,
		Error:     cause.Error(),
	})
	if err := w.bus.Publish(ctx, tenantID, domain.TopicValidationFailed, payload); err != nil {
		slog.Error("failed to publish failure",
			"request_id", requestID,
			"error", err,
		)
	}
	return cause
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
