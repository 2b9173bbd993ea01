// Package metrics queries aggregated token and cost data back out of
// Prometheus. The middleware records llm_tokens_total and llm_costs_total
// per conversation; this service answers "what did that run cost" after the
// fact.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ConversationMetrics represents aggregated metrics for one conversation.
type ConversationMetrics struct {
	ConversationID   string  `json:"conversation_id"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetConversationMetrics retrieves aggregated token and cost metrics for a
// specific conversation, summed across every provider and model that served
// a turn of it.
func (q *QueryService) GetConversationMetrics(ctx context.Context, conversationID string) (*ConversationMetrics, error) {
	metrics := &ConversationMetrics{
		ConversationID: conversationID,
	}

	promptTokensQuery := fmt.Sprintf(`sum(llm_tokens_total{conversation_id=%q, type="prompt"})`, conversationID)
	promptResult, _, err := q.queryAPI.Query(ctx, promptTokensQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}

	if vector, ok := promptResult.(model.Vector); ok && len(vector) > 0 {
		metrics.PromptTokens = int64(vector[0].Value)
	}

	completionTokensQuery := fmt.Sprintf(`sum(llm_tokens_total{conversation_id=%q, type="completion"})`, conversationID)
	completionResult, _, err := q.queryAPI.Query(ctx, completionTokensQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}

	if vector, ok := completionResult.(model.Vector); ok && len(vector) > 0 {
		metrics.CompletionTokens = int64(vector[0].Value)
	}

	metrics.TotalTokens = metrics.PromptTokens + metrics.CompletionTokens

	costQuery := fmt.Sprintf(`sum(llm_costs_total{conversation_id=%q})`, conversationID)
	costResult, _, err := q.queryAPI.Query(ctx, costQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query total cost: %w", err)
	}

	if vector, ok := costResult.(model.Vector); ok && len(vector) > 0 {
		metrics.TotalCost = float64(vector[0].Value)
	}

	return metrics, nil
}

// GetConversationMetricsByModel retrieves metrics broken down by model for a
// specific conversation. With failover in play a single conversation can be
// served by several models; this shows which ones and what each cost.
func (q *QueryService) GetConversationMetricsByModel(ctx context.Context, conversationID string) (map[string]*ConversationMetrics, error) {
	result := make(map[string]*ConversationMetrics)

	modelsQuery := fmt.Sprintf(`group by (model) (llm_tokens_total{conversation_id=%q})`, conversationID)
	modelsResult, _, err := q.queryAPI.Query(ctx, modelsQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}

	var models []string
	if vector, ok := modelsResult.(model.Vector); ok {
		for _, sample := range vector {
			if modelName, ok := sample.Metric["model"]; ok {
				models = append(models, string(modelName))
			}
		}
	}

	for _, modelName := range models {
		metrics := &ConversationMetrics{
			ConversationID: conversationID,
		}

		promptQuery := fmt.Sprintf(`sum(llm_tokens_total{conversation_id=%q, model=%q, type="prompt"})`, conversationID, modelName)
		promptResult, _, err := q.queryAPI.Query(ctx, promptQuery, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to query prompt tokens for model %s: %w", modelName, err)
		}

		if vector, ok := promptResult.(model.Vector); ok && len(vector) > 0 {
			metrics.PromptTokens = int64(vector[0].Value)
		}

		completionQuery := fmt.Sprintf(`sum(llm_tokens_total{conversation_id=%q, model=%q, type="completion"})`, conversationID, modelName)
		completionResult, _, err := q.queryAPI.Query(ctx, completionQuery, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to query completion tokens for model %s: %w", modelName, err)
		}

		if vector, ok := completionResult.(model.Vector); ok && len(vector) > 0 {
			metrics.CompletionTokens = int64(vector[0].Value)
		}

		metrics.TotalTokens = metrics.PromptTokens + metrics.CompletionTokens

		costQuery := fmt.Sprintf(`sum(llm_costs_total{conversation_id=%q, model=%q})`, conversationID, modelName)
		costResult, _, err := q.queryAPI.Query(ctx, costQuery, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to query cost for model %s: %w", modelName, err)
		}

		if vector, ok := costResult.(model.Vector); ok && len(vector) > 0 {
			metrics.TotalCost = float64(vector[0].Value)
		}

		result[modelName] = metrics
	}

	return result, nil
}
