package metrics

import (
	"sync"
	"time"
)

// ConversationMetrics holds aggregated metrics for a single conversation.
type ConversationMetrics struct {
	LastUpdated      time.Time `json:"last_updated"`
	ConversationID   string    `json:"conversation_id"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	RequestCount     int64     `json:"request_count"`
	ErrorCount       int64     `json:"error_count"`
	TotalCost        float64   `json:"total_cost"`
}

// InternalRecorder implements Recorder with in-memory aggregation per
// conversation, for status displays and tests.
type InternalRecorder struct {
	metrics map[string]*ConversationMetrics
	mu      sync.RWMutex
}

//nolint:gochecknoglobals // shared aggregate consumed by status surfaces
var (
	internalOnce     sync.Once
	internalRecorder *InternalRecorder
)

// GetInternalRecorder returns the process-wide internal recorder.
func GetInternalRecorder() *InternalRecorder {
	internalOnce.Do(func() {
		internalRecorder = NewInternalRecorder()
	})
	return internalRecorder
}

// NewInternalRecorder creates a standalone internal recorder.
func NewInternalRecorder() *InternalRecorder {
	return &InternalRecorder{
		metrics: make(map[string]*ConversationMetrics),
	}
}

// ObserveRequest accumulates request metrics for the conversation.
func (r *InternalRecorder) ObserveRequest(
	_, _, conversationID string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	_ string,
	_ time.Duration,
) {
	if conversationID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.metrics[conversationID]
	if !exists {
		m = &ConversationMetrics{ConversationID: conversationID}
		r.metrics[conversationID] = m
	}

	m.RequestCount++
	m.LastUpdated = time.Now()
	if !success {
		m.ErrorCount++
		return
	}

	m.PromptTokens += int64(promptTokens)
	m.CompletionTokens += int64(completionTokens)
	m.TotalTokens += int64(promptTokens) + int64(completionTokens)
	m.TotalCost += cost
}

// IncThrottle is a no-op for the internal recorder; throttle events are
// tracked by the limiter's own stats.
func (r *InternalRecorder) IncThrottle(_, _ string) {}

// ObserveQueueWait is a no-op for the internal recorder.
func (r *InternalRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

// GetConversationMetrics returns a copy of the metrics for one conversation.
func (r *InternalRecorder) GetConversationMetrics(conversationID string) (ConversationMetrics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.metrics[conversationID]
	if !exists {
		return ConversationMetrics{}, false
	}
	return *m, true
}

// GetAllConversationMetrics returns copies of all tracked conversations.
func (r *InternalRecorder) GetAllConversationMetrics() map[string]ConversationMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ConversationMetrics, len(r.metrics))
	for id, m := range r.metrics {
		out[id] = *m
	}
	return out
}

// Clear removes metrics for a single conversation.
func (r *InternalRecorder) Clear(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.metrics, conversationID)
}

// Reset removes all tracked metrics.
func (r *InternalRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = make(map[string]*ConversationMetrics)
}
