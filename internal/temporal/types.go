package temporal

import (
	"encoding/json"

	"github.com/relayforge/modelmux/internal/routing"
)

// RouteInput is the input for the RouteWorkflow.
type RouteInput struct {
	RequestID   string              `json:"request_id"`
	Task        string              `json:"task"`
	Input       json.RawMessage     `json:"input"`
	Constraints routing.Constraints `json:"constraints"`
}

// RouteOutput is the output of the RouteWorkflow.
type RouteOutput struct {
	TaskFamily    string          `json:"task_family"`
	Provider      string          `json:"provider,omitempty"`
	ModelID       string          `json:"model_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	LatencyMs     int64           `json:"latency_ms"`
	AttemptIndex  int             `json:"attempt_index"`
	FallbacksUsed int             `json:"fallbacks_used"`
	Attempts      []routing.Attempt `json:"attempts,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// ChainPlan is the output of the EvaluateChain activity: the ranked
// candidate chain plus the attempt budget derived from the task config.
type ChainPlan struct {
	Family           string              `json:"family"`
	Candidates       []routing.Candidate `json:"candidates"`
	MaxAttempts      int                 `json:"max_attempts"`
	AttemptTimeoutMs int64               `json:"attempt_timeout_ms"`
}

// InvokeInput is the input for the InvokeModel activity.
type InvokeInput struct {
	Provider  string                  `json:"provider"`
	ModelID   string                  `json:"model_id"`
	Request   routing.ProviderRequest `json:"request"`
	TimeoutMs int64                   `json:"timeout_ms"`
}

// InvokeOutput is the output of the InvokeModel activity.
type InvokeOutput struct {
	Payload    json.RawMessage `json:"payload"`
	LatencyMs  int64           `json:"latency_ms"`
	ErrorClass string          `json:"error_class,omitempty"`
}

// RecordInput is the input for the RecordOutcome activity.
type RecordInput struct {
	RequestID  string `json:"request_id"`
	TaskFamily string `json:"task_family"`
	Provider   string `json:"provider,omitempty"`
	ModelID    string `json:"model_id,omitempty"`
	LatencyMs  int64  `json:"latency_ms"`
	Fallbacks  int    `json:"fallbacks"`
	Success    bool   `json:"success"`
	Outcome    string `json:"outcome"`
	ErrorClass string `json:"error_class,omitempty"`
}
