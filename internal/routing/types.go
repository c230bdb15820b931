package routing

import (
	"encoding/json"

	"github.com/relayforge/modelmux/internal/registry"
)

// Input is the opaque task payload. The engine never inspects it beyond
// normalization for cache fingerprinting; provider adapters translate it
// into provider-specific API calls.
type Input = json.RawMessage

// Payload is the opaque provider result.
type Payload = json.RawMessage

// Constraints are the caller-supplied routing constraints for one request.
// The zero value means: standard budget, fallback enabled, no caps.
type Constraints struct {
	// BudgetTier is the cost ceiling by tier; empty means standard.
	BudgetTier registry.CostTier `json:"budget_tier,omitempty"`

	// MaxCostPer1K is an explicit USD-per-1k-tokens ceiling. When set, an
	// entry must satisfy it in addition to the tier check.
	MaxCostPer1K float64 `json:"max_cost_per_1k,omitempty"`

	// MinConfidence excludes entries that declare a quality score below
	// this threshold. Entries without a declared score always pass.
	MinConfidence float64 `json:"min_confidence,omitempty"`

	RequireSafetyFilter bool `json:"require_safety_filter,omitempty"`
	ContextLengthNeeded int  `json:"context_length_needed,omitempty"`
	Multilingual        bool `json:"multilingual,omitempty"`

	// AllowExperimental opts in to experimental-tier entries. They are
	// never selected without this.
	AllowExperimental bool `json:"allow_experimental,omitempty"`

	// DisableFallback limits the request to a single candidate attempt.
	DisableFallback bool `json:"disable_fallback,omitempty"`

	// MaxCandidates caps the chain length; 0 means no cap.
	MaxCandidates int `json:"max_candidates,omitempty"`

	// Generation knobs, opaque to routing and forwarded to the adapter.
	Temperature  float64 `json:"temperature,omitempty"`
	MaxNewTokens int     `json:"max_new_tokens,omitempty"`

	// DryRun evaluates the candidate chain without dispatching. The
	// dashboard "test routing" path and production share this entry point
	// so the two can never drift.
	DryRun bool `json:"dry_run,omitempty"`
}

// Budget returns the effective budget tier.
func (c Constraints) Budget() registry.CostTier {
	if c.BudgetTier == "" {
		return registry.CostStandard
	}
	return c.BudgetTier
}

// ProviderRequest is what an adapter receives for one attempt. Task is the
// canonical family; adapters use it to pick the provider endpoint.
type ProviderRequest struct {
	Task         string  `json:"task"`
	Input        Input   `json:"input"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxNewTokens int     `json:"max_new_tokens,omitempty"`
	SafetyFilter bool    `json:"safety_filter,omitempty"`
}

// Attempt records one candidate dispatch for observability.
type Attempt struct {
	Provider     string     `json:"provider"`
	ModelID      string     `json:"model_id"`
	AttemptIndex int        `json:"attempt_index"`
	LatencyMs    int64      `json:"latency_ms"`
	OK           bool       `json:"ok"`
	ErrorClass   ErrorClass `json:"error_class,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Candidate is one evaluated chain position, reported on dry runs.
type Candidate struct {
	Provider string        `json:"provider"`
	ModelID  string        `json:"model_id"`
	Tier     registry.Tier `json:"tier"`
}

// Result is the outcome of a successful (or dry-run) route call.
type Result struct {
	TaskFamily    string  `json:"task_family"`
	Provider      string  `json:"provider,omitempty"`
	ModelID       string  `json:"model_id,omitempty"`
	Payload       Payload `json:"payload,omitempty"`
	LatencyMs     int64   `json:"latency_ms"`
	AttemptIndex  int     `json:"attempt_index"`
	FallbacksUsed int     `json:"fallbacks_used"`
	CacheHit      bool    `json:"cache_hit"`

	// Attempts is the per-candidate dispatch log for this request.
	Attempts []Attempt `json:"attempts,omitempty"`

	// Candidates is only populated on dry runs.
	Candidates []Candidate `json:"candidates,omitempty"`
}
